package httpadapter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nkuznetsov/docpipe/internal/config"
	"github.com/nkuznetsov/docpipe/internal/core/domain"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
	"github.com/nkuznetsov/docpipe/internal/observability/metrics"
)

const (
	ownerIDHeader = "X-Owner-Id"

	// Room for multipart boundaries and form fields on top of the file
	// size cap itself.
	multipartOverheadBytes = 1 << 20

	backpressureWait  = 100 * time.Millisecond
	sseHeartbeatEvery = 15 * time.Second
)

type Router struct {
	submitUC  ports.JobSubmitter
	queryUC   ports.JobReader
	contentUC ports.JobContentReader
	stream    ports.StatusStream
	metrics   *metrics.HTTPServerMetrics
	cfg       config.Config
}

func NewRouter(
	submitUC ports.JobSubmitter,
	queryUC ports.JobReader,
	contentUC ports.JobContentReader,
	stream ports.StatusStream,
	cfg config.Config,
	m *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		submitUC:  submitUC,
		queryUC:   queryUC,
		contentUC: contentUC,
		stream:    stream,
		metrics:   m,
		cfg:       cfg,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/jobs", rt.jobs)
	mux.HandleFunc("/v1/jobs/events", rt.streamEvents)
	mux.HandleFunc("/v1/jobs/summary", rt.jobSummary)
	mux.HandleFunc("/v1/jobs/", rt.getJobByID)

	var handler http.Handler = mux
	handler = rt.metricsMiddleware(handler)
	handler = backpressureMiddleware(handler, rt.cfg.APIMaxConcurrent, backpressureWait)
	handler = rateLimitMiddleware(handler, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)
	handler = accessLogMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		rt.uploadJob(w, r)
	case http.MethodGet:
		rt.listJobs(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (rt *Router) uploadJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, rt.cfg.MaxUploadBytes+multipartOverheadBytes)

	file, fileHeader, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds the %d byte limit", rt.cfg.MaxUploadBytes),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	ownerID := ownerFromRequest(r)
	mimeType := fileHeader.Header.Get("Content-Type")

	job, err := rt.submitUC.Submit(
		r.Context(),
		ownerID,
		fileHeader.Filename,
		mimeType,
		fileHeader.Size,
		file,
	)
	if rt.metrics != nil {
		rt.metrics.ObserveUpload("api", mimeType, err)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) listJobs(w http.ResponseWriter, r *http.Request) {
	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	q := r.URL.Query()

	filter := domain.JobFilter{
		MimeTypeContains: strings.TrimSpace(q.Get("type")),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := domain.JobStatus(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": fmt.Sprintf("unknown status %q", raw),
			})
			return
		}
		filter.Status = status
	}

	sort := domain.JobSort{
		Field: strings.TrimSpace(q.Get("sortBy")),
		Order: domain.SortAsc,
	}
	if strings.EqualFold(q.Get("sortOrder"), string(domain.SortDesc)) {
		sort.Order = domain.SortDesc
	}

	page := domain.JobPage{
		Page:  atoiOrZero(q.Get("page")),
		Limit: atoiOrZero(q.Get("limit")),
	}

	listing, err := rt.queryUC.ListJobs(r.Context(), ownerID, filter, sort, page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (rt *Router) getJobByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/jobs/")
	if rest, ok := strings.CutSuffix(id, "/content"); ok {
		id = rest
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
			return
		}
		rt.downloadJobContent(w, r, id)
		return
	}
	if id == "" || strings.Contains(id, "/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job id is required"})
		return
	}

	job, err := rt.queryUC.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// downloadJobContent returns the stored original bytes base64-encoded, so
// the payload survives any JSON-only client in between.
func (rt *Router) downloadJobContent(w http.ResponseWriter, r *http.Request, id string) {
	job, reader, err := rt.contentUC.OpenJobContent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		writeError(w, domain.WrapError(domain.ErrStorageUnavailable, "read stored bytes", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":             job.ID,
		"original_name":  job.OriginalName,
		"mime_type":      job.MimeType,
		"content_base64": base64.StdEncoding.EncodeToString(raw),
	})
}

func (rt *Router) jobSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	ownerID := ownerFromRequest(r)
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner id is required"})
		return
	}

	summary, err := rt.queryUC.SummarizeJobs(r.Context(), ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// streamEvents pushes live status transitions as server-sent events. Only
// events published while the client is connected are delivered; there is no
// replay of earlier transitions.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming is not supported"})
		return
	}

	jobID := strings.TrimSpace(r.URL.Query().Get("job_id"))

	// Buffered so a slow client drops events instead of blocking the
	// notifier callback.
	events := make(chan domain.StatusEvent, 64)
	unsubscribe, err := rt.stream.Subscribe(r.Context(), func(event domain.StatusEvent) {
		if jobID != "" && event.JobID != jobID {
			return
		}
		select {
		case events <- event:
		default:
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(sseHeartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event := <-events:
			payload, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: status\ndata: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (rt *Router) metricsMiddleware(next http.Handler) http.Handler {
	if rt.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rt.metrics.RequestStarted()
		defer rt.metrics.RequestFinished()

		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(recorder, r)

		rt.metrics.ObserveRequest("api", r.Method, normalizePath(r.URL.Path), recorder.statusCode, time.Since(start))
	})
}

// normalizePath keeps metric label cardinality bounded by collapsing job ids.
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/v1/jobs/") {
		return path
	}
	switch {
	case path == "/v1/jobs/events", path == "/v1/jobs/summary":
		return path
	case strings.HasSuffix(path, "/content"):
		return "/v1/jobs/{id}/content"
	default:
		return "/v1/jobs/{id}"
	}
}

func ownerFromRequest(r *http.Request) string {
	if owner := strings.TrimSpace(r.Header.Get(ownerIDHeader)); owner != "" {
		return owner
	}
	return strings.TrimSpace(r.FormValue("owner_id"))
}

func atoiOrZero(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
