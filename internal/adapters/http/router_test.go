package httpadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nkuznetsov/docpipe/internal/config"
	"github.com/nkuznetsov/docpipe/internal/core/domain"
)

type submitFake struct {
	err      error
	lastName string
	lastMime string
	lastSize int64
	owner    string
}

func (f *submitFake) Submit(_ context.Context, ownerID, originalName, mimeType string, sizeBytes int64, body io.Reader) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := io.ReadAll(body); err != nil {
		return nil, err
	}
	f.owner = ownerID
	f.lastName = originalName
	f.lastMime = mimeType
	f.lastSize = sizeBytes

	now := time.Now().UTC()
	return &domain.Job{
		ID:           "job-1",
		OwnerID:      ownerID,
		OriginalName: originalName,
		MimeType:     mimeType,
		SizeBytes:    sizeBytes,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

type readerFake struct {
	err error

	lastOwner  string
	lastFilter domain.JobFilter
	lastSort   domain.JobSort
	lastPage   domain.JobPage
}

func (f *readerFake) GetJob(_ context.Context, id string) (*domain.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Job{ID: id, OwnerID: "owner-1", Status: domain.StatusCompleted, ExtractedContent: "text"}, nil
}

func (f *readerFake) ListJobs(_ context.Context, ownerID string, filter domain.JobFilter, sort domain.JobSort, page domain.JobPage) (*domain.JobListing, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOwner = ownerID
	f.lastFilter = filter
	f.lastSort = sort
	f.lastPage = page
	page = page.Normalize()
	return &domain.JobListing{Page: page.Page, Limit: page.Limit, Total: 1, TotalPages: 1, Jobs: []domain.Job{{ID: "job-1"}}}, nil
}

func (f *readerFake) SummarizeJobs(_ context.Context, ownerID string) (*domain.JobSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.lastOwner = ownerID
	return &domain.JobSummary{
		Total:  3,
		Failed: 1,
		ByStatus: map[domain.JobStatus]int{
			domain.StatusCompleted: 2,
			domain.StatusFailed:    1,
		},
		ByMimeType: map[string]int{"application/pdf": 2, "text/csv": 1},
	}, nil
}

type contentFake struct {
	err     error
	payload string
	lastID  string
}

func (f *contentFake) OpenJobContent(_ context.Context, id string) (*domain.Job, io.ReadCloser, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.lastID = id
	job := &domain.Job{ID: id, OriginalName: "a.pdf", MimeType: "application/pdf", Status: domain.StatusCompleted}
	return job, io.NopCloser(strings.NewReader(f.payload)), nil
}

type streamFake struct {
	mu      sync.Mutex
	handler func(domain.StatusEvent)
}

func (s *streamFake) Subscribe(_ context.Context, handler func(domain.StatusEvent)) (func(), error) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
	return func() {}, nil
}

func (s *streamFake) Emit(event domain.StatusEvent) bool {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return false
	}
	handler(event)
	return true
}

func testConfig() config.Config {
	return config.Config{MaxUploadBytes: 50 << 20}
}

func newTestRouter(submit *submitFake, reader *readerFake, content *contentFake, stream *streamFake, cfg config.Config) http.Handler {
	if submit == nil {
		submit = &submitFake{}
	}
	if reader == nil {
		reader = &readerFake{}
	}
	if content == nil {
		content = &contentFake{}
	}
	if stream == nil {
		stream = &streamFake{}
	}
	return NewRouter(submit, reader, content, stream, cfg, nil).Handler()
}

func multipartBody(t *testing.T, filename, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("CreatePart() error = %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthzEndpoint(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestUploadJobAccepted(t *testing.T) {
	submit := &submitFake{}
	handler := newTestRouter(submit, nil, nil, nil, testConfig())

	body, contentType := multipartBody(t, "report.pdf", "application/pdf", []byte("%PDF-1.4 data"))
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", res.Code, res.Body.String())
	}

	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "job-1" || resp["status"] != "pending" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if submit.owner != "owner-1" || submit.lastName != "report.pdf" || submit.lastMime != "application/pdf" {
		t.Fatalf("submit saw owner=%q name=%q mime=%q", submit.owner, submit.lastName, submit.lastMime)
	}
	if submit.lastSize != int64(len("%PDF-1.4 data")) {
		t.Fatalf("submit saw size %d", submit.lastSize)
	}
}

func TestUploadJobMissingMultipartField(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString("plain-text"))
	req.Header.Set("Content-Type", "text/plain")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadJobOversizedBodyReturns413(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadBytes = 16
	handler := newTestRouter(nil, nil, nil, nil, cfg)

	payload := bytes.Repeat([]byte("x"), 2<<20)
	body, contentType := multipartBody(t, "big.csv", "text/csv", payload)
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", res.Code)
	}
}

func TestUploadJobMapsDomainInvalidInputTo400(t *testing.T) {
	submit := &submitFake{err: domain.WrapError(domain.ErrInvalidInput, "submit", errors.New("mime type is not allowed"))}
	handler := newTestRouter(submit, nil, nil, nil, testConfig())

	body, contentType := multipartBody(t, "archive.zip", "application/zip", []byte("PK"))
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestUploadJobMapsStorageUnavailableTo503(t *testing.T) {
	submit := &submitFake{err: domain.WrapError(domain.ErrStorageUnavailable, "submit", errors.New("disk full"))}
	handler := newTestRouter(submit, nil, nil, nil, testConfig())

	body, contentType := multipartBody(t, "report.pdf", "application/pdf", []byte("%PDF"))
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", res.Code)
	}
}

func TestGetJobByIDReturns404ForNotFound(t *testing.T) {
	reader := &readerFake{err: domain.WrapError(domain.ErrJobNotFound, "get", errors.New("id=missing"))}
	handler := newTestRouter(nil, reader, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.Code)
	}
}

func TestGetJobByIDSuccess(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != "job-1" || resp["extracted_content"] != "text" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestListJobsPassesFilterSortAndPage(t *testing.T) {
	reader := &readerFake{}
	handler := newTestRouter(nil, reader, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet,
		"/v1/jobs?page=2&limit=5&status=completed&type=pdf&sortBy=size_bytes&sortOrder=desc", nil)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if reader.lastOwner != "owner-1" {
		t.Fatalf("owner = %q", reader.lastOwner)
	}
	if reader.lastFilter.Status != domain.StatusCompleted || reader.lastFilter.MimeTypeContains != "pdf" {
		t.Fatalf("filter = %+v", reader.lastFilter)
	}
	if reader.lastSort.Field != "size_bytes" || reader.lastSort.Order != domain.SortDesc {
		t.Fatalf("sort = %+v", reader.lastSort)
	}
	if reader.lastPage.Page != 2 || reader.lastPage.Limit != 5 {
		t.Fatalf("page = %+v", reader.lastPage)
	}
}

func TestListJobsRequiresOwner(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestListJobsRejectsUnknownStatus(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs?status=archived", nil)
	req.Header.Set("X-Owner-Id", "owner-1")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestStreamEventsDeliversStatusTransitions(t *testing.T) {
	stream := &streamFake{}
	handler := newTestRouter(nil, nil, nil, stream, testConfig())

	server := httptest.NewServer(handler)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/jobs/events?job_id=job-1", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	res, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if got := res.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("content type = %q", got)
	}

	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			// Events for other jobs must not reach this subscriber.
			stream.Emit(domain.StatusEvent{JobID: "job-9", Status: domain.StatusFailed})
			if stream.Emit(domain.StatusEvent{JobID: "job-1", Status: domain.StatusProcessing}) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(res.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no data frame received: %v", scanner.Err())
	}

	var event domain.StatusEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.JobID != "job-1" || event.Status != domain.StatusProcessing {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestStreamEventsDoesNotReplayEarlierTransitions(t *testing.T) {
	stream := &streamFake{}
	handler := newTestRouter(nil, nil, nil, stream, testConfig())

	server := httptest.NewServer(handler)
	defer server.Close()

	// Transitions published with no subscriber connected are gone for good.
	if stream.Emit(domain.StatusEvent{JobID: "job-1", Status: domain.StatusProcessing}) {
		t.Fatalf("no subscriber yet, nothing may be delivered")
	}
	if stream.Emit(domain.StatusEvent{JobID: "job-1", Status: domain.StatusCompleted}) {
		t.Fatalf("no subscriber yet, nothing may be delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/jobs/events", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	res, err := server.Client().Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer res.Body.Close()

	go func() {
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if stream.Emit(domain.StatusEvent{JobID: "job-2", Status: domain.StatusPending}) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	scanner := bufio.NewScanner(res.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	if data == "" {
		t.Fatalf("no data frame received: %v", scanner.Err())
	}

	// The first frame a late subscriber sees is the first live event, never
	// a transition that predates the connection.
	var event domain.StatusEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.JobID != "job-2" || event.Status != domain.StatusPending {
		t.Fatalf("unexpected first event: %+v", event)
	}
}

func TestDownloadJobContentReturnsBase64Payload(t *testing.T) {
	content := &contentFake{payload: "%PDF raw bytes"}
	handler := newTestRouter(nil, nil, content, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/content", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if content.lastID != "job-1" {
		t.Fatalf("opened id = %q", content.lastID)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(body["content_base64"])
	if err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if string(raw) != "%PDF raw bytes" {
		t.Fatalf("content = %q", raw)
	}
	if body["original_name"] != "a.pdf" || body["mime_type"] != "application/pdf" {
		t.Fatalf("metadata = %v", body)
	}
}

func TestDownloadJobContentUnknownJobReturns404(t *testing.T) {
	content := &contentFake{err: domain.WrapError(domain.ErrJobNotFound, "get job", domain.ErrJobNotFound)}
	handler := newTestRouter(nil, nil, content, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/ghost/content", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestJobSummaryReturnsOwnerAggregates(t *testing.T) {
	reader := &readerFake{}
	handler := newTestRouter(nil, reader, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/summary", nil)
	req.Header.Set("X-Owner-Id", "owner-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reader.lastOwner != "owner-1" {
		t.Fatalf("owner = %q", reader.lastOwner)
	}

	var summary domain.JobSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Total != 3 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.ByMimeType["application/pdf"] != 2 {
		t.Fatalf("by mime type = %v", summary.ByMimeType)
	}
}

func TestJobSummaryRequiresOwner(t *testing.T) {
	handler := newTestRouter(nil, nil, nil, nil, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/summary", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
