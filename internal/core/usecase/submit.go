package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
)

const DefaultMaxUploadBytes = 50 << 20

// SubmitConfig holds the gatekeeper's validation rules.
type SubmitConfig struct {
	AllowedMimeTypes []string
	MaxUploadBytes   int64
}

func (c SubmitConfig) normalize() SubmitConfig {
	out := c
	if len(out.AllowedMimeTypes) == 0 {
		out.AllowedMimeTypes = []string{
			"application/pdf",
			"image/jpeg",
			"image/png",
			"text/csv",
			"application/vnd.ms-excel",
		}
	}
	if out.MaxUploadBytes <= 0 {
		out.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return out
}

// SubmitJobUseCase validates a candidate upload and hands a well-formed job
// to the pipeline: store bytes, persist the pending record, publish the
// pending event, enqueue the job id. Enqueue never precedes the durable
// record.
type SubmitJobUseCase struct {
	repo     ports.JobRepository
	storage  ports.ObjectStorage
	queue    ports.JobQueue
	notifier ports.StatusNotifier

	allowed map[string]struct{}
	maxSize int64
}

func NewSubmitJobUseCase(
	repo ports.JobRepository,
	storage ports.ObjectStorage,
	queue ports.JobQueue,
	notifier ports.StatusNotifier,
	cfg SubmitConfig,
) *SubmitJobUseCase {
	cfg = cfg.normalize()
	allowed := make(map[string]struct{}, len(cfg.AllowedMimeTypes))
	for _, m := range cfg.AllowedMimeTypes {
		allowed[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return &SubmitJobUseCase{
		repo:     repo,
		storage:  storage,
		queue:    queue,
		notifier: notifier,
		allowed:  allowed,
		maxSize:  cfg.MaxUploadBytes,
	}
}

func (uc *SubmitJobUseCase) Submit(
	ctx context.Context,
	ownerID, originalName, mimeType string,
	sizeBytes int64,
	body io.Reader,
) (*domain.Job, error) {
	if err := uc.validate(ownerID, mimeType, sizeBytes); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	storedName := fmt.Sprintf("%s_%s", id, sanitizeFilename(originalName))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storedName, body); err != nil {
		return nil, domain.WrapError(domain.ErrStorageUnavailable, "save uploaded bytes", err)
	}

	job := &domain.Job{
		ID:           id,
		OwnerID:      ownerID,
		OriginalName: originalName,
		StoredName:   storedName,
		MimeType:     mimeType,
		SizeBytes:    sizeBytes,
		StoragePath:  storedName,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := uc.repo.Create(ctx, job); err != nil {
		// The bytes are already on disk with no record pointing at them.
		if cleanupErr := uc.storage.Delete(ctx, storedName); cleanupErr != nil {
			slog.Warn("orphaned_upload_cleanup_failed", "key", storedName, "error", cleanupErr)
		}
		return nil, domain.WrapError(domain.ErrStorageUnavailable, "create job record", err)
	}

	// Publish before enqueue so a subscriber never sees processing ahead of
	// pending for the same job. Best effort either way.
	if err := uc.notifier.Publish(ctx, domain.StatusEvent{JobID: job.ID, Status: domain.StatusPending}); err != nil {
		slog.Warn("status_publish_failed", "job_id", job.ID, "status", domain.StatusPending, "error", err)
	}

	if err := uc.queue.Enqueue(ctx, job.ID); err != nil {
		// The record is durable and visible; the job just never reaches a
		// worker. Surfaced to operators, not to the uploader.
		slog.Error("job_enqueue_failed", "job_id", job.ID, "error", err)
	}

	return job, nil
}

func (uc *SubmitJobUseCase) validate(ownerID, mimeType string, sizeBytes int64) error {
	if strings.TrimSpace(ownerID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "validate upload", errors.New("owner id is required"))
	}
	if _, ok := uc.allowed[strings.ToLower(strings.TrimSpace(mimeType))]; !ok {
		return domain.WrapError(domain.ErrInvalidInput, "validate upload",
			fmt.Errorf("mime type %q is not allowed", mimeType))
	}
	if sizeBytes > uc.maxSize {
		return domain.WrapError(domain.ErrInvalidInput, "validate upload",
			fmt.Errorf("file size %d exceeds maximum %d bytes", sizeBytes, uc.maxSize))
	}
	return nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "document.bin"
	}
	return base
}
