package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
)

const DefaultExtractTimeout = 2 * time.Minute

// ProcessJobUseCase drives one queued job to a terminal state: claim it
// exclusively, resolve an extractor by mime type, run the extraction under a
// timeout, persist the outcome, and publish each transition. Post-claim
// failures become the failed status; they are never raised to the queue.
type ProcessJobUseCase struct {
	repo       ports.JobRepository
	storage    ports.ObjectStorage
	extractors ports.ExtractorRegistry
	notifier   ports.StatusNotifier
	timeout    time.Duration

	queueLagObserver func(time.Duration)
}

func NewProcessJobUseCase(
	repo ports.JobRepository,
	storage ports.ObjectStorage,
	extractors ports.ExtractorRegistry,
	notifier ports.StatusNotifier,
	timeout time.Duration,
) *ProcessJobUseCase {
	if timeout <= 0 {
		timeout = DefaultExtractTimeout
	}
	return &ProcessJobUseCase{
		repo:       repo,
		storage:    storage,
		extractors: extractors,
		notifier:   notifier,
		timeout:    timeout,
	}
}

// SetQueueLagObserver reports the delay between submission and processing
// start, measured at claim time.
func (uc *ProcessJobUseCase) SetQueueLagObserver(observe func(time.Duration)) {
	uc.queueLagObserver = observe
}

func (uc *ProcessJobUseCase) ProcessJob(ctx context.Context, jobID string) error {
	job, err := uc.repo.Claim(ctx, jobID)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) || domain.IsKind(err, domain.ErrJobNotFound) {
			// Lost the race or duplicate delivery. Not an error.
			slog.Debug("claim_skipped", "job_id", jobID, "reason", err)
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if uc.queueLagObserver != nil {
		uc.queueLagObserver(time.Since(job.CreatedAt))
	}
	uc.notify(ctx, job.ID, domain.StatusProcessing)

	extractor, ok := uc.extractors.Resolve(job.MimeType)
	if !ok {
		return uc.fail(ctx, job.ID, domain.WrapError(domain.ErrUnsupportedFormat, "dispatch",
			fmt.Errorf("no extractor for mime type %q", job.MimeType)))
	}

	content, err := uc.extract(ctx, extractor, job)
	if err != nil {
		return uc.fail(ctx, job.ID, err)
	}

	if err := uc.repo.MarkCompleted(ctx, job.ID, content); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			// Should be impossible while we hold the claim. Alert, don't hide.
			slog.Error("invariant_violation", "job_id", job.ID, "op", "mark completed", "error", err)
		}
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	uc.notify(ctx, job.ID, domain.StatusCompleted)
	return nil
}

// extract runs the extractor in its own goroutine so the worker can stop
// waiting at the deadline even if the extractor does not return promptly.
func (uc *ProcessJobUseCase) extract(ctx context.Context, extractor ports.Extractor, job *domain.Job) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("extractor panic: %v", r)}
			}
		}()

		reader, err := uc.storage.Open(attemptCtx, job.StoragePath)
		if err != nil {
			done <- outcome{err: fmt.Errorf("open stored bytes: %w", err)}
			return
		}
		defer reader.Close()

		content, err := extractor.Extract(attemptCtx, reader)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return "", fmt.Errorf("extract %s: %w", job.MimeType, out.err)
		}
		if strings.TrimSpace(out.content) == "" {
			return "", fmt.Errorf("extract %s: empty extraction result", job.MimeType)
		}
		return out.content, nil
	case <-attemptCtx.Done():
		return "", fmt.Errorf("extract %s: %w", job.MimeType, attemptCtx.Err())
	}
}

// fail records the terminal failed status. The cause stays in the job row
// and the logs; it does not propagate to the queue layer.
func (uc *ProcessJobUseCase) fail(ctx context.Context, jobID string, cause error) error {
	slog.Warn("job_failed", "job_id", jobID, "error", cause)

	if err := uc.repo.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		if domain.IsKind(err, domain.ErrInvalidTransition) {
			slog.Error("invariant_violation", "job_id", jobID, "op", "mark failed", "error", err)
		}
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	uc.notify(ctx, jobID, domain.StatusFailed)
	return nil
}

func (uc *ProcessJobUseCase) notify(ctx context.Context, jobID string, status domain.JobStatus) {
	if err := uc.notifier.Publish(ctx, domain.StatusEvent{JobID: jobID, Status: status}); err != nil {
		slog.Warn("status_publish_failed", "job_id", jobID, "status", status, "error", err)
	}
}
