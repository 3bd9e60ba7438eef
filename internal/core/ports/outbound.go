package ports

import (
	"context"
	"io"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
)

// JobRepository persists and reads job state. A successful status update must
// be visible to subsequent reads, and concurrent updates of the same row must
// not interleave.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, ownerID string, filter domain.JobFilter, sort domain.JobSort, page domain.JobPage) (*domain.JobListing, error)
	Summarize(ctx context.Context, ownerID string) (*domain.JobSummary, error)

	// Claim atomically moves a pending job to processing and returns it.
	// Exactly one concurrent caller wins; losers get ErrInvalidTransition,
	// a vanished id gets ErrJobNotFound.
	Claim(ctx context.Context, id string) (*domain.Job, error)
	// MarkCompleted persists the extracted content and the completed status
	// in a single durable write. Fails with ErrInvalidTransition unless the
	// job is currently processing.
	MarkCompleted(ctx context.Context, id string, content string) error
	// MarkFailed moves a processing job to failed, retaining the reason.
	MarkFailed(ctx context.Context, id string, reason string) error
}

// ObjectStorage stores the raw uploaded bytes. Deleting an absent key is
// not an error.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// JobQueue is the durable hand-off between the gatekeeper and the worker
// pool. Delivery is at-least-once; the claim protocol absorbs duplicates.
type JobQueue interface {
	Enqueue(ctx context.Context, jobID string) error
	Subscribe(ctx context.Context, handler func(context.Context, string) error) error
}

// StatusNotifier broadcasts status transitions, best effort. Publish never
// blocks beyond a short bounded attempt and its failure never fails the
// pipeline operation that triggered it.
type StatusNotifier interface {
	Publish(ctx context.Context, event domain.StatusEvent) error
}

// StatusStream delivers live status events to a subscriber. Subscribers see
// only events published while subscribed; there is no replay.
type StatusStream interface {
	Subscribe(ctx context.Context, handler func(domain.StatusEvent)) (func(), error)
}

// Extractor converts raw file bytes into extracted content. Exactly one of
// content/error is returned; extractors never persist anything.
type Extractor interface {
	Extract(ctx context.Context, r io.Reader) (string, error)
}

// ExtractorRegistry resolves an extractor by declared mime type.
type ExtractorRegistry interface {
	Resolve(mimeType string) (Extractor, bool)
}
