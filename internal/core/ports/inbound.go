package ports

import (
	"context"
	"io"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
)

// JobSubmitter is the inbound contract for upload orchestration. It receives
// an already-validated transport payload (bytes, declared content type and
// size, owner identity) and returns the persisted job handle.
type JobSubmitter interface {
	Submit(ctx context.Context, ownerID, originalName, mimeType string, sizeBytes int64, body io.Reader) (*domain.Job, error)
}

// JobReader is the inbound read model for job state.
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ListJobs(ctx context.Context, ownerID string, filter domain.JobFilter, sort domain.JobSort, page domain.JobPage) (*domain.JobListing, error)
	SummarizeJobs(ctx context.Context, ownerID string) (*domain.JobSummary, error)
}

// JobContentReader hands back the stored original bytes for a job alongside
// its metadata. The caller owns closing the reader.
type JobContentReader interface {
	OpenJobContent(ctx context.Context, id string) (*domain.Job, io.ReadCloser, error)
}

// JobProcessor drives one claimed job to a terminal state.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string) error
}
