package usecase

import (
	"context"
	"fmt"
	"io"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
	"github.com/nkuznetsov/docpipe/internal/core/ports"
)

// QueryJobsUseCase is the read side: current state of one job, the paginated
// per-owner listing, the per-owner summary, and the stored original bytes.
type QueryJobsUseCase struct {
	repo    ports.JobRepository
	storage ports.ObjectStorage
}

func NewQueryJobsUseCase(repo ports.JobRepository, storage ports.ObjectStorage) *QueryJobsUseCase {
	return &QueryJobsUseCase{repo: repo, storage: storage}
}

func (uc *QueryJobsUseCase) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

func (uc *QueryJobsUseCase) ListJobs(
	ctx context.Context,
	ownerID string,
	filter domain.JobFilter,
	sort domain.JobSort,
	page domain.JobPage,
) (*domain.JobListing, error) {
	listing, err := uc.repo.List(ctx, ownerID, filter, sort, page.Normalize())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return listing, nil
}

func (uc *QueryJobsUseCase) SummarizeJobs(ctx context.Context, ownerID string) (*domain.JobSummary, error) {
	summary, err := uc.repo.Summarize(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("summarize jobs: %w", err)
	}
	return summary, nil
}

// OpenJobContent resolves a job and opens its stored bytes. The job record
// is the source of truth for the storage key.
func (uc *QueryJobsUseCase) OpenJobContent(ctx context.Context, id string) (*domain.Job, io.ReadCloser, error) {
	job, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get job %s: %w", id, err)
	}
	reader, err := uc.storage.Open(ctx, job.StoragePath)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrStorageUnavailable, "open stored bytes", err)
	}
	return job, reader, nil
}
