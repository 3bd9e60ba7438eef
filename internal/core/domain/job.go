package domain

import "time"

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo encodes the single forward path
// pending -> processing -> completed|failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Job is the persisted record of one uploaded file's extraction lifecycle.
// Everything except Status, ExtractedContent, FailureReason and UpdatedAt is
// immutable after creation.
type Job struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id"`
	OriginalName     string    `json:"original_name"`
	StoredName       string    `json:"stored_name"`
	MimeType         string    `json:"mime_type"`
	SizeBytes        int64     `json:"size_bytes"`
	StoragePath      string    `json:"storage_path"`
	Status           JobStatus `json:"status"`
	ExtractedContent string    `json:"extracted_content,omitempty"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// StatusEvent is broadcast to subscribers on every status transition.
type StatusEvent struct {
	JobID  string    `json:"job_id"`
	Status JobStatus `json:"status"`
}

// JobFilter narrows ListJobs results. Zero values mean "no constraint".
type JobFilter struct {
	Status           JobStatus
	MimeTypeContains string
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// JobSort names the column and direction for listings. The repository
// whitelists Field.
type JobSort struct {
	Field string
	Order SortOrder
}

// JobPage is a 1-based page request.
type JobPage struct {
	Page  int
	Limit int
}

func (p JobPage) Normalize() JobPage {
	out := p
	if out.Page < 1 {
		out.Page = 1
	}
	if out.Limit < 1 {
		out.Limit = 10
	}
	return out
}

func (p JobPage) Offset() int {
	return (p.Page - 1) * p.Limit
}

// JobListing is one page of jobs plus the unpaginated total.
type JobListing struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int   `json:"total"`
	TotalPages int   `json:"total_pages"`
	Jobs       []Job `json:"data"`
}

// JobSummary aggregates one owner's jobs for reporting: totals by status and
// by declared mime type, plus the failed count pulled out for dashboards.
type JobSummary struct {
	Total      int               `json:"total"`
	Failed     int               `json:"failed"`
	ByStatus   map[JobStatus]int `json:"by_status"`
	ByMimeType map[string]int    `json:"by_mime_type"`
}
