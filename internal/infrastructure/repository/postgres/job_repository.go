package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/nkuznetsov/docpipe/internal/core/domain"
)

const jobColumns = `id, owner_id, original_name, stored_name, mime_type, size_bytes, storage_path, status, extracted_content, failure_reason, created_at, updated_at`

type JobRepository struct {
	db *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *JobRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026041702)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	original_name TEXT NOT NULL,
	stored_name TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	extracted_content TEXT,
	failure_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_owner_id ON jobs(owner_id);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO jobs (`+jobColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
`,
		job.ID, job.OwnerID, job.OriginalName, job.StoredName, job.MimeType, job.SizeBytes,
		job.StoragePath, string(job.Status), nullIfEmpty(job.ExtractedContent),
		nullIfEmpty(job.FailureReason), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrJobNotFound, "get job", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return job, nil
}

// Claim is the exclusive pending -> processing transition. The guarded
// update makes concurrent claims race on the status predicate; at most one
// caller sees a row come back.
func (r *JobRepository) Claim(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE jobs
SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
RETURNING `+jobColumns+`
`, id, string(domain.StatusProcessing), time.Now().UTC(), string(domain.StatusPending))

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.transitionError(ctx, id, domain.StatusProcessing)
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted persists the content and the terminal status in one write.
func (r *JobRepository) MarkCompleted(ctx context.Context, id string, content string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $2, extracted_content = $3, failure_reason = NULL, updated_at = $4
WHERE id = $1 AND status = $5
`, id, string(domain.StatusCompleted), content, time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return r.requireOneRow(ctx, res, id, domain.StatusCompleted)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id string, reason string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE jobs
SET status = $2, extracted_content = NULL, failure_reason = $3, updated_at = $4
WHERE id = $1 AND status = $5
`, id, string(domain.StatusFailed), reason, time.Now().UTC(), string(domain.StatusProcessing))
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	return r.requireOneRow(ctx, res, id, domain.StatusFailed)
}

var sortColumns = map[string]string{
	"created_at":    "created_at",
	"updated_at":    "updated_at",
	"original_name": "original_name",
	"size_bytes":    "size_bytes",
	"status":        "status",
	"mime_type":     "mime_type",
}

func (r *JobRepository) List(
	ctx context.Context,
	ownerID string,
	filter domain.JobFilter,
	sort domain.JobSort,
	page domain.JobPage,
) (*domain.JobListing, error) {
	where := []string{"owner_id = $1"}
	args := []any{ownerID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.MimeTypeContains != "" {
		args = append(args, "%"+filter.MimeTypeContains+"%")
		where = append(where, fmt.Sprintf("mime_type ILIKE $%d", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM jobs WHERE ` + whereClause
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}

	column, ok := sortColumns[strings.ToLower(strings.TrimSpace(sort.Field))]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if sort.Order == domain.SortDesc {
		direction = "DESC"
	}

	args = append(args, page.Limit, page.Offset())
	query := fmt.Sprintf(`SELECT `+jobColumns+` FROM jobs WHERE %s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		whereClause, column, direction, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, page.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	return &domain.JobListing{
		Page:       page.Page,
		Limit:      page.Limit,
		Total:      total,
		TotalPages: (total + page.Limit - 1) / page.Limit,
		Jobs:       jobs,
	}, nil
}

// Summarize aggregates one owner's jobs in two grouped queries so the totals
// stay consistent with the table regardless of how many jobs the owner has.
func (r *JobRepository) Summarize(ctx context.Context, ownerID string) (*domain.JobSummary, error) {
	summary := &domain.JobSummary{
		ByStatus:   make(map[domain.JobStatus]int),
		ByMimeType: make(map[string]int),
	}

	statusCounts, err := r.countBy(ctx, "status", ownerID)
	if err != nil {
		return nil, fmt.Errorf("summarize by status: %w", err)
	}
	for value, n := range statusCounts {
		summary.ByStatus[domain.JobStatus(value)] = n
		summary.Total += n
	}
	summary.Failed = summary.ByStatus[domain.StatusFailed]

	mimeCounts, err := r.countBy(ctx, "mime_type", ownerID)
	if err != nil {
		return nil, fmt.Errorf("summarize by mime type: %w", err)
	}
	for value, n := range mimeCounts {
		summary.ByMimeType[value] = n
	}

	return summary, nil
}

func (r *JobRepository) countBy(ctx context.Context, column, ownerID string) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM jobs WHERE owner_id = $1 GROUP BY %s`, column, column)
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("group by %s: %w", column, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var value string
		var n int
		if err := rows.Scan(&value, &n); err != nil {
			return nil, fmt.Errorf("scan %s count: %w", column, err)
		}
		counts[value] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s counts: %w", column, err)
	}
	return counts, nil
}

// transitionError distinguishes "job vanished" from "someone else moved it"
// after a guarded update matched zero rows.
func (r *JobRepository) transitionError(ctx context.Context, id string, attempted domain.JobStatus) error {
	var current string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrJobNotFound, "transition job", fmt.Errorf("id %s", id))
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	return domain.WrapError(domain.ErrInvalidTransition, "transition job",
		fmt.Errorf("cannot move job %s from %s to %s", id, current, attempted))
}

func (r *JobRepository) requireOneRow(ctx context.Context, res sql.Result, id string, attempted domain.JobStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return r.transitionError(ctx, id, attempted)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var status string
	var content, reason sql.NullString

	err := row.Scan(
		&job.ID, &job.OwnerID, &job.OriginalName, &job.StoredName, &job.MimeType, &job.SizeBytes,
		&job.StoragePath, &status, &content, &reason, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobStatus(status)
	job.ExtractedContent = content.String
	job.FailureReason = reason.String
	return &job, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
