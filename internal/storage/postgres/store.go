// Package postgres provides the Postgres-backed job and media store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error)
	Ping(context.Context) error
	Close()
}

var jobColumns = []string{"id", "source_url", "status", "attempt", "error_message", "created_at", "updated_at"}

// Store implements scrape.Store and scrape.Catalog on Postgres.
type Store struct {
	pool dbPool
}

// NewStore creates a pool-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// CreateJobs writes every job with a single COPY, which is all-or-none.
func (s *Store) CreateJobs(ctx context.Context, jobs []scrape.Job) error {
	rows := make([][]any, len(jobs))
	for i, j := range jobs {
		rows[i] = []any{j.ID, j.SourceURL, string(j.Status), j.Attempt, nullable(j.ErrorMessage), j.CreatedAt, j.UpdatedAt}
	}
	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"scrape_jobs"}, jobColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("copy jobs: %w", err)
	}
	if int(n) != len(jobs) {
		return fmt.Errorf("copy jobs: wrote %d of %d rows", n, len(jobs))
	}
	return nil
}

// UpdateStatus records a lifecycle transition.
func (s *Store) UpdateStatus(
	ctx context.Context,
	jobID string,
	status scrape.JobStatus,
	attempt int,
	errMsg string,
) error {
	const query = `
UPDATE scrape_jobs SET status = $2, attempt = $3, error_message = $4, updated_at = NOW()
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, jobID, string(status), attempt, nullable(errMsg))
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// InsertMedia writes one chunk in a transaction, skipping (job_id, url) pairs
// that already exist.
func (s *Store) InsertMedia(ctx context.Context, jobID string, records []scrape.MediaRecord) error {
	if len(records) == 0 {
		return nil
	}
	const query = `
INSERT INTO media (id, job_id, source_url, url, type, alt, title, width, height, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (job_id, url) DO NOTHING`

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin media tx: %w", err)
	}
	for _, r := range records {
		_, err := tx.Exec(ctx, query,
			r.ID, jobID, r.SourceURL, r.URL, string(r.Type),
			r.Alt, r.Title, r.Width, r.Height, r.CreatedAt,
		)
		if err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert media: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit media tx: %w", err)
	}
	return nil
}

// DeleteMediaByJob removes every media row owned by the job.
func (s *Store) DeleteMediaByJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM media WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete job media: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (scrape.Job, error) {
	const query = `
SELECT id::text, source_url, status, attempt, COALESCE(error_message, ''), created_at, updated_at
FROM scrape_jobs WHERE id = $1`
	var (
		job    scrape.Job
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.SourceURL, &status, &job.Attempt, &job.ErrorMessage, &job.CreatedAt, &job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scrape.Job{}, scrape.ErrNotFound
	}
	if err != nil {
		return scrape.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = scrape.JobStatus(status)
	return job, nil
}

// CountMediaByJob returns the number of media rows owned by the job.
func (s *Store) CountMediaByJob(ctx context.Context, jobID string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media WHERE job_id = $1`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count job media: %w", err)
	}
	return n, nil
}

// FindMediaByJob returns the job's media rows in insertion order.
func (s *Store) FindMediaByJob(ctx context.Context, jobID string) ([]scrape.MediaRecord, error) {
	rows, err := s.pool.Query(ctx, selectMedia+` WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select job media: %w", err)
	}
	return collectMedia(rows)
}

// ListJobs returns job summaries, newest first.
func (s *Store) ListJobs(ctx context.Context, page scrape.Page, status scrape.JobStatus) (scrape.JobPage, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM scrape_jobs WHERE ($1::text = '' OR status = $1)`, string(status),
	).Scan(&total)
	if err != nil {
		return scrape.JobPage{}, fmt.Errorf("count jobs: %w", err)
	}

	const query = `
SELECT j.id::text, j.source_url, j.status, COALESCE(j.error_message, ''),
	CASE WHEN j.status = 'completed'
		THEN (SELECT COUNT(*) FROM media m WHERE m.job_id = j.id) ELSE 0 END
FROM scrape_jobs j
WHERE ($1::text = '' OR j.status = $1)
ORDER BY j.created_at DESC, j.id DESC
LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, string(status), page.Limit, page.Offset())
	if err != nil {
		return scrape.JobPage{}, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	data := make([]scrape.JobOutcome, 0, page.Limit)
	for rows.Next() {
		var (
			out    scrape.JobOutcome
			status string
		)
		if err := rows.Scan(&out.JobID, &out.SourceURL, &status, &out.ErrorMessage, &out.MediaCount); err != nil {
			return scrape.JobPage{}, fmt.Errorf("scan job: %w", err)
		}
		out.Status = scrape.JobStatus(status)
		data = append(data, out)
	}
	if err := rows.Err(); err != nil {
		return scrape.JobPage{}, fmt.Errorf("iterate jobs: %w", err)
	}
	return scrape.JobPage{Data: data, Pagination: scrape.NewPagination(page, total)}, nil
}

// ListMedia returns matching media rows, newest first.
func (s *Store) ListMedia(ctx context.Context, page scrape.Page, filter scrape.MediaFilter) (scrape.MediaPage, error) {
	where, args := mediaWhere(filter)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM media`+where, args...).Scan(&total); err != nil {
		return scrape.MediaPage{}, fmt.Errorf("count media: %w", err)
	}

	query := fmt.Sprintf("%s%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		selectMedia, where, len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, page.Limit, page.Offset())...)
	if err != nil {
		return scrape.MediaPage{}, fmt.Errorf("select media: %w", err)
	}
	data, err := collectMedia(rows)
	if err != nil {
		return scrape.MediaPage{}, err
	}
	return scrape.MediaPage{Data: data, Pagination: scrape.NewPagination(page, total)}, nil
}

// GetMedia fetches a media row by ID.
func (s *Store) GetMedia(ctx context.Context, id string) (scrape.MediaRecord, error) {
	rows, err := s.pool.Query(ctx, selectMedia+` WHERE id = $1`, id)
	if err != nil {
		return scrape.MediaRecord{}, fmt.Errorf("select media: %w", err)
	}
	records, err := collectMedia(rows)
	if err != nil {
		return scrape.MediaRecord{}, err
	}
	if len(records) == 0 {
		return scrape.MediaRecord{}, scrape.ErrNotFound
	}
	return records[0], nil
}

// DeleteMedia removes a single media row.
func (s *Store) DeleteMedia(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM media WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return scrape.ErrNotFound
	}
	return nil
}

// Stats counts media by type and jobs by status.
func (s *Store) Stats(ctx context.Context) (scrape.Stats, error) {
	stats := scrape.Stats{
		MediaByType: map[scrape.MediaType]int{scrape.MediaTypeImage: 0, scrape.MediaTypeVideo: 0},
		JobsByState: map[scrape.JobStatus]int{},
	}
	err := s.groupCount(ctx, `SELECT type, COUNT(*) FROM media GROUP BY type`, func(key string, n int) {
		stats.MediaByType[scrape.MediaType(key)] = n
		stats.TotalMedia += n
	})
	if err != nil {
		return scrape.Stats{}, fmt.Errorf("media stats: %w", err)
	}
	err = s.groupCount(ctx, `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`, func(key string, n int) {
		stats.JobsByState[scrape.JobStatus(key)] = n
	})
	if err != nil {
		return scrape.Stats{}, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, query string, fn func(string, int)) error {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		fn(key, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate: %w", err)
	}
	return nil
}

const selectMedia = `
SELECT id::text, job_id::text, source_url, url, type, alt, title, width, height, created_at
FROM media`

func collectMedia(rows pgx.Rows) ([]scrape.MediaRecord, error) {
	defer rows.Close()
	out := []scrape.MediaRecord{}
	for rows.Next() {
		var (
			r    scrape.MediaRecord
			kind string
		)
		if err := rows.Scan(&r.ID, &r.JobID, &r.SourceURL, &r.URL, &kind,
			&r.Alt, &r.Title, &r.Width, &r.Height, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		r.Type = scrape.MediaType(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media: %w", err)
	}
	return out, nil
}

func mediaWhere(filter scrape.MediaFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		clauses = append(clauses, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.SourceURL != "" {
		args = append(args, filter.SourceURL)
		clauses = append(clauses, fmt.Sprintf("source_url = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+escapeLike(filter.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf("(url ILIKE $%d OR alt ILIKE $%d OR title ILIKE $%d)", n, n, n))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
