package postgres

import (
	"context"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/media-scraper/internal/scrape"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

var mediaCols = []string{"id", "job_id", "source_url", "url", "type", "alt", "title", "width", "height", "created_at"}

func TestCreateJobsCopiesRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	jobs := []scrape.Job{
		{ID: "0190e6f1-0000-7000-8000-000000000001", SourceURL: "https://a.test", Status: scrape.JobStatusPending, CreatedAt: now, UpdatedAt: now},
		{ID: "0190e6f1-0000-7000-8000-000000000002", SourceURL: "https://b.test", Status: scrape.JobStatusPending, CreatedAt: now, UpdatedAt: now},
	}

	mock.ExpectCopyFrom(pgx.Identifier{"scrape_jobs"}, jobColumns).WillReturnResult(2)
	require.NoError(t, store.CreateJobs(context.Background(), jobs))

	mock.ExpectCopyFrom(pgx.Identifier{"scrape_jobs"}, jobColumns).WillReturnError(errors.New("unique violation"))
	require.ErrorContains(t, store.CreateJobs(context.Background(), jobs), "copy jobs")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-1", "failed", 3, strPtr("fetch https://a.test: timeout")).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_jobs SET status").
		WithArgs("job-2", "processing", 1, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.UpdateStatus(ctx, "job-1", scrape.JobStatusFailed, 3, "fetch https://a.test: timeout"))
	require.ErrorIs(t, store.UpdateStatus(ctx, "job-2", scrape.JobStatusProcessing, 1, ""), scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// mediaArgs lists the insert arguments in column order.
func mediaArgs(jobID string, r scrape.MediaRecord) []any {
	return []any{r.ID, jobID, r.SourceURL, r.URL, string(r.Type), r.Alt, r.Title, r.Width, r.Height, r.CreatedAt}
}

func TestInsertMediaCommitsChunk(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	records := []scrape.MediaRecord{
		{ID: "m1", SourceURL: "https://a.test", URL: "https://a.test/x.png", Type: scrape.MediaTypeImage, Alt: strPtr("x"), Width: intPtr(10), CreatedAt: now},
		{ID: "m2", SourceURL: "https://a.test", URL: "https://a.test/y.mp4", Type: scrape.MediaTypeVideo, CreatedAt: now},
	}

	mock.ExpectBegin()
	for _, r := range records {
		mock.ExpectExec("INSERT INTO media").
			WithArgs(mediaArgs("job-1", r)...).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, store.InsertMedia(context.Background(), "job-1", records))
	require.NoError(t, store.InsertMedia(context.Background(), "job-1", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMediaRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	records := []scrape.MediaRecord{
		{ID: "m1", URL: "https://a.test/x.png", Type: scrape.MediaTypeImage},
		{ID: "m2", URL: "https://a.test/y.png", Type: scrape.MediaTypeImage},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO media").
		WithArgs(mediaArgs("job-1", records[0])...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO media").
		WithArgs(mediaArgs("job-1", records[1])...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.InsertMedia(context.Background(), "job-1", records)
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertMediaIsIdempotentOnJobURL(t *testing.T) {
	t.Parallel()

	data, err := fs.ReadFile(migrationsFS, "migrations/00002_create_media.sql")
	require.NoError(t, err)
	require.Contains(t, string(data), "UNIQUE (job_id, url)")

	store, mock := newMockStore(t)
	record := scrape.MediaRecord{ID: "m1", URL: "u"}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (job_id, url) DO NOTHING")).
		WithArgs(mediaArgs("job-1", record)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()
	require.NoError(t, store.InsertMedia(context.Background(), "job-1", []scrape.MediaRecord{record}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("FROM scrape_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_url", "status", "attempt", "error_message", "created_at", "updated_at"}).
			AddRow("job-1", "https://a.test", "completed", 1, "", now, now))
	mock.ExpectQuery("FROM scrape_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, scrape.JobStatusCompleted, job.Status)
	require.Equal(t, 1, job.Attempt)
	require.Equal(t, now, job.CreatedAt)

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAndDeleteJobMedia(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM media WHERE job_id")).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectExec("DELETE FROM media WHERE job_id").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := store.CountMediaByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, 7, n)
	require.NoError(t, store.DeleteMediaByJob(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindMediaByJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery("FROM media WHERE job_id").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(mediaCols).
			AddRow("m1", "job-1", "https://a.test", "https://a.test/x.png", "image", strPtr("alt"), (*string)(nil), intPtr(640), (*int)(nil), now))

	rows, err := store.FindMediaByJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, scrape.MediaTypeImage, rows[0].Type)
	require.Equal(t, "alt", *rows[0].Alt)
	require.Nil(t, rows[0].Title)
	require.Equal(t, 640, *rows[0].Width)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobs(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM scrape_jobs")).
		WithArgs("completed").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery("ORDER BY j.created_at DESC").
		WithArgs("completed", 20, 20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source_url", "status", "error_message", "media_count"}).
			AddRow("job-21", "https://a.test", "completed", "", 4))

	page, err := store.ListJobs(context.Background(), scrape.Page{Page: 2, Limit: 20}, scrape.JobStatusCompleted)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, 4, page.Data[0].MediaCount)
	require.Equal(t, 2, page.Pagination.TotalPages)
	require.True(t, page.Pagination.HasPrevPage)
	require.False(t, page.Pagination.HasNextPage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListMediaBuildsFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM media WHERE type = $1 AND source_url = $2 AND (url ILIKE $3")).
		WithArgs("image", "https://a.test", `%50\%%`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, id DESC LIMIT $4 OFFSET $5")).
		WithArgs("image", "https://a.test", `%50\%%`, 10, 0).
		WillReturnRows(pgxmock.NewRows(mediaCols).
			AddRow("m1", "job-1", "https://a.test", "https://a.test/50%.png", "image", (*string)(nil), (*string)(nil), (*int)(nil), (*int)(nil), now))

	page, err := store.ListMedia(context.Background(), scrape.Page{Page: 1, Limit: 10}, scrape.MediaFilter{
		Type:      scrape.MediaTypeImage,
		SourceURL: "https://a.test",
		Search:    "50%",
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.Equal(t, 1, page.Pagination.TotalItems)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMediaWhereWithoutFilters(t *testing.T) {
	t.Parallel()

	where, args := mediaWhere(scrape.MediaFilter{})
	require.Empty(t, where)
	require.Empty(t, args)

	where, args = mediaWhere(scrape.MediaFilter{Search: "a_b"})
	require.True(t, strings.HasPrefix(where, " WHERE (url ILIKE $1"))
	require.Equal(t, []any{`%a\_b%`}, args)
}

func TestGetAndDeleteMedia(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM media WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(mediaCols))
	mock.ExpectExec("DELETE FROM media WHERE id").
		WithArgs("m1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("DELETE FROM media WHERE id").
		WithArgs("m1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	_, err := store.GetMedia(context.Background(), "missing")
	require.ErrorIs(t, err, scrape.ErrNotFound)
	require.NoError(t, store.DeleteMedia(context.Background(), "m1"))
	require.ErrorIs(t, store.DeleteMedia(context.Background(), "m1"), scrape.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM media GROUP BY type").
		WillReturnRows(pgxmock.NewRows([]string{"type", "count"}).AddRow("image", 5).AddRow("video", 2))
	mock.ExpectQuery("FROM scrape_jobs GROUP BY status").
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).AddRow("completed", 3).AddRow("failed", 1))

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, stats.TotalMedia)
	require.Equal(t, 2, stats.MediaByType[scrape.MediaTypeVideo])
	require.Equal(t, 1, stats.JobsByState[scrape.JobStatusFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewStore(context.Background(), StoreConfig{})
	require.ErrorContains(t, err, "db.dsn is required")

	_, err = NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrationsAreEmbedded(t *testing.T) {
	t.Parallel()

	files, err := fs.Glob(migrationsFS, "migrations/*.sql")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		data, err := fs.ReadFile(migrationsFS, f)
		require.NoError(t, err)
		require.Contains(t, string(data), "-- +goose Up")
		require.Contains(t, string(data), "-- +goose Down")
	}
}
