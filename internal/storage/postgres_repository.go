package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

const pgUniqueViolation = "23505"

type postgresRepository struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

// NewPostgresRepository opens a Postgres-backed repository and applies the
// schema migrations before returning.
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (Repository, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = cfg.MaxConnections
	}
	if cfg.MinConnections > 0 {
		poolCfg.MinConns = cfg.MinConnections
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}
	if cfg.ApplicationName != "" {
		if poolCfg.ConnConfig.RuntimeParams == nil {
			poolCfg.ConnConfig.RuntimeParams = make(map[string]string)
		}
		poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &postgresRepository{
		pool:  pool,
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *postgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *postgresRepository) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pool.Close()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (r *postgresRepository) CreateVideo(params CreateVideoParams) (models.Video, error) {
	filename := strings.TrimSpace(params.Filename)
	if filename == "" {
		return models.Video{}, fmt.Errorf("filename is required")
	}
	if strings.TrimSpace(params.InputPath) == "" {
		return models.Video{}, fmt.Errorf("input path is required")
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	}
	video := models.Video{
		ID:              id,
		Owner:           strings.TrimSpace(params.Owner),
		Filename:        filename,
		InputPath:       params.InputPath,
		SizeBytes:       params.SizeBytes,
		DurationSeconds: params.DurationSeconds,
		Status:          VideoStatusUploaded,
		CreatedAt:       r.clock(),
	}
	_, err := r.pool.Exec(context.Background(),
		`INSERT INTO videos (id, owner_name, filename, input_path, size_bytes, duration_seconds, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		video.ID, video.Owner, video.Filename, video.InputPath, video.SizeBytes, video.DurationSeconds, video.Status, video.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Video{}, fmt.Errorf("video %s: %w", video.ID, ErrConflict)
		}
		return models.Video{}, fmt.Errorf("insert video: %w", err)
	}
	return video, nil
}

func (r *postgresRepository) GetVideo(id string) (models.Video, bool) {
	var video models.Video
	err := r.pool.QueryRow(context.Background(),
		`SELECT id, owner_name, filename, input_path, size_bytes, duration_seconds, status, created_at
		 FROM videos WHERE id = $1`, id).
		Scan(&video.ID, &video.Owner, &video.Filename, &video.InputPath, &video.SizeBytes, &video.DurationSeconds, &video.Status, &video.CreatedAt)
	if err != nil {
		return models.Video{}, false
	}
	return video, true
}

func (r *postgresRepository) ListVideos(owner string, page, pageSize int) ([]models.VideoSummary, int, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("page must be positive")
	}
	if pageSize < 1 {
		return nil, 0, fmt.Errorf("pageSize must be positive")
	}
	ctx := context.Background()

	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM videos WHERE $1 = '' OR owner_name = $1`, owner).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count videos: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_name, filename, duration_seconds, created_at
		 FROM videos WHERE $1 = '' OR owner_name = $1
		 ORDER BY created_at DESC, id ASC
		 LIMIT $2 OFFSET $3`, owner, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	summaries := make([]models.VideoSummary, 0, pageSize)
	for rows.Next() {
		var summary models.VideoSummary
		if err := rows.Scan(&summary.ID, &summary.Owner, &summary.Filename, &summary.DurationSeconds, &summary.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan video: %w", err)
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

const jobColumns = `id, video_id, parts, profile, mode, state, error_detail, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var parts int
	var profile string
	err := row.Scan(&job.ID, &job.VideoID, &parts, &profile, &job.Mode, &job.State, &job.Error, &job.CreatedAt, &job.StartedAt, &job.CompletedAt)
	if err != nil {
		return models.Job{}, err
	}
	job.Params = models.SplitParams{Parts: parts, Profile: profile}
	return job, nil
}

func (r *postgresRepository) attachSegmentIDs(ctx context.Context, job *models.Job) error {
	if job.State != models.JobSucceeded {
		return nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM segments WHERE job_id = $1 ORDER BY idx`, job.ID)
	if err != nil {
		return fmt.Errorf("list segment ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		job.SegmentIDs = append(job.SegmentIDs, id)
	}
	return rows.Err()
}

func (r *postgresRepository) CreateJob(params CreateJobParams) (models.Job, error) {
	if !params.Mode.Valid() {
		return models.Job{}, fmt.Errorf("%w: unknown job mode %q", ErrInvalidArgument, params.Mode)
	}
	if err := validateSplitParams(params.Params); err != nil {
		return models.Job{}, err
	}
	ctx := context.Background()
	videoID := strings.TrimSpace(params.VideoID)
	if _, ok := r.GetVideo(videoID); !ok {
		return models.Job{}, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}

	id, err := generateID()
	if err != nil {
		return models.Job{}, err
	}
	now := r.clock()
	job := models.Job{
		ID:        id,
		VideoID:   videoID,
		Params:    params.Params,
		Mode:      params.Mode,
		State:     models.JobQueued,
		CreatedAt: now,
	}
	if params.Mode == models.ModeSync {
		job.State = models.JobRunning
		job.StartedAt = &now
	}

	// The partial unique index on (video_id) WHERE state IN ('queued',
	// 'running') turns the insert into the conditional insert the invariant
	// requires; a second concurrent submit fails with a unique violation.
	_, err = r.pool.Exec(ctx,
		`INSERT INTO jobs (id, video_id, parts, profile, mode, state, error_detail, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8, NULL)`,
		job.ID, job.VideoID, job.Params.Parts, job.Params.Profile, job.Mode, job.State, job.CreatedAt, job.StartedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Job{}, fmt.Errorf("video %s has an active job: %w", videoID, ErrConflict)
		}
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) GetJob(id string) (models.Job, bool) {
	ctx := context.Background()
	job, err := scanJob(r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return models.Job{}, false
	}
	if err := r.attachSegmentIDs(ctx, &job); err != nil {
		return models.Job{}, false
	}
	return job, true
}

func (r *postgresRepository) ListJobs(videoID string) ([]models.Job, error) {
	ctx := context.Background()
	if _, ok := r.GetVideo(videoID); !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE video_id = $1 ORDER BY created_at, id`, videoID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range jobs {
		if err := r.attachSegmentIDs(ctx, &jobs[i]); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// transitionJob performs a conditional state update in a single statement:
// the UPDATE matches only when the job is still in the expected source state.
func (r *postgresRepository) transitionJob(ctx context.Context, tx pgx.Tx, id string, from, to models.JobState, detail string, completedAt *time.Time, startedAt *time.Time) (models.Job, error) {
	var row pgx.Row
	query := `UPDATE jobs
		 SET state = $2, error_detail = $3,
		     started_at = COALESCE($4, started_at),
		     completed_at = COALESCE($5, completed_at)
		 WHERE id = $1 AND state = $6
		 RETURNING ` + jobColumns
	args := []any{id, to, strings.TrimSpace(detail), startedAt, completedAt, from}
	if tx != nil {
		row = tx.QueryRow(ctx, query, args...)
	} else {
		row = r.pool.QueryRow(ctx, query, args...)
	}
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		current, ok := r.GetJob(id)
		if !ok {
			return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return models.Job{}, fmt.Errorf("job %s is %s, not %s: %w", id, current.State, from, ErrStaleTransition)
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("transition job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) ClaimJob(id string) (models.Job, error) {
	now := r.clock()
	return r.transitionJob(context.Background(), nil, id, models.JobQueued, models.JobRunning, "", nil, &now)
}

func (r *postgresRepository) CompleteJob(id string, segments []SegmentDraft) (models.Job, error) {
	if len(segments) == 0 {
		return models.Job{}, fmt.Errorf("succeeded job requires at least one segment")
	}
	for i, draft := range segments {
		if draft.Index != i {
			return models.Job{}, fmt.Errorf("segment indices must be contiguous from 0, got %d at position %d", draft.Index, i)
		}
	}
	ctx := context.Background()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return models.Job{}, fmt.Errorf("begin complete job: %w", err)
	}
	defer tx.Rollback(ctx)

	now := r.clock()
	job, err := r.transitionJob(ctx, tx, id, models.JobRunning, models.JobSucceeded, "", &now, nil)
	if err != nil {
		return models.Job{}, err
	}
	for _, draft := range segments {
		segmentID, err := generateID()
		if err != nil {
			return models.Job{}, err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO segments (id, job_id, video_id, idx, path, size_bytes, sha256, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			segmentID, id, job.VideoID, draft.Index, draft.Path, draft.SizeBytes, draft.SHA256, now); err != nil {
			return models.Job{}, fmt.Errorf("insert segment %d: %w", draft.Index, err)
		}
		job.SegmentIDs = append(job.SegmentIDs, segmentID)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Job{}, fmt.Errorf("commit complete job: %w", err)
	}
	return job, nil
}

func (r *postgresRepository) FailJob(id string, detail string) (models.Job, error) {
	now := r.clock()
	return r.transitionJob(context.Background(), nil, id, models.JobRunning, models.JobFailed, detail, &now, nil)
}

func (r *postgresRepository) CancelQueuedJob(id string, detail string) (models.Job, error) {
	now := r.clock()
	return r.transitionJob(context.Background(), nil, id, models.JobQueued, models.JobFailed, detail, &now, nil)
}

func (r *postgresRepository) ListQueuedJobs() ([]models.Job, error) {
	rows, err := r.pool.Query(context.Background(),
		`SELECT `+jobColumns+` FROM jobs WHERE state = $1 ORDER BY created_at, id`, models.JobQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *postgresRepository) RecoverStaleJobs(olderThan time.Duration, detail string) ([]models.Job, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("staleness threshold must be positive")
	}
	now := r.clock()
	rows, err := r.pool.Query(context.Background(),
		`UPDATE jobs
		 SET state = $1, error_detail = $2, completed_at = $3
		 WHERE state = $4 AND COALESCE(started_at, created_at) <= $5
		 RETURNING `+jobColumns,
		models.JobFailed, strings.TrimSpace(detail), now, models.JobRunning, now.Add(-olderThan))
	if err != nil {
		return nil, fmt.Errorf("recover stale jobs: %w", err)
	}
	defer rows.Close()

	recovered := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		recovered = append(recovered, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(recovered) == 0 {
		return nil, nil
	}
	return recovered, nil
}

func (r *postgresRepository) PurgeTerminalJobs(retention time.Duration) ([]models.Job, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention window must be positive")
	}
	rows, err := r.pool.Query(context.Background(),
		`DELETE FROM jobs
		 WHERE state IN ($1, $2) AND COALESCE(completed_at, created_at) <= $3
		 RETURNING `+jobColumns,
		models.JobSucceeded, models.JobFailed, r.clock().Add(-retention))
	if err != nil {
		return nil, fmt.Errorf("purge terminal jobs: %w", err)
	}
	defer rows.Close()

	purged := make([]models.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		purged = append(purged, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(purged) == 0 {
		return nil, nil
	}
	return purged, nil
}

func (r *postgresRepository) GetSegment(id string) (models.Segment, bool) {
	var segment models.Segment
	err := r.pool.QueryRow(context.Background(),
		`SELECT id, job_id, video_id, idx, path, size_bytes, sha256, created_at
		 FROM segments WHERE id = $1`, id).
		Scan(&segment.ID, &segment.JobID, &segment.VideoID, &segment.Index, &segment.Path, &segment.SizeBytes, &segment.SHA256, &segment.CreatedAt)
	if err != nil {
		return models.Segment{}, false
	}
	return segment, true
}

func (r *postgresRepository) ListSegments(jobID string) ([]models.Segment, error) {
	if _, ok := r.GetJob(jobID); !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return r.querySegments(
		`SELECT id, job_id, video_id, idx, path, size_bytes, sha256, created_at
		 FROM segments WHERE job_id = $1 ORDER BY idx`, jobID)
}

func (r *postgresRepository) ListVideoSegments(videoID string) ([]models.Segment, error) {
	if _, ok := r.GetVideo(videoID); !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	return r.querySegments(
		`SELECT s.id, s.job_id, s.video_id, s.idx, s.path, s.size_bytes, s.sha256, s.created_at
		 FROM segments s JOIN jobs j ON j.id = s.job_id
		 WHERE s.video_id = $1 ORDER BY j.created_at, s.idx`, videoID)
}

func (r *postgresRepository) querySegments(query string, args ...any) ([]models.Segment, error) {
	rows, err := r.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	segments := make([]models.Segment, 0)
	for rows.Next() {
		var segment models.Segment
		if err := rows.Scan(&segment.ID, &segment.JobID, &segment.VideoID, &segment.Index, &segment.Path, &segment.SizeBytes, &segment.SHA256, &segment.CreatedAt); err != nil {
			return nil, err
		}
		segments = append(segments, segment)
	}
	return segments, rows.Err()
}

var _ Repository = (*postgresRepository)(nil)
