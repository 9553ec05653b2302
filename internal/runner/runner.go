// Package runner executes split jobs: it owns the worker pool, the claim
// handshake with the store, and crash recovery for jobs interrupted by a
// restart.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/codegoblin4122/video-splitter/internal/artifact"
	"github.com/codegoblin4122/video-splitter/internal/models"
	"github.com/codegoblin4122/video-splitter/internal/observability/logging"
	"github.com/codegoblin4122/video-splitter/internal/storage"
	"github.com/codegoblin4122/video-splitter/internal/transcode"
)

// Config wires the runner's collaborators. Store, Artifacts and Executor are
// required; Queue defaults to an in-memory queue.
type Config struct {
	Store     storage.Repository
	Artifacts *artifact.Store
	Executor  transcode.Executor
	Queue     Queue
	Workers   int
	QueueSize int
	// Timeout bounds a single ffmpeg run.
	Timeout time.Duration
	// StaleAfter is how long a running job may go without completing before
	// startup recovery declares its worker dead and fails it.
	StaleAfter time.Duration
	// Retention is how long terminal jobs and their segments are kept.
	// Zero disables purging.
	Retention time.Duration
	Logger    *slog.Logger
}

const (
	defaultWorkers    = 2
	defaultQueueSize  = 64
	defaultTimeout    = 30 * time.Minute
	defaultStaleAfter = 30 * time.Minute
	purgeInterval     = 10 * time.Minute
)

// Runner coordinates job execution. Sync and async submissions share one
// semaphore, so the worker count bounds total concurrent ffmpeg processes.
type Runner struct {
	store      storage.Repository
	artifacts  *artifact.Store
	executor   transcode.Executor
	queue      Queue
	workers    int
	timeout    time.Duration
	staleAfter time.Duration
	retention  time.Duration
	logger     *slog.Logger

	sem *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runner: store is required")
	}
	if cfg.Artifacts == nil {
		return nil, fmt.Errorf("runner: artifact store is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("runner: executor is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	queue := cfg.Queue
	if queue == nil {
		queueSize := cfg.QueueSize
		if queueSize <= 0 {
			queueSize = defaultQueueSize
		}
		queue = NewMemoryQueue(queueSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:      cfg.Store,
		artifacts:  cfg.Artifacts,
		executor:   cfg.Executor,
		queue:      queue,
		workers:    workers,
		timeout:    timeout,
		staleAfter: staleAfter,
		retention:  cfg.Retention,
		logger:     logger,
		sem:        semaphore.NewWeighted(int64(workers)),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the worker pool, runs crash recovery, and begins the
// retention sweep if one is configured. Calling Start twice is a no-op.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	go r.recover()
	if r.retention > 0 {
		r.wg.Add(1)
		go r.purgeLoop()
	}
}

// Shutdown stops accepting work and waits for in-flight jobs to finish or
// the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	r.queue.Close()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit registers a new split job for a video. Async submissions return the
// queued job immediately; sync submissions run the job inline and return it
// in a terminal state. The one-active-job-per-video rule is enforced by the
// store; a second submission surfaces storage.ErrConflict.
func (r *Runner) Submit(ctx context.Context, videoID string, params models.SplitParams, mode models.JobMode) (models.Job, error) {
	video, ok := r.store.GetVideo(videoID)
	if !ok {
		return models.Job{}, fmt.Errorf("video %s: %w", videoID, storage.ErrNotFound)
	}
	// Surface unreadable inputs at submission time instead of burning a
	// worker slot on a job that cannot start.
	if size, err := r.artifacts.InputStat(video.ID); err != nil {
		return models.Job{}, fmt.Errorf("%w: input for video %s unavailable: %v", transcode.ErrPrecondition, video.ID, err)
	} else if size == 0 {
		return models.Job{}, fmt.Errorf("%w: input for video %s is empty", transcode.ErrPrecondition, video.ID)
	}

	job, err := r.store.CreateJob(storage.CreateJobParams{
		VideoID: video.ID,
		Params:  params,
		Mode:    mode,
	})
	if err != nil {
		return models.Job{}, err
	}

	if mode == models.ModeSync {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			r.failJob(job.ID, fmt.Errorf("cancelled before execution: %w", err))
			if current, ok := r.store.GetJob(job.ID); ok {
				return current, nil
			}
			return job, nil
		}
		r.execute(job.ID)
		r.sem.Release(1)
		final, ok := r.store.GetJob(job.ID)
		if !ok {
			return models.Job{}, fmt.Errorf("job %s: %w", job.ID, storage.ErrNotFound)
		}
		return final, nil
	}

	if err := r.queue.Enqueue(ctx, job.ID); err != nil {
		r.cancelJob(job.ID, fmt.Sprintf("enqueue failed: %v", err))
		return models.Job{}, fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return job, nil
}

// Poll returns the current state of a job.
func (r *Runner) Poll(jobID string) (models.Job, error) {
	job, ok := r.store.GetJob(jobID)
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return job, nil
}

// Cancel aborts a job that is still queued. Running and terminal jobs report
// storage.ErrStaleTransition.
func (r *Runner) Cancel(jobID string) (models.Job, error) {
	return r.store.CancelQueuedJob(jobID, "cancelled by client")
}

func (r *Runner) worker() {
	defer r.wg.Done()
	for {
		jobID, err := r.queue.Dequeue(r.ctx)
		if err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("dequeue failed", "error", err)
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}
		if jobID == "" {
			continue
		}
		if _, err := r.store.ClaimJob(jobID); err != nil {
			// Lost the claim or the job was cancelled while queued.
			if !errors.Is(err, storage.ErrStaleTransition) && !errors.Is(err, storage.ErrNotFound) {
				r.logger.Error("claim failed", "job_id", jobID, "error", err)
			}
			continue
		}
		if err := r.sem.Acquire(r.ctx, 1); err != nil {
			r.failJob(jobID, fmt.Errorf("shutdown before execution: %w", err))
			return
		}
		r.execute(jobID)
		r.sem.Release(1)
	}
}

// execute runs ffmpeg for a job already in the running state and records the
// terminal outcome. Failed runs leave no segment files behind.
func (r *Runner) execute(jobID string) {
	job, ok := r.store.GetJob(jobID)
	if !ok {
		r.logger.Error("running job disappeared", "job_id", jobID)
		return
	}

	outputDir, err := r.artifacts.JobOutputDir(job.VideoID, job.ID)
	if err != nil {
		r.failJob(job.ID, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()
	ctx = logging.ContextWithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, r.logger)

	started := time.Now()
	files, err := r.executor.Execute(ctx, r.artifacts.InputPath(job.VideoID), transcode.Params{
		Parts:   job.Params.Parts,
		Profile: job.Params.Profile,
	}, outputDir)
	if err != nil {
		r.artifacts.RemoveJobOutput(job.VideoID, job.ID)
		r.failJob(job.ID, err)
		return
	}

	drafts := make([]storage.SegmentDraft, 0, len(files))
	for _, file := range files {
		size, digest, err := artifact.DescribeSegment(file.Path)
		if err != nil {
			r.artifacts.RemoveJobOutput(job.VideoID, job.ID)
			r.failJob(job.ID, fmt.Errorf("describe segment %d: %w", file.Index, err))
			return
		}
		drafts = append(drafts, storage.SegmentDraft{
			Index:     file.Index,
			Path:      file.Path,
			SizeBytes: size,
			SHA256:    digest,
		})
	}

	if _, err := r.store.CompleteJob(job.ID, drafts); err != nil {
		// Recovery may have failed the job while ffmpeg was running; the
		// output files are orphaned either way.
		r.artifacts.RemoveJobOutput(job.VideoID, job.ID)
		logger.Error("complete failed", "error", err)
		return
	}
	logger.Info("job succeeded",
		"video_id", job.VideoID,
		"segments", len(drafts),
		"duration", time.Since(started).Round(time.Millisecond))
}

func (r *Runner) failJob(jobID string, cause error) {
	if _, err := r.store.FailJob(jobID, cause.Error()); err != nil {
		if !errors.Is(err, storage.ErrStaleTransition) {
			r.logger.Error("failed to record job failure", "job_id", jobID, "error", err, "failure", cause)
		}
		return
	}
	r.logger.Error("job failed", "job_id", jobID, "error", cause)
}

func (r *Runner) cancelJob(jobID, detail string) {
	if _, err := r.store.CancelQueuedJob(jobID, detail); err != nil && !errors.Is(err, storage.ErrStaleTransition) {
		r.logger.Error("failed to cancel job", "job_id", jobID, "error", err)
	}
}

// recover handles jobs interrupted by the previous process: running jobs
// past the staleness threshold are failed, and jobs still queued in the
// store are re-enqueued so the new worker pool picks them up.
func (r *Runner) recover() {
	failed, err := r.store.RecoverStaleJobs(r.staleAfter, "interrupted by restart")
	if err != nil {
		r.logger.Error("stale job recovery failed", "error", err)
	}
	for _, job := range failed {
		r.artifacts.RemoveJobOutput(job.VideoID, job.ID)
		r.logger.Warn("recovered stale job", "job_id", job.ID, "video_id", job.VideoID)
	}

	queued, err := r.store.ListQueuedJobs()
	if err != nil {
		r.logger.Error("listing queued jobs failed", "error", err)
		return
	}
	for _, job := range queued {
		if err := r.queue.Enqueue(r.ctx, job.ID); err != nil {
			if errors.Is(err, ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error("re-enqueue failed", "job_id", job.ID, "error", err)
		}
	}
}

func (r *Runner) purgeLoop() {
	defer r.wg.Done()
	interval := purgeInterval
	if r.retention < interval {
		interval = r.retention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			purged, err := r.store.PurgeTerminalJobs(r.retention)
			if err != nil {
				r.logger.Error("retention purge failed", "error", err)
				continue
			}
			for _, job := range purged {
				r.artifacts.RemoveJobOutput(job.VideoID, job.ID)
			}
			if len(purged) > 0 {
				r.logger.Info("purged expired jobs", "count", len(purged))
			}
		}
	}
}
