package storage

import (
	"context"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

// CreateVideoParams captures the attributes recorded when a video is uploaded.
// ID is optional; the store generates one when it is empty.
type CreateVideoParams struct {
	ID              string
	Owner           string
	Filename        string
	InputPath       string
	SizeBytes       int64
	DurationSeconds float64
}

// CreateJobParams captures the data needed to register one split attempt.
// Sync jobs enter the running state immediately; async jobs start queued.
type CreateJobParams struct {
	VideoID string
	Params  models.SplitParams
	Mode    models.JobMode
}

// SegmentDraft describes one executor output file before it is persisted.
// Index order is assigned by the executor and preserved verbatim.
type SegmentDraft struct {
	Index     int
	Path      string
	SizeBytes int64
	SHA256    string
}

// Repository exposes the datastore operations required by the API handlers and
// the job runner. All job state mutations go through the named transition
// methods; no caller writes state directly.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	GetVideo(id string) (models.Video, bool)
	// ListVideos returns one page of video summaries ordered by upload time
	// (newest first, ties broken by id) plus the total count of the visible
	// set. An empty owner selects all videos. Out-of-range pages return an
	// empty slice, not an error.
	ListVideos(owner string, page, pageSize int) ([]models.VideoSummary, int, error)

	// CreateJob registers a new job, enforcing the one-non-terminal-job-per-
	// video invariant atomically with the insert. Returns ErrConflict when an
	// active job exists and ErrNotFound when the video is unknown.
	CreateJob(params CreateJobParams) (models.Job, error)
	GetJob(id string) (models.Job, bool)
	ListJobs(videoID string) ([]models.Job, error)
	// ClaimJob transitions queued -> running. The update is conditional: it
	// succeeds only if the job is still queued, so at most one worker claims
	// a given job. Returns ErrStaleTransition when the claim loses the race.
	ClaimJob(id string) (models.Job, error)
	// CompleteJob transitions running -> succeeded and persists the produced
	// segments in the same logical update; both apply or neither does.
	CompleteJob(id string, segments []SegmentDraft) (models.Job, error)
	// FailJob transitions running -> failed, recording the error detail.
	FailJob(id string, detail string) (models.Job, error)
	// CancelQueuedJob transitions queued -> failed. Jobs that are already
	// running or terminal return ErrStaleTransition.
	CancelQueuedJob(id string, detail string) (models.Job, error)
	// ListQueuedJobs returns jobs awaiting a claim, oldest first, so a
	// restarted runner can repopulate its queue.
	ListQueuedJobs() ([]models.Job, error)
	// RecoverStaleJobs fails every running job whose claim is older than the
	// threshold; their worker is presumed dead. Returns the failed jobs.
	RecoverStaleJobs(olderThan time.Duration, detail string) ([]models.Job, error)
	// PurgeTerminalJobs deletes terminal jobs (and their segments) completed
	// before the retention window. Returns the removed jobs so callers can
	// clean up artifact files.
	PurgeTerminalJobs(retention time.Duration) ([]models.Job, error)

	GetSegment(id string) (models.Segment, bool)
	ListSegments(jobID string) ([]models.Segment, error)
	// ListVideoSegments returns segments of every succeeded job for the
	// video, grouped by job creation time then segment index.
	ListVideoSegments(videoID string) ([]models.Segment, error)
}

var _ Repository = (*Storage)(nil)
