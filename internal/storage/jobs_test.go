package storage

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

func createTestJob(t *testing.T, store *Storage, videoID string, mode models.JobMode) models.Job {
	t.Helper()
	job, err := store.CreateJob(CreateJobParams{
		VideoID: videoID,
		Params:  models.SplitParams{Parts: 3, Profile: "heavy"},
		Mode:    mode,
	})
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return job
}

func TestCreateJobInitialStates(t *testing.T) {
	store := newTestStorage(t)
	videoA := createTestVideo(t, store, "admin")
	videoB := createTestVideo(t, store, "admin")

	async := createTestJob(t, store, videoA.ID, models.ModeAsync)
	if async.State != models.JobQueued {
		t.Fatalf("async job state = %s, want queued", async.State)
	}
	if async.StartedAt != nil {
		t.Fatalf("async job has started timestamp before claim")
	}

	sync := createTestJob(t, store, videoB.ID, models.ModeSync)
	if sync.State != models.JobRunning {
		t.Fatalf("sync job state = %s, want running", sync.State)
	}
	if sync.StartedAt == nil {
		t.Fatalf("sync job missing started timestamp")
	}
}

func TestCreateJobConflictOnActiveJob(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)

	if _, err := store.CreateJob(CreateJobParams{
		VideoID: video.ID,
		Params:  models.SplitParams{Parts: 2, Profile: "fast"},
		Mode:    models.ModeAsync,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// A running job still blocks new submissions.
	if _, err := store.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.CreateJob(CreateJobParams{
		VideoID: video.ID,
		Params:  models.SplitParams{Parts: 2, Profile: "fast"},
		Mode:    models.ModeSync,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for running job, got %v", err)
	}

	// Once terminal, resubmission is allowed and creates a distinct job.
	if _, err := store.FailJob(job.ID, "executor crashed"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	next := createTestJob(t, store, video.ID, models.ModeAsync)
	if next.ID == job.ID {
		t.Fatalf("resubmission reused job id")
	}
}

func TestCreateJobValidation(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")

	cases := []struct {
		name   string
		params CreateJobParams
		want   error
	}{
		{"unknown video", CreateJobParams{VideoID: "missing", Params: models.SplitParams{Parts: 2, Profile: "fast"}, Mode: models.ModeAsync}, ErrNotFound},
		{"zero parts", CreateJobParams{VideoID: video.ID, Params: models.SplitParams{Parts: 0, Profile: "fast"}, Mode: models.ModeAsync}, ErrInvalidArgument},
		{"bad profile", CreateJobParams{VideoID: video.ID, Params: models.SplitParams{Parts: 2, Profile: "turbo"}, Mode: models.ModeAsync}, ErrInvalidArgument},
		{"bad mode", CreateJobParams{VideoID: video.ID, Params: models.SplitParams{Parts: 2, Profile: "fast"}, Mode: "batch"}, ErrInvalidArgument},
	}
	for _, tc := range cases {
		_, err := store.CreateJob(tc.params)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !errors.Is(err, tc.want) {
			t.Errorf("%s: error = %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestClaimJobIsExclusive(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimJob(job.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		if !errors.Is(err, ErrStaleTransition) {
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d claimers won, want exactly 1", won)
	}
}

func TestCompleteJobRecordsSegments(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)
	if _, err := store.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	drafts := []SegmentDraft{
		{Index: 0, Path: "/data/v/jobs/j/part_00.mp4", SizeBytes: 10, SHA256: "aa"},
		{Index: 1, Path: "/data/v/jobs/j/part_01.mp4", SizeBytes: 11, SHA256: "bb"},
		{Index: 2, Path: "/data/v/jobs/j/part_02.mp4", SizeBytes: 12, SHA256: "cc"},
	}
	done, err := store.CompleteJob(job.ID, drafts)
	if err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}
	if done.State != models.JobSucceeded {
		t.Fatalf("state = %s, want succeeded", done.State)
	}
	if done.CompletedAt == nil {
		t.Fatalf("succeeded job missing completion timestamp")
	}
	if len(done.SegmentIDs) != len(drafts) {
		t.Fatalf("job holds %d segment ids, want %d", len(done.SegmentIDs), len(drafts))
	}

	segments, err := store.ListSegments(job.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != len(drafts) {
		t.Fatalf("stored %d segments, want %d", len(segments), len(drafts))
	}
	for i, segment := range segments {
		if segment.Index != i {
			t.Fatalf("segment %d has index %d", i, segment.Index)
		}
		if segment.VideoID != video.ID || segment.JobID != job.ID {
			t.Fatalf("segment %d has wrong parents: %+v", i, segment)
		}
	}
}

func TestCompleteJobRejectsBadDrafts(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)
	if _, err := store.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	if _, err := store.CompleteJob(job.ID, nil); err == nil {
		t.Fatalf("expected error for empty segment list")
	}
	if _, err := store.CompleteJob(job.ID, []SegmentDraft{{Index: 1}}); err == nil {
		t.Fatalf("expected error for gap at index 0")
	}
	if _, err := store.CompleteJob(job.ID, []SegmentDraft{{Index: 0}, {Index: 2}}); err == nil {
		t.Fatalf("expected error for non-contiguous indices")
	}

	// Rejected completions leave the job running and segment-free.
	current, ok := store.GetJob(job.ID)
	if !ok || current.State != models.JobRunning {
		t.Fatalf("job state after rejected completions: %+v", current)
	}
	segments, err := store.ListSegments(job.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("rejected completion leaked %d segments", len(segments))
	}
}

func TestFailJobOnlyFromRunning(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)

	if _, err := store.FailJob(job.ID, "boom"); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition for queued job, got %v", err)
	}
	if _, err := store.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	failed, err := store.FailJob(job.ID, "executor exited with code 1")
	if err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	if failed.State != models.JobFailed || failed.Error == "" || failed.CompletedAt == nil {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	// Terminal states are final.
	if _, err := store.FailJob(job.ID, "again"); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition for terminal job, got %v", err)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)

	cancelled, err := store.CancelQueuedJob(job.ID, "cancelled by client")
	if err != nil {
		t.Fatalf("CancelQueuedJob: %v", err)
	}
	if cancelled.State != models.JobFailed || cancelled.Error != "cancelled by client" {
		t.Fatalf("unexpected cancelled job: %+v", cancelled)
	}

	other := createTestVideo(t, store, "admin")
	running := createTestJob(t, store, other.ID, models.ModeSync)
	if _, err := store.CancelQueuedJob(running.ID, "nope"); !errors.Is(err, ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition for running job, got %v", err)
	}
}

func TestRecoverStaleJobs(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := newTestStorage(t, WithClock(func() time.Time { return current }))

	video := createTestVideo(t, store, "admin")
	stale := createTestJob(t, store, video.ID, models.ModeAsync)
	if _, err := store.ClaimJob(stale.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}

	fresh := createTestVideo(t, store, "admin")
	current = base.Add(40 * time.Minute)
	freshJob := createTestJob(t, store, fresh.ID, models.ModeAsync)
	if _, err := store.ClaimJob(freshJob.ID); err != nil {
		t.Fatalf("ClaimJob fresh: %v", err)
	}

	recovered, err := store.RecoverStaleJobs(30*time.Minute, "worker presumed dead")
	if err != nil {
		t.Fatalf("RecoverStaleJobs: %v", err)
	}
	if len(recovered) != 1 || recovered[0].ID != stale.ID {
		t.Fatalf("recovered %+v, want only %s", recovered, stale.ID)
	}
	got, _ := store.GetJob(stale.ID)
	if got.State != models.JobFailed || got.Error != "worker presumed dead" {
		t.Fatalf("stale job not failed: %+v", got)
	}
	untouched, _ := store.GetJob(freshJob.ID)
	if untouched.State != models.JobRunning {
		t.Fatalf("fresh running job was recovered: %+v", untouched)
	}
}

func TestListQueuedJobsOrdering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := newTestStorage(t, WithClock(func() time.Time {
		current = current.Add(time.Second)
		return current
	}))

	var ids []string
	for i := 0; i < 3; i++ {
		video := createTestVideo(t, store, "admin")
		job := createTestJob(t, store, video.ID, models.ModeAsync)
		ids = append(ids, job.ID)
	}

	queued, err := store.ListQueuedJobs()
	if err != nil {
		t.Fatalf("ListQueuedJobs: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("queued count = %d, want 3", len(queued))
	}
	for i, job := range queued {
		if job.ID != ids[i] {
			t.Fatalf("queued order mismatch at %d: got %s, want %s", i, job.ID, ids[i])
		}
	}
}

func TestPurgeTerminalJobs(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	store := newTestStorage(t, WithClock(func() time.Time { return current }))

	video := createTestVideo(t, store, "admin")
	old := createTestJob(t, store, video.ID, models.ModeAsync)
	if _, err := store.ClaimJob(old.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.CompleteJob(old.ID, []SegmentDraft{{Index: 0, Path: "/p0", SizeBytes: 1, SHA256: "aa"}}); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	current = base.Add(48 * time.Hour)
	recent := createTestJob(t, store, video.ID, models.ModeAsync)

	purged, err := store.PurgeTerminalJobs(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeTerminalJobs: %v", err)
	}
	if len(purged) != 1 || purged[0].ID != old.ID {
		t.Fatalf("purged %+v, want only %s", purged, old.ID)
	}
	if _, ok := store.GetJob(old.ID); ok {
		t.Fatalf("purged job still present")
	}
	if _, ok := store.GetJob(recent.ID); !ok {
		t.Fatalf("active job was purged")
	}
	segments, err := store.ListVideoSegments(video.ID)
	if err != nil {
		t.Fatalf("ListVideoSegments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("purged job left %d segments behind", len(segments))
	}
}

func TestSegmentsInvisibleUntilSuccess(t *testing.T) {
	store := newTestStorage(t)
	video := createTestVideo(t, store, "admin")
	job := createTestJob(t, store, video.ID, models.ModeAsync)

	segments, err := store.ListSegments(job.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("non-terminal job exposes segments")
	}
	if _, err := store.ClaimJob(job.ID); err != nil {
		t.Fatalf("ClaimJob: %v", err)
	}
	if _, err := store.FailJob(job.ID, "broke"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	segments, err = store.ListSegments(job.ID)
	if err != nil {
		t.Fatalf("ListSegments after failure: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("failed job exposes segments")
	}
}
