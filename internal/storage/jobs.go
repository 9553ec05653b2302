package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

func validateSplitParams(params models.SplitParams) error {
	if params.Parts < 1 {
		return fmt.Errorf("%w: parts must be positive", ErrInvalidArgument)
	}
	switch params.Profile {
	case "fast", "heavy":
		return nil
	}
	return fmt.Errorf("%w: unknown split profile %q", ErrInvalidArgument, params.Profile)
}

func (s *Storage) CreateJob(params CreateJobParams) (models.Job, error) {
	if !params.Mode.Valid() {
		return models.Job{}, fmt.Errorf("%w: unknown job mode %q", ErrInvalidArgument, params.Mode)
	}
	if err := validateSplitParams(params.Params); err != nil {
		return models.Job{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()

	videoID := strings.TrimSpace(params.VideoID)
	if _, ok := s.data.Videos[videoID]; !ok {
		return models.Job{}, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	// The conflict check and the insert happen under the same lock, which is
	// the file-backed equivalent of a conditional insert.
	for _, existing := range s.data.Jobs {
		if existing.VideoID == videoID && !existing.State.Terminal() {
			return models.Job{}, fmt.Errorf("video %s has active job %s: %w", videoID, existing.ID, ErrConflict)
		}
	}

	id, err := generateID()
	if err != nil {
		return models.Job{}, err
	}
	now := s.clock()
	job := models.Job{
		ID:        id,
		VideoID:   videoID,
		Params:    params.Params,
		Mode:      params.Mode,
		State:     models.JobQueued,
		CreatedAt: now,
	}
	// Sync jobs never expose a queued interval.
	if params.Mode == models.ModeSync {
		job.State = models.JobRunning
		job.StartedAt = &now
	}

	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		delete(s.data.Jobs, id)
		return models.Job{}, err
	}
	return cloneJob(job), nil
}

func (s *Storage) GetJob(id string) (models.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return cloneJob(job), true
}

func (s *Storage) ListJobs(videoID string) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	jobs := make([]models.Job, 0)
	for _, job := range s.data.Jobs {
		if job.VideoID != videoID {
			continue
		}
		jobs = append(jobs, cloneJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// transitionJobLocked applies a conditional state update: it succeeds only if
// the job is still in the expected source state.
func (s *Storage) transitionJobLocked(id string, from, to models.JobState, mutate func(*models.Job)) (models.Job, error) {
	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if job.State != from {
		return models.Job{}, fmt.Errorf("job %s is %s, not %s: %w", id, job.State, from, ErrStaleTransition)
	}
	if !from.CanTransitionTo(to) {
		return models.Job{}, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	original := job
	job.State = to
	if mutate != nil {
		mutate(&job)
	}
	s.data.Jobs[id] = job
	if err := s.persist(); err != nil {
		s.data.Jobs[id] = original
		return models.Job{}, err
	}
	return cloneJob(job), nil
}

func (s *Storage) ClaimJob(id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.transitionJobLocked(id, models.JobQueued, models.JobRunning, func(job *models.Job) {
		job.StartedAt = &now
	})
}

func (s *Storage) CompleteJob(id string, segments []SegmentDraft) (models.Job, error) {
	if len(segments) == 0 {
		return models.Job{}, fmt.Errorf("succeeded job requires at least one segment")
	}
	for i, draft := range segments {
		if draft.Index != i {
			return models.Job{}, fmt.Errorf("segment indices must be contiguous from 0, got %d at position %d", draft.Index, i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.data.Jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}

	now := s.clock()
	segmentIDs := make([]string, 0, len(segments))
	created := make([]models.Segment, 0, len(segments))
	for _, draft := range segments {
		segmentID, err := generateID()
		if err != nil {
			return models.Job{}, err
		}
		segmentIDs = append(segmentIDs, segmentID)
		created = append(created, models.Segment{
			ID:        segmentID,
			JobID:     id,
			VideoID:   job.VideoID,
			Index:     draft.Index,
			Path:      draft.Path,
			SizeBytes: draft.SizeBytes,
			SHA256:    draft.SHA256,
			CreatedAt: now,
		})
	}

	// Segment rows land in the same persisted update as the state flip, so a
	// success state with partial segments is unrepresentable.
	updated, err := s.transitionJobLocked(id, models.JobRunning, models.JobSucceeded, func(job *models.Job) {
		job.CompletedAt = &now
		job.SegmentIDs = segmentIDs
		for _, segment := range created {
			s.data.Segments[segment.ID] = segment
		}
	})
	if err != nil {
		for _, segment := range created {
			delete(s.data.Segments, segment.ID)
		}
		return models.Job{}, err
	}
	return updated, nil
}

func (s *Storage) FailJob(id string, detail string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.transitionJobLocked(id, models.JobRunning, models.JobFailed, func(job *models.Job) {
		job.Error = strings.TrimSpace(detail)
		job.CompletedAt = &now
	})
}

func (s *Storage) CancelQueuedJob(id string, detail string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	return s.transitionJobLocked(id, models.JobQueued, models.JobFailed, func(job *models.Job) {
		job.Error = strings.TrimSpace(detail)
		job.CompletedAt = &now
	})
}

func (s *Storage) ListQueuedJobs() ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]models.Job, 0)
	for _, job := range s.data.Jobs {
		if job.State == models.JobQueued {
			jobs = append(jobs, cloneJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *Storage) RecoverStaleJobs(olderThan time.Duration, detail string) ([]models.Job, error) {
	if olderThan <= 0 {
		return nil, fmt.Errorf("staleness threshold must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	cutoff := now.Add(-olderThan)
	recovered := make([]models.Job, 0)
	original := make(map[string]models.Job)
	for id, job := range s.data.Jobs {
		if job.State != models.JobRunning {
			continue
		}
		claimed := job.CreatedAt
		if job.StartedAt != nil {
			claimed = *job.StartedAt
		}
		if claimed.After(cutoff) {
			continue
		}
		original[id] = job
		completed := now
		job.State = models.JobFailed
		job.Error = strings.TrimSpace(detail)
		job.CompletedAt = &completed
		s.data.Jobs[id] = job
		recovered = append(recovered, cloneJob(job))
	}
	if len(recovered) == 0 {
		return nil, nil
	}
	if err := s.persist(); err != nil {
		for id, job := range original {
			s.data.Jobs[id] = job
		}
		return nil, err
	}
	sort.Slice(recovered, func(i, j int) bool {
		return recovered[i].ID < recovered[j].ID
	})
	return recovered, nil
}

func (s *Storage) PurgeTerminalJobs(retention time.Duration) ([]models.Job, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention window must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock().Add(-retention)
	purgedJobs := make(map[string]models.Job)
	purgedSegments := make(map[string]models.Segment)
	for id, job := range s.data.Jobs {
		if !job.State.Terminal() {
			continue
		}
		completed := job.CreatedAt
		if job.CompletedAt != nil {
			completed = *job.CompletedAt
		}
		if completed.After(cutoff) {
			continue
		}
		purgedJobs[id] = job
		delete(s.data.Jobs, id)
		for segmentID, segment := range s.data.Segments {
			if segment.JobID == id {
				purgedSegments[segmentID] = segment
				delete(s.data.Segments, segmentID)
			}
		}
	}
	if len(purgedJobs) == 0 {
		return nil, nil
	}
	if err := s.persist(); err != nil {
		for id, job := range purgedJobs {
			s.data.Jobs[id] = job
		}
		for id, segment := range purgedSegments {
			s.data.Segments[id] = segment
		}
		return nil, err
	}
	removed := make([]models.Job, 0, len(purgedJobs))
	for _, job := range purgedJobs {
		removed = append(removed, cloneJob(job))
	}
	sort.Slice(removed, func(i, j int) bool {
		return removed[i].ID < removed[j].ID
	})
	return removed, nil
}
