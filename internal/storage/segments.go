package storage

import (
	"fmt"
	"sort"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

func (s *Storage) GetSegment(id string) (models.Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	segment, ok := s.data.Segments[id]
	return segment, ok
}

func (s *Storage) ListSegments(jobID string) ([]models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	segments := make([]models.Segment, 0)
	for _, segment := range s.data.Segments {
		if segment.JobID == jobID {
			segments = append(segments, segment)
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Index < segments[j].Index
	})
	return segments, nil
}

func (s *Storage) ListVideoSegments(videoID string) ([]models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data.Videos[videoID]; !ok {
		return nil, fmt.Errorf("video %s: %w", videoID, ErrNotFound)
	}
	jobCreated := make(map[string]int64)
	for id, job := range s.data.Jobs {
		jobCreated[id] = job.CreatedAt.UnixNano()
	}
	segments := make([]models.Segment, 0)
	for _, segment := range s.data.Segments {
		if segment.VideoID == videoID {
			segments = append(segments, segment)
		}
	}
	sort.Slice(segments, func(i, j int) bool {
		if segments[i].JobID != segments[j].JobID {
			return jobCreated[segments[i].JobID] < jobCreated[segments[j].JobID]
		}
		return segments[i].Index < segments[j].Index
	})
	return segments, nil
}
