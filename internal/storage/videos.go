package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/codegoblin4122/video-splitter/internal/models"
)

// VideoStatusUploaded is the sole status a video record carries; videos are
// immutable after creation except for derived job and segment links.
const VideoStatusUploaded = "uploaded"

func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	filename := strings.TrimSpace(params.Filename)
	if filename == "" {
		return models.Video{}, fmt.Errorf("filename is required")
	}
	if strings.TrimSpace(params.InputPath) == "" {
		return models.Video{}, fmt.Errorf("input path is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureDatasetInitializedLocked()

	id := strings.TrimSpace(params.ID)
	if id == "" {
		generated, err := generateID()
		if err != nil {
			return models.Video{}, err
		}
		id = generated
	} else if _, exists := s.data.Videos[id]; exists {
		return models.Video{}, fmt.Errorf("video %s: %w", id, ErrConflict)
	}
	video := models.Video{
		ID:              id,
		Owner:           strings.TrimSpace(params.Owner),
		Filename:        filename,
		InputPath:       params.InputPath,
		SizeBytes:       params.SizeBytes,
		DurationSeconds: params.DurationSeconds,
		Status:          VideoStatusUploaded,
		CreatedAt:       s.clock(),
	}

	s.data.Videos[id] = video
	if err := s.persist(); err != nil {
		delete(s.data.Videos, id)
		return models.Video{}, err
	}
	return video, nil
}

func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	video, ok := s.data.Videos[id]
	return video, ok
}

func (s *Storage) ListVideos(owner string, page, pageSize int) ([]models.VideoSummary, int, error) {
	if page < 1 {
		return nil, 0, fmt.Errorf("page must be positive")
	}
	if pageSize < 1 {
		return nil, 0, fmt.Errorf("pageSize must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.VideoSummary, 0)
	for _, video := range s.data.Videos {
		if owner != "" && video.Owner != owner {
			continue
		}
		summaries = append(summaries, models.VideoSummary{
			ID:              video.ID,
			Owner:           video.Owner,
			Filename:        video.Filename,
			DurationSeconds: video.DurationSeconds,
			CreatedAt:       video.CreatedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	total := len(summaries)
	start := (page - 1) * pageSize
	if start >= total {
		return []models.VideoSummary{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return summaries[start:end], total, nil
}
