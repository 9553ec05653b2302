package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/models"
	"github.com/codegoblin4122/video-splitter/internal/storage"
)

func jobPayload(job models.Job) map[string]interface{} {
	payload := map[string]interface{}{
		"job_id":     job.ID,
		"video_id":   job.VideoID,
		"state":      string(job.State),
		"mode":       string(job.Mode),
		"parts":      job.Params.Parts,
		"profile":    job.Params.Profile,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		payload["started_at"] = job.StartedAt.UTC().Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		payload["completed_at"] = job.CompletedAt.UTC().Format(time.RFC3339)
	}
	if job.Error != "" {
		payload["error"] = job.Error
	}
	if job.State == models.JobSucceeded {
		urls := make([]string, 0, len(job.SegmentIDs))
		for _, segmentID := range job.SegmentIDs {
			urls = append(urls, fmt.Sprintf("/api/segments/%s", segmentID))
		}
		payload["segments"] = urls
	}
	return payload
}

// JobByID serves job polling and cancellation:
//
//	GET  /api/jobs/{id}
//	POST /api/jobs/{id}/cancel
func (h *Handler) JobByID(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	remainder := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	jobID, action, _ := strings.Cut(remainder, "/")
	if jobID == "" {
		writeError(w, http.StatusNotFound, errors.New("job id is required"))
		return
	}

	job, ok := h.Store.GetJob(jobID)
	if !ok {
		respondError(w, fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound))
		return
	}
	if _, err := h.authorizeVideo(identity, job.VideoID); err != nil {
		respondError(w, err)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		writeJSON(w, http.StatusOK, jobPayload(job))
	case "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		cancelled, err := h.Runner.Cancel(job.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		h.logger().Info("job cancelled", "job_id", job.ID, "video_id", job.VideoID)
		writeJSON(w, http.StatusOK, jobPayload(cancelled))
	case "segments":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		segments, err := h.Store.ListSegments(job.ID)
		if err != nil {
			respondError(w, err)
			return
		}
		payloads := make([]map[string]interface{}, 0, len(segments))
		for _, segment := range segments {
			payloads = append(payloads, segmentPayload(segment))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":   job.ID,
			"state":    string(job.State),
			"segments": payloads,
		})
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job resource %q", action))
	}
}
