package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/artifact"
	"github.com/codegoblin4122/video-splitter/internal/auth"
	"github.com/codegoblin4122/video-splitter/internal/models"
	"github.com/codegoblin4122/video-splitter/internal/storage"
	"github.com/codegoblin4122/video-splitter/internal/transcode"
)

// DurationProber reports a media file's duration. Satisfied by
// transcode.FFmpegExecutor.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

const (
	defaultPageSize = 25
	maxPageSize     = 100
	probeTimeout    = 30 * time.Second
)

// Videos dispatches the collection endpoints: POST uploads a video, GET
// lists the caller's videos one page at a time.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.uploadVideo(w, r, identity)
	case http.MethodGet:
		h.listVideos(w, r, identity)
	default:
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (h *Handler) uploadVideo(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("multipart field %q is required", "file"))
		return
	}
	defer file.Close()

	filename := artifact.NormalizeFilename(header.Filename)
	if filename == "" {
		writeError(w, http.StatusBadRequest, errors.New("filename is required"))
		return
	}

	videoID, err := storage.NewID()
	if err != nil {
		h.logger().Error("id generation failed", "error", err)
		respondError(w, err)
		return
	}
	size, err := h.Artifacts.SaveInput(videoID, file)
	if err != nil {
		h.logger().Error("upload save failed", "video_id", videoID, "error", err)
		respondError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	duration, err := h.Prober.ProbeDuration(ctx, h.Artifacts.InputPath(videoID))
	if err != nil {
		h.Artifacts.RemoveVideo(videoID)
		writeError(w, http.StatusBadRequest, errors.New("could not determine video duration"))
		return
	}

	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		ID:              videoID,
		Owner:           identity.Username,
		Filename:        filename,
		InputPath:       h.Artifacts.InputPath(videoID),
		SizeBytes:       size,
		DurationSeconds: duration,
	})
	if err != nil {
		h.Artifacts.RemoveVideo(videoID)
		h.logger().Error("video record creation failed", "video_id", videoID, "error", err)
		respondError(w, err)
		return
	}

	h.logger().Info("video uploaded",
		"video_id", video.ID,
		"owner", video.Owner,
		"size_bytes", video.SizeBytes,
		"duration_seconds", video.DurationSeconds)
	writeJSON(w, http.StatusCreated, videoPayload(video))
}

func (h *Handler) listVideos(w http.ResponseWriter, r *http.Request, identity auth.Identity) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, errors.New("page must be a positive integer"))
			return
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxPageSize {
			writeError(w, http.StatusBadRequest, fmt.Errorf("page_size must be between 1 and %d", maxPageSize))
			return
		}
		pageSize = parsed
	}

	owner := identity.Username
	if identity.Role == auth.RoleAdmin {
		owner = ""
	}
	videos, total, err := h.Store.ListVideos(owner, page, pageSize)
	if err != nil {
		respondError(w, err)
		return
	}

	summaries := make([]map[string]interface{}, 0, len(videos))
	for _, video := range videos {
		summaries = append(summaries, map[string]interface{}{
			"video_id":         video.ID,
			"filename":         video.Filename,
			"duration_seconds": video.DurationSeconds,
			"created_at":       video.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"videos":    summaries,
	})
}

// VideoByID dispatches the per-video endpoints: detail, source download,
// split submission, and segment listing.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	remainder := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	videoID, action, _ := strings.Cut(remainder, "/")
	if videoID == "" {
		writeError(w, http.StatusNotFound, errors.New("video id is required"))
		return
	}

	video, err := h.authorizeVideo(identity, videoID)
	if err != nil {
		respondError(w, err)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.videoDetail(w, video)
	case "source":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.videoSource(w, r, video)
	case "split":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.submitSplit(w, r, video)
	case "segments":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
			return
		}
		h.videoSegments(w, video)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown video resource %q", action))
	}
}

func videoPayload(video models.Video) map[string]interface{} {
	return map[string]interface{}{
		"video_id":         video.ID,
		"owner":            video.Owner,
		"filename":         video.Filename,
		"size_bytes":       video.SizeBytes,
		"duration_seconds": video.DurationSeconds,
		"status":           video.Status,
		"created_at":       video.CreatedAt.UTC().Format(time.RFC3339),
		"source_url":       fmt.Sprintf("/api/videos/%s/source", video.ID),
	}
}

func (h *Handler) videoDetail(w http.ResponseWriter, video models.Video) {
	payload := videoPayload(video)
	jobs, err := h.Store.ListJobs(video.ID)
	if err == nil {
		jobPayloads := make([]map[string]interface{}, 0, len(jobs))
		for _, job := range jobs {
			jobPayloads = append(jobPayloads, jobPayload(job))
		}
		payload["jobs"] = jobPayloads
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) videoSource(w http.ResponseWriter, r *http.Request, video models.Video) {
	path := h.Artifacts.InputPath(video.ID)
	if _, err := h.Artifacts.InputStat(video.ID); err != nil {
		writeError(w, http.StatusNotFound, errors.New("source file not found"))
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", video.Filename))
	http.ServeFile(w, r, path)
}

type splitRequest struct {
	Parts   int    `json:"parts"`
	Profile string `json:"profile"`
	Mode    string `json:"mode"`
}

func (h *Handler) submitSplit(w http.ResponseWriter, r *http.Request, video models.Video) {
	req := splitRequest{Parts: 10, Profile: transcode.ProfileHeavy, Mode: string(models.ModeAsync)}
	if r.Body != nil && r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if req.Parts == 0 {
			req.Parts = 10
		}
		if req.Profile == "" {
			req.Profile = transcode.ProfileHeavy
		}
		if req.Mode == "" {
			req.Mode = string(models.ModeAsync)
		}
	}

	mode := models.JobMode(req.Mode)
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("mode must be %q or %q", models.ModeSync, models.ModeAsync))
		return
	}

	job, err := h.Runner.Submit(r.Context(), video.ID, models.SplitParams{
		Parts:   req.Parts,
		Profile: req.Profile,
	}, mode)
	if err != nil {
		respondError(w, err)
		return
	}

	status := http.StatusAccepted
	if mode == models.ModeSync {
		status = http.StatusOK
	}
	writeJSON(w, status, jobPayload(job))
}

func (h *Handler) videoSegments(w http.ResponseWriter, video models.Video) {
	segments, err := h.Store.ListVideoSegments(video.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	payloads := make([]map[string]interface{}, 0, len(segments))
	for _, segment := range segments {
		payloads = append(payloads, segmentPayload(segment))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"video_id": video.ID,
		"segments": payloads,
	})
}
