package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/models"
	"github.com/codegoblin4122/video-splitter/internal/storage"
)

func segmentPayload(segment models.Segment) map[string]interface{} {
	return map[string]interface{}{
		"segment_id": segment.ID,
		"job_id":     segment.JobID,
		"video_id":   segment.VideoID,
		"index":      segment.Index,
		"size_bytes": segment.SizeBytes,
		"sha256":     segment.SHA256,
		"url":        fmt.Sprintf("/api/segments/%s", segment.ID),
		"created_at": segment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// SegmentByID streams one segment file. Responses carry a content-hash ETag
// so clients revalidate with If-None-Match instead of re-downloading.
func (h *Handler) SegmentByID(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identify(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	segmentID := strings.TrimPrefix(r.URL.Path, "/api/segments/")
	if segmentID == "" || strings.Contains(segmentID, "/") {
		writeError(w, http.StatusNotFound, errors.New("segment id is required"))
		return
	}

	segment, ok := h.Store.GetSegment(segmentID)
	if !ok {
		respondError(w, fmt.Errorf("segment %s: %w", segmentID, storage.ErrNotFound))
		return
	}
	if _, err := h.authorizeVideo(identity, segment.VideoID); err != nil {
		respondError(w, err)
		return
	}

	etag := fmt.Sprintf("%q", segment.SHA256)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(segment.Path)))
	http.ServeFile(w, r, segment.Path)
}

// etagMatches implements the weak comparison of If-None-Match: any listed
// entity tag matching, or "*", revalidates.
func etagMatches(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	if header == "*" {
		return true
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == etag {
			return true
		}
	}
	return false
}
