// Package api implements the HTTP handlers for the video splitter: upload
// and listing, split submission, job polling, and segment delivery.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/codegoblin4122/video-splitter/internal/artifact"
	"github.com/codegoblin4122/video-splitter/internal/auth"
	"github.com/codegoblin4122/video-splitter/internal/models"
	"github.com/codegoblin4122/video-splitter/internal/runner"
	"github.com/codegoblin4122/video-splitter/internal/storage"
)

type Handler struct {
	Store       storage.Repository
	Artifacts   *artifact.Store
	Runner      *runner.Runner
	Prober      DurationProber
	Credentials *auth.Credentials
	Tokens      *auth.Issuer
	Logger      *slog.Logger
	Version     string
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Health reports liveness plus datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	payload := map[string]interface{}{
		"status":  "ok",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": h.Version,
	}
	status := http.StatusOK
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		h.logger().Error("health check failed", "error", err)
		payload["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges a username/password pair for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	role, err := h.Credentials.Authenticate(req.Username, req.Password)
	if err != nil {
		respondError(w, err)
		return
	}
	token, expiry, err := h.Tokens.Issue(strings.TrimSpace(req.Username), role)
	if err != nil {
		h.logger().Error("token issuance failed", "error", err)
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"role":       role,
		"expires_at": expiry.UTC().Format(time.RFC3339),
	})
}

// identify extracts and verifies the bearer token. A missing or invalid
// token writes a 401 and reports ok=false.
func (h *Handler) identify(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		writeError(w, http.StatusUnauthorized, errors.New("bearer token required"))
		return auth.Identity{}, false
	}
	identity, err := h.Tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		respondError(w, err)
		return auth.Identity{}, false
	}
	return identity, true
}

// authorizeVideo loads a video and checks the caller may act on it. Admins
// see every video; users only their own.
func (h *Handler) authorizeVideo(identity auth.Identity, videoID string) (models.Video, error) {
	video, ok := h.Store.GetVideo(videoID)
	if !ok {
		return models.Video{}, storage.ErrNotFound
	}
	if identity.Role != auth.RoleAdmin && video.Owner != identity.Username {
		return models.Video{}, ErrForbidden
	}
	return video, nil
}
