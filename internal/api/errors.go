package api

import (
	"errors"
	"net/http"

	"github.com/codegoblin4122/video-splitter/internal/auth"
	"github.com/codegoblin4122/video-splitter/internal/storage"
	"github.com/codegoblin4122/video-splitter/internal/transcode"
)

// ErrForbidden marks requests from an authenticated user who does not own
// the resource.
var ErrForbidden = errors.New("forbidden")

// statusForError maps domain sentinels onto HTTP status codes. Anything
// unrecognized is a 500.
func statusForError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrStaleTransition):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, transcode.ErrPrecondition):
		return http.StatusPreconditionFailed
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, errors.New("internal server error"))
		return
	}
	writeError(w, status, err)
}
