package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/h2non/filetype"

	"popcornstream/internal/domain"
	"popcornstream/internal/usecase"
)

const maxBodyBytes = 1 << 20

type errorEnvelope struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeUseCaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidMedia),
		errors.Is(err, usecase.ErrInvalidProgress),
		errors.Is(err, usecase.ErrNoTorrents):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, usecase.ErrInvalidFileIndex):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid file index")
	case errors.Is(err, usecase.ErrMeteredNetwork):
		writeError(w, http.StatusForbidden, "metered_network", err.Error())
	case errors.Is(err, usecase.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "not_found", "playback attempt not found")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, usecase.ErrFileAlreadySelected),
		errors.Is(err, usecase.ErrNotAwaitingFileChoice),
		errors.Is(err, usecase.ErrRetryNotAllowed):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, usecase.ErrNotReady):
		writeError(w, http.StatusConflict, "not_ready", "playback is not ready")
	case errors.Is(err, domain.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "not_configured", err.Error())
	case errors.Is(err, domain.ErrInsufficientStorage):
		writeError(w, http.StatusInsufficientStorage, "insufficient_storage", err.Error())
	case errors.Is(err, usecase.ErrRepository):
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorEnvelope{Error: errorPayload{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// decodeJSON reads a single JSON object from the request body. An empty body
// leaves dst untouched when allowEmpty is set.
func decodeJSON(r *http.Request, dst interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// splitPath returns the non-empty segments of path after prefix.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// sniffContentType matches the container signature at the head of content and
// rewinds it. Unknown containers fall back to the file extension.
func sniffContentType(content io.ReadSeeker, ext string) string {
	head := make([]byte, 262)
	n, _ := io.ReadFull(content, head)
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return fallbackContentType(ext)
	}
	if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return fallbackContentType(ext)
}

func fallbackContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".mkv":
		return "video/x-matroska"
	case ".webm":
		return "video/webm"
	case ".avi":
		return "video/x-msvideo"
	case ".mov":
		return "video/quicktime"
	case ".m4v":
		return "video/x-m4v"
	default:
		return "application/octet-stream"
	}
}
