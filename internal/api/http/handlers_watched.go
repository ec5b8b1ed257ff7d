package apihttp

import (
	"net/http"

	"popcornstream/internal/domain"
)

type watchedRequest struct {
	Fraction float64 `json:"fraction"`
}

// handleWatched serves /watched/{kind}/{id}.
func (s *Server) handleWatched(w http.ResponseWriter, r *http.Request) {
	if s.getWatched == nil || s.recordWatched == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "watch progress not configured")
		return
	}

	parts := splitPath(r.URL.Path, "/watched/")
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	kind := domain.MediaKind(parts[0])
	id := domain.MediaID(parts[1])

	switch r.Method {
	case http.MethodGet:
		p, err := s.getWatched.Execute(r.Context(), kind, id)
		if err != nil {
			writeUseCaseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	case http.MethodPut:
		var body watchedRequest
		if err := decodeJSON(r, &body, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		p, err := s.recordWatched.Execute(r.Context(), domain.WatchProgress{
			MediaID:  id,
			Kind:     kind,
			Fraction: body.Fraction,
		})
		if err != nil {
			writeUseCaseError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
