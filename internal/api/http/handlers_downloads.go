package apihttp

import (
	"net/http"

	"popcornstream/internal/domain"
	"popcornstream/internal/storage/disk"
)

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.downloads == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "download registry not configured")
		return
	}
	records, err := s.downloads.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
		return
	}
	if records == nil {
		records = []domain.DownloadRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDownloadByID(w http.ResponseWriter, r *http.Request) {
	if s.downloads == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "download registry not configured")
		return
	}
	parts := splitPath(r.URL.Path, "/downloads/")
	if len(parts) != 1 {
		http.NotFound(w, r)
		return
	}
	id := domain.MediaID(parts[0])

	switch r.Method {
	case http.MethodPut:
		var rec domain.DownloadRecord
		if err := decodeJSON(r, &rec, false); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if rec.MediaID != "" && rec.MediaID != id {
			writeError(w, http.StatusBadRequest, "invalid_request", "mediaId does not match path")
			return
		}
		rec.MediaID = id
		if err := rec.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.checkRecordPaths(rec); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.downloads.Upsert(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, "repository_error", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)

	case http.MethodDelete:
		if err := s.downloads.Delete(r.Context(), id); err != nil {
			writeUseCaseError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// checkRecordPaths keeps registry files inside the download root.
func (s *Server) checkRecordPaths(rec domain.DownloadRecord) error {
	for _, p := range []string{rec.LocalFile, rec.LocalDir} {
		if p == "" {
			continue
		}
		if err := disk.CheckWithin(s.downloadRoot, p); err != nil {
			return err
		}
	}
	return nil
}
