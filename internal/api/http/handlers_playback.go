package apihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/storage/disk"
	"popcornstream/internal/usecase"
)

// streamReadahead is the window prioritised ahead of a player's read position.
const streamReadahead = 8 << 20

type playbackRequest struct {
	Media          domain.MediaDescriptor   `json:"media"`
	ResumeFraction float64                  `json:"resumeFraction"`
	NextEpisode    *domain.MediaDescriptor  `json:"nextEpisode"`
	TorrentURL     string                   `json:"torrentUrl"`
	Torrents       []domain.TorrentOption   `json:"torrents"`
	Quality        domain.QualityPreference `json:"quality"`
	AllowMetered   bool                     `json:"allowMetered"`
}

type playbackResponse struct {
	AttemptID domain.AttemptID      `json:"attemptId"`
	State     domain.ReadinessState `json:"state"`
}

type qualityChoiceResponse struct {
	Error   errorPayload           `json:"error"`
	Options []domain.TorrentOption `json:"options"`
}

type fileChoiceRequest struct {
	Index *int   `json:"index"`
	Name  string `json:"name"`
}

type retryRequest struct {
	ClearCache bool `json:"clearCache"`
}

type clearCacheResponse struct {
	FreedBytes int64 `json:"freedBytes"`
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.coord.List())
	case http.MethodPost:
		s.startPlayback(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) startPlayback(w http.ResponseWriter, r *http.Request) {
	var body playbackRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	attempt, err := s.coord.Start(ctx, req)
	if err != nil {
		if errors.Is(err, usecase.ErrQualityChoiceRequired) {
			writeJSON(w, http.StatusConflict, qualityChoiceResponse{
				Error:   errorPayload{Code: "quality_choice_required", Message: err.Error()},
				Options: usecase.RankTorrents(body.Torrents),
			})
			return
		}
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, playbackResponse{AttemptID: attempt.ID, State: attempt.State()})
}

func (b playbackRequest) toRequest() (usecase.PlaybackRequest, error) {
	media, err := b.Media.Media()
	if err != nil {
		return usecase.PlaybackRequest{}, err
	}
	ref := domain.MediaReference{Media: media, ResumeFraction: b.ResumeFraction}
	if b.NextEpisode != nil {
		next, err := b.NextEpisode.Media()
		if err != nil {
			return usecase.PlaybackRequest{}, err
		}
		ep, ok := next.(domain.Episode)
		if !ok {
			return usecase.PlaybackRequest{}, fmt.Errorf("%w: next episode must be an episode", domain.ErrInvalidMedia)
		}
		ref.NextEpisode = &ep
	}
	switch b.Quality {
	case domain.QualityAsk, domain.QualityHighest, domain.QualityLowest:
	default:
		return usecase.PlaybackRequest{}, fmt.Errorf("%w: unknown quality preference %q", domain.ErrInvalidMedia, b.Quality)
	}
	return usecase.PlaybackRequest{
		Media:        ref,
		TorrentURL:   b.TorrentURL,
		Torrents:     b.Torrents,
		Quality:      b.Quality,
		AllowMetered: b.AllowMetered,
	}, nil
}

func (s *Server) handlePlaybackByID(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/playback/")
	if len(parts) == 0 || len(parts) > 2 {
		http.NotFound(w, r)
		return
	}
	id := domain.AttemptID(parts[0])
	attempt, err := s.coord.Get(id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, attempt.State())
		case http.MethodDelete:
			s.cancelPlayback(w, attempt)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch parts[1] {
	case "file":
		s.chooseFile(w, r, attempt)
	case "retry":
		s.retryPlayback(w, r, attempt)
	case "stream":
		s.streamPlayback(w, r, attempt)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) cancelPlayback(w http.ResponseWriter, attempt *usecase.Attempt) {
	if attempt.State().Status.IsTerminal() {
		if err := s.coord.Forget(attempt.ID); err != nil {
			writeUseCaseError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	attempt.Cancel()
	writeJSON(w, http.StatusAccepted, attempt.State())
}

func (s *Server) chooseFile(w http.ResponseWriter, r *http.Request, attempt *usecase.Attempt) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body fileChoiceRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var err error
	switch {
	case body.Index != nil && body.Name != "":
		writeError(w, http.StatusBadRequest, "invalid_request", "index and name are mutually exclusive")
		return
	case body.Index != nil:
		err = attempt.ChooseFile(*body.Index)
	case body.Name != "":
		err = attempt.ChooseFileByName(body.Name)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "index or name is required")
		return
	}
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attempt.State())
}

func (s *Server) retryPlayback(w http.ResponseWriter, r *http.Request, attempt *usecase.Attempt) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body retryRequest
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	if err := attempt.Retry(ctx, body.ClearCache); err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, attempt.State())
}

func (s *Server) streamPlayback(w http.ResponseWriter, r *http.Request, attempt *usecase.Attempt) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state := attempt.State()
	if state.Status != domain.StatusReady || state.Playback == nil {
		writeUseCaseError(w, usecase.ErrNotReady)
		return
	}
	pb := state.Playback

	var (
		content io.ReadSeeker
		modTime time.Time
	)
	if pb.FromRegistry {
		path, err := disk.ResolveWithin(s.downloadRoot, pb.LocalFile)
		if err != nil {
			s.logger.Warn("stream: registry file rejected",
				slog.String("attemptId", string(attempt.ID)),
				slog.String("file", pb.LocalFile),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusNotFound, "not_found", "file not available")
			return
		}
		f, err := os.Open(path)
		if err != nil {
			s.logger.Warn("stream: open registry file failed",
				slog.String("attemptId", string(attempt.ID)),
				slog.String("file", pb.LocalFile),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusNotFound, "not_found", "file not available")
			return
		}
		defer f.Close()
		if info, err := f.Stat(); err == nil {
			modTime = info.ModTime()
		}
		content = f
	} else {
		reader, err := attempt.NewReader()
		if err != nil {
			writeUseCaseError(w, err)
			return
		}
		defer reader.Close()
		reader.SetContext(r.Context())
		reader.SetReadahead(streamReadahead)
		reader.SetResponsive()
		content = reader
	}

	name := filepath.Base(pb.LocalFile)
	w.Header().Set("Content-Type", sniffContentType(content, filepath.Ext(name)))
	w.Header().Set("Accept-Ranges", "bytes")
	http.ServeContent(w, r, name, modTime, content)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	freed, err := s.coord.ClearCache(ctx)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clearCacheResponse{FreedBytes: freed})
}
