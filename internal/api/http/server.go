package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"popcornstream/internal/domain"
	"popcornstream/internal/usecase"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// PlaybackCoordinator is the part of usecase.Coordinator the HTTP layer drives.
type PlaybackCoordinator interface {
	Start(ctx context.Context, req usecase.PlaybackRequest) (*usecase.Attempt, error)
	Get(id domain.AttemptID) (*usecase.Attempt, error)
	List() []domain.ReadinessState
	Forget(id domain.AttemptID) error
	ClearCache(ctx context.Context) (int64, error)
}

type GetWatchProgressUseCase interface {
	Execute(ctx context.Context, kind domain.MediaKind, id domain.MediaID) (domain.WatchProgress, error)
}

type RecordWatchProgressUseCase interface {
	Execute(ctx context.Context, p domain.WatchProgress) (domain.WatchProgress, error)
}

// DownloadCatalog is the writable side of the download registry.
type DownloadCatalog interface {
	List(ctx context.Context) ([]domain.DownloadRecord, error)
	Upsert(ctx context.Context, rec domain.DownloadRecord) error
	Delete(ctx context.Context, id domain.MediaID) error
}

type Server struct {
	coord          PlaybackCoordinator
	getWatched     GetWatchProgressUseCase
	recordWatched  RecordWatchProgressUseCase
	downloads      DownloadCatalog
	downloadRoot   string
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	hub            *Hub
	ownsHub        bool
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithWatchProgress(get GetWatchProgressUseCase, record RecordWatchProgressUseCase) ServerOption {
	return func(s *Server) {
		s.getWatched = get
		s.recordWatched = record
	}
}

func WithDownloads(catalog DownloadCatalog) ServerOption {
	return func(s *Server) {
		s.downloads = catalog
	}
}

// WithDownloadRoot confines registry files to dir. Records pointing elsewhere
// are rejected on write and never streamed. Without a root no registry file
// is served.
func WithDownloadRoot(dir string) ServerOption {
	return func(s *Server) {
		s.downloadRoot = dir
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithRateLimit sets the global token bucket. Non-positive values keep the
// defaults.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

// WithHub shares a hub that is also fed by the coordinator observer. The
// caller owns its lifecycle.
func WithHub(hub *Hub) ServerOption {
	return func(s *Server) {
		s.hub = hub
	}
}

func NewServer(coord PlaybackCoordinator, opts ...ServerOption) *Server {
	s := &Server{
		coord:     coord,
		rateRPS:   100,
		rateBurst: 200,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.hub == nil {
		s.hub = NewHub(s.logger)
		s.ownsHub = true
		go s.hub.Run()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/playback", s.handlePlayback)
	mux.HandleFunc("/playback/", s.handlePlaybackByID)
	mux.HandleFunc("/cache/clear", s.handleClearCache)
	mux.HandleFunc("/watched/", s.handleWatched)
	mux.HandleFunc("/downloads", s.handleDownloads)
	mux.HandleFunc("/downloads/", s.handleDownloadByID)
	mux.HandleFunc("/internal/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "popcorn-stream",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/internal/health" && !strings.HasSuffix(p, "/stream")
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(s.rateRPS, s.rateBurst, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops the hub when the server created it.
func (s *Server) Close() {
	if s.ownsHub {
		s.hub.Close()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !s.hub.add(client) {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	// Prime the new client with every attempt it may have missed.
	if s.coord != nil {
		for _, st := range s.coord.List() {
			s.hub.sendTo(client, readinessMessage, st)
		}
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	WSClients int    `json:"wsClients"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{Status: "ok", WSClients: s.hub.ClientCount()}
	if s.coord != nil {
		resp.Attempts = len(s.coord.List())
	}
	writeJSON(w, http.StatusOK, resp)
}
