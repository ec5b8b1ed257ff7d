package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/metrics"
)

var tracer = otel.Tracer("popcornstream/usecase")

// CoordinatorConfig wires the collaborators of a Coordinator. Everything but
// Engine is optional.
type CoordinatorConfig struct {
	Engine        ports.Engine
	Registry      ports.DownloadRegistry
	Fetcher       ports.TorrentFetcher
	Cleaner       ports.CacheCleaner
	Inhibitor     ports.IdleInhibitor
	Network       ports.NetworkMonitor
	WatchProgress ports.WatchProgressStore
	Consumer      ports.PlaybackConsumer
	Logger        *slog.Logger
	Now           func() time.Time
	NewID         func() string
	// AllowMetered permits streaming while the network path is expensive.
	AllowMetered bool
	Quality      domain.QualityPreference
	// Observer receives every published readiness state of every attempt.
	Observer func(domain.ReadinessState)
	// ReleaseAfterPlay ends a streamed session as soon as Consumer.Play
	// returns. Leave it off when other readers, such as HTTP clients, keep
	// streaming after the consumer hands off.
	ReleaseAfterPlay bool
}

// Coordinator turns playback requests into attempts and keeps track of them.
type Coordinator struct {
	cfg CoordinatorConfig

	mu       sync.RWMutex
	attempts map[domain.AttemptID]*Attempt
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Coordinator{
		cfg:      cfg,
		attempts: make(map[domain.AttemptID]*Attempt),
	}
}

type PlaybackRequest struct {
	Media domain.MediaReference
	// TorrentURL is a magnet link, a local .torrent path or a remote
	// .torrent URL. When empty one of Torrents is picked by Quality.
	TorrentURL   string
	Torrents     []domain.TorrentOption
	Quality      domain.QualityPreference
	AllowMetered bool
}

// Start validates the request and begins a new attempt in the background. The
// returned attempt has already published its processing state.
func (c *Coordinator) Start(ctx context.Context, req PlaybackRequest) (*Attempt, error) {
	ctx, span := tracer.Start(ctx, "coordinator.start")
	defer span.End()

	if err := req.Media.Validate(); err != nil {
		return nil, err
	}
	if c.cfg.Network != nil && c.cfg.Network.IsExpensive() && !c.cfg.AllowMetered && !req.AllowMetered {
		return nil, ErrMeteredNetwork
	}

	raw := req.TorrentURL
	if raw == "" {
		pref := req.Quality
		if pref == domain.QualityAsk {
			pref = c.cfg.Quality
		}
		opt, err := SelectTorrent(req.Torrents, pref)
		if err != nil {
			return nil, err
		}
		raw = opt.URL
	}

	media := req.Media
	if media.ResumeFraction == 0 {
		media.ResumeFraction = c.resumeFraction(ctx, media.Media)
	}

	id := domain.AttemptID(c.cfg.NewID())
	a := &Attempt{
		ID:     id,
		coord:  c,
		media:  media,
		source: raw,
	}
	var observers []func(domain.ReadinessState)
	if c.cfg.Observer != nil {
		observers = append(observers, c.cfg.Observer)
	}
	a.publisher = NewReadinessPublisher(id, observers...)
	a.publisher.now = c.cfg.Now

	c.mu.Lock()
	c.attempts[id] = a
	c.mu.Unlock()

	metrics.AttemptsStartedTotal.Inc()
	c.cfg.Logger.Info("coordinator: playback attempt started",
		slog.String("attemptId", string(id)),
		slog.String("mediaId", string(media.Media.MediaID())),
		slog.String("title", media.Media.DisplayTitle()),
	)

	a.begin(context.WithoutCancel(ctx))
	return a, nil
}

func (c *Coordinator) resumeFraction(ctx context.Context, m domain.Media) float64 {
	if c.cfg.WatchProgress == nil {
		return 0
	}
	p, err := c.cfg.WatchProgress.Get(ctx, m.Kind(), m.MediaID())
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.cfg.Logger.Warn("coordinator: watch progress lookup failed",
				slog.String("mediaId", string(m.MediaID())),
				slog.String("error", err.Error()),
			)
		}
		return 0
	}
	return clampFraction(p.Fraction)
}

func (c *Coordinator) Get(id domain.AttemptID) (*Attempt, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// List returns the current state of every known attempt, newest first.
func (c *Coordinator) List() []domain.ReadinessState {
	c.mu.RLock()
	out := make([]domain.ReadinessState, 0, len(c.attempts))
	for _, a := range c.attempts {
		out = append(out, a.State())
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Forget drops a terminal attempt from the coordinator and releases the
// engine session of a ready stream.
func (c *Coordinator) Forget(id domain.AttemptID) error {
	c.mu.Lock()
	a, ok := c.attempts[id]
	if !ok {
		c.mu.Unlock()
		return ErrAttemptNotFound
	}
	if !a.State().Status.IsTerminal() {
		c.mu.Unlock()
		return fmt.Errorf("%w: attempt still running", ErrRetryNotAllowed)
	}
	delete(c.attempts, id)
	c.mu.Unlock()

	a.release()
	return nil
}

// AbortActive fails every running session with cause and returns how many
// sessions were aborted.
func (c *Coordinator) AbortActive(cause error) int {
	c.mu.RLock()
	attempts := make([]*Attempt, 0, len(c.attempts))
	for _, a := range c.attempts {
		attempts = append(attempts, a)
	}
	c.mu.RUnlock()

	n := 0
	for _, a := range attempts {
		if a.abort(cause) {
			n++
		}
	}
	return n
}

// ClearCache empties the torrent cache through the configured cleaner.
func (c *Coordinator) ClearCache(ctx context.Context) (int64, error) {
	if c.cfg.Cleaner == nil {
		return 0, domain.ErrUnsupported
	}
	freed, err := c.cfg.Cleaner.Clear(ctx)
	if err != nil {
		return 0, err
	}
	metrics.CacheClearedBytesTotal.Add(float64(freed))
	c.cfg.Logger.Info("coordinator: cache cleared", slog.Int64("freedBytes", freed))
	return freed, nil
}

// play hands a ready file to the consumer. release, when set, ends the
// engine session behind handle.
func (c *Coordinator) play(ctx context.Context, pb domain.Playback, handle ports.StreamHandle, release func()) {
	if c.cfg.Consumer == nil {
		return
	}
	go func() {
		if err := c.cfg.Consumer.Play(ctx, pb, handle); err != nil {
			c.cfg.Logger.Warn("coordinator: playback consumer failed",
				slog.String("file", pb.LocalFile),
				slog.String("error", err.Error()),
			)
		}
		if c.cfg.ReleaseAfterPlay && release != nil {
			release()
		}
	}()
}
