package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/storage/disk"
)

// defaultMaxConns is applied to every streaming torrent.
const defaultMaxConns = 35

const (
	// addTorrentTimeout caps the time we wait for the anacrolix client to
	// accept a torrent. AddMagnet can block on an internal client mutex when
	// the client is busy resolving metadata for another torrent.
	addTorrentTimeout      = 10 * time.Second
	defaultMetadataTimeout = 10 * time.Minute
	defaultReadyBuffer     = 16 << 20
	defaultPollInterval    = time.Second
)

var errClientNotConfigured = errors.New("torrent client not configured")

type Config struct {
	DataDir          string
	ReadyBufferBytes int64         // bytes at the head of the chosen file required before ready
	MetadataTimeout  time.Duration // fail the session when metadata does not arrive in time
	MinFreeBytes     int64         // free space that must remain after the chosen file is complete
	PollInterval     time.Duration
	Logger           *slog.Logger
}

// Engine adapts an anacrolix client to ports.Engine. Each Start runs one
// worker goroutine that owns the event channel of its session.
type Engine struct {
	client *torrent.Client
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[domain.SessionID]*Session
	owners   map[metainfo.Hash]int

	speedMu sync.Mutex
	speeds  map[domain.SessionID]speedSample

	freeBytes func(path string) (int64, error)
}

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	} else {
		cfg.DataDir = clientConfig.DataDir
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg), nil
}

func NewWithClient(client *torrent.Client, cfg Config) *Engine {
	if cfg.ReadyBufferBytes <= 0 {
		cfg.ReadyBufferBytes = defaultReadyBuffer
	}
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = defaultMetadataTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		sessions:  make(map[domain.SessionID]*Session),
		owners:    make(map[metainfo.Hash]int),
		speeds:    make(map[domain.SessionID]speedSample),
		freeBytes: disk.FreeBytes,
	}
}

// Start adds the torrent to the client and launches the session worker. On
// error nothing is sent on events and the channel is left open.
func (e *Engine) Start(ctx context.Context, id domain.SessionID, src domain.TorrentSource, events chan<- ports.EngineEvent) (ports.StreamHandle, error) {
	if e.client == nil {
		return nil, errClientNotConfigured
	}
	if !src.Streamable() {
		return nil, fmt.Errorf("%w: source kind %s must be resolved before start", domain.ErrUnsupported, src.Kind)
	}

	t, err := e.addTorrent(ctx, src)
	if err != nil {
		return nil, err
	}

	s := newSession(e, id, t, events)
	e.mu.Lock()
	e.sessions[id] = s
	e.owners[t.InfoHash()]++
	e.mu.Unlock()

	e.logger.Info("torrent engine: session started",
		slog.String("sessionId", string(id)),
		slog.String("infoHash", t.InfoHash().HexString()),
		slog.String("source", string(src.Kind)),
	)
	go s.run()
	return s, nil
}

// addTorrent runs AddMagnet / AddTorrentFromFile with a timeout so a busy
// client never blocks the caller indefinitely.
func (e *Engine) addTorrent(ctx context.Context, src domain.TorrentSource) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		if src.Kind == domain.SourceMagnet {
			t, err = e.client.AddMagnet(src.Location)
		} else {
			t, err = e.client.AddTorrentFromFile(src.Location)
		}
		ch <- addResult{t, err}
	}()

	// The goroutine may still complete after we return; drop the orphan.
	dropLate := func() {
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.t, nil
	case <-time.After(addTorrentTimeout):
		dropLate()
		return nil, errors.New("torrent client busy, try again later")
	case <-ctx.Done():
		dropLate()
		return nil, ctx.Err()
	}
}

// release forgets a session and drops its torrent when no other session
// shares the same info hash. It reports whether the torrent was dropped.
func (e *Engine) release(s *Session) bool {
	e.mu.Lock()
	if e.sessions[s.id] != s {
		e.mu.Unlock()
		return false
	}
	delete(e.sessions, s.id)
	last := true
	if s.torrent != nil {
		h := s.torrent.InfoHash()
		e.owners[h]--
		last = e.owners[h] <= 0
		if last {
			delete(e.owners, h)
		}
	}
	e.mu.Unlock()

	e.forgetSpeed(s.id)
	if last && s.torrent != nil {
		s.torrent.Drop()
		freeOSMemory()
	}
	return last
}

// ActiveDirs lists the on-disk roots of every live session. The cache
// cleaner must leave them alone.
func (e *Engine) ActiveDirs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	dirs := make([]string, 0, len(e.sessions))
	for _, s := range e.sessions {
		if dir := s.dataRoot(); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

func (e *Engine) Close() error {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()
	for _, s := range sessions {
		s.stop()
	}

	if e.client == nil {
		return nil
	}
	errList := e.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// freeOSMemory returns freed memory to the OS promptly after a torrent is
// dropped. Without it the GC may hold on to piece buffers for a long time on
// memory-constrained hosts.
func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func mapFiles(t *torrent.Torrent) (mapped []domain.CandidateFile) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.CandidateFile, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.CandidateFile{
			Index: i,
			Name:  f.DisplayPath(),
			Size:  f.Length(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at        time.Time
	bytesRead int64
}

func (e *Engine) sampleSpeed(id domain.SessionID, stats torrent.TorrentStats, now time.Time) int64 {
	current := stats.BytesReadUsefulData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{at: now, bytesRead: current}
	if !ok || prev.at.IsZero() {
		return 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	delta := current - prev.bytesRead
	if delta < 0 {
		delta = 0
	}
	return int64(float64(delta) / dt)
}

func (e *Engine) forgetSpeed(id domain.SessionID) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
