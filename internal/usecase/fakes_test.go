package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type fakeStreamReader struct {
	ctx        context.Context
	readahead  int64
	responsive bool
}

func (f *fakeStreamReader) SetContext(ctx context.Context) { f.ctx = ctx }
func (f *fakeStreamReader) SetReadahead(n int64)           { f.readahead = n }
func (f *fakeStreamReader) SetResponsive()                 { f.responsive = true }
func (f *fakeStreamReader) Read(p []byte) (int, error)     { return 0, io.EOF }
func (f *fakeStreamReader) Seek(int64, int) (int64, error) { return 0, nil }
func (f *fakeStreamReader) Close() error                   { return nil }

type fakeHandle struct {
	id     domain.SessionID
	events chan<- ports.EngineEvent

	mu        sync.Mutex
	selected  []int
	selectErr error
	cancels   []bool
	closed    bool
}

func (h *fakeHandle) SessionID() domain.SessionID { return h.id }

func (h *fakeHandle) SelectFile(index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.selectErr != nil {
		return h.selectErr
	}
	h.selected = append(h.selected, index)
	return nil
}

func (h *fakeHandle) Cancel(deleteData bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels = append(h.cancels, deleteData)
	h.closeLocked()
	return nil
}

func (h *fakeHandle) NewReader() (ports.StreamReader, error) {
	return &fakeStreamReader{}, nil
}

// emit sends ev as the engine would. Events after the engine stopped are
// dropped.
func (h *fakeHandle) emit(ev ports.EngineEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if ev.SessionID == "" {
		ev.SessionID = h.id
	}
	h.events <- ev
}

// finish closes the event channel the way the engine does when its worker
// exits after ready or failure.
func (h *fakeHandle) finish() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
}

func (h *fakeHandle) closeLocked() {
	if !h.closed {
		h.closed = true
		close(h.events)
	}
}

func (h *fakeHandle) selections() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.selected...)
}

func (h *fakeHandle) cancelCalls() []bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]bool(nil), h.cancels...)
}

type fakeEngine struct {
	mu       sync.Mutex
	startErr error
	block    chan struct{}
	sources  []domain.TorrentSource
	handles  []*fakeHandle
	started  chan *fakeHandle
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan *fakeHandle, 8)}
}

func (e *fakeEngine) Start(ctx context.Context, id domain.SessionID, src domain.TorrentSource, events chan<- ports.EngineEvent) (ports.StreamHandle, error) {
	e.mu.Lock()
	e.sources = append(e.sources, src)
	block := e.block
	startErr := e.startErr
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if startErr != nil {
		return nil, startErr
	}
	h := &fakeHandle{id: id, events: events}
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	e.started <- h
	return h, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sources)
}

func (e *fakeEngine) lastSource() domain.TorrentSource {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sources) == 0 {
		return domain.TorrentSource{}
	}
	return e.sources[len(e.sources)-1]
}

func (e *fakeEngine) nextHandle(t *testing.T) *fakeHandle {
	t.Helper()
	select {
	case h := <-e.started:
		return h
	case <-time.After(2 * time.Second):
		t.Fatal("engine was not started")
		return nil
	}
}

type fakeRegistry struct {
	active    []domain.DownloadRecord
	completed []domain.DownloadRecord
	err       error
}

func (r *fakeRegistry) ActiveDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.active, r.err
}

func (r *fakeRegistry) CompletedDownloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	return r.completed, r.err
}

type fakeFetcher struct {
	path  string
	err   error
	block bool
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.path, f.err
}

type fakeInhibitor struct {
	acquired atomic.Int32
	released atomic.Int32
}

func (f *fakeInhibitor) Acquire(reason string) func() {
	f.acquired.Add(1)
	return func() { f.released.Add(1) }
}

type fakeNetwork struct{ expensive bool }

func (f fakeNetwork) IsExpensive() bool { return f.expensive }

type fakeWatchStore struct {
	mu    sync.Mutex
	items map[domain.MediaID]domain.WatchProgress
	err   error
}

func (s *fakeWatchStore) Get(ctx context.Context, kind domain.MediaKind, id domain.MediaID) (domain.WatchProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.WatchProgress{}, s.err
	}
	p, ok := s.items[id]
	if !ok || p.Kind != kind {
		return domain.WatchProgress{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *fakeWatchStore) Upsert(ctx context.Context, p domain.WatchProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.items == nil {
		s.items = make(map[domain.MediaID]domain.WatchProgress)
	}
	s.items[p.MediaID] = p
	return nil
}

type playCall struct {
	playback  domain.Playback
	hasHandle bool
}

type fakeConsumer struct {
	calls chan playCall
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{calls: make(chan playCall, 4)}
}

func (c *fakeConsumer) Play(ctx context.Context, pb domain.Playback, handle ports.StreamHandle) error {
	c.calls <- playCall{playback: pb, hasHandle: handle != nil}
	return nil
}

type fakeCleaner struct {
	freed int64
	err   error
	calls atomic.Int32
}

func (c *fakeCleaner) Clear(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return c.freed, c.err
}

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForStatus(t *testing.T, current func() domain.ReadinessState, want domain.ReadinessStatus) domain.ReadinessState {
	t.Helper()
	var st domain.ReadinessState
	waitFor(t, "status "+string(want), func() bool {
		st = current()
		return st.Status == want
	})
	return st
}
