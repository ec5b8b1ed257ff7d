package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

type coordinatorFixture struct {
	coord    *Coordinator
	engine   *fakeEngine
	registry *fakeRegistry
	fetcher  *fakeFetcher
	cleaner  *fakeCleaner
	watch    *fakeWatchStore
	consumer *fakeConsumer
	network  *fakeNetwork
	ids      int
}

func newCoordinatorFixture() *coordinatorFixture {
	f := &coordinatorFixture{
		engine:   newFakeEngine(),
		registry: &fakeRegistry{},
		fetcher:  &fakeFetcher{path: "/cache/fetched.torrent"},
		cleaner:  &fakeCleaner{freed: 4096},
		watch:    &fakeWatchStore{},
		consumer: newFakeConsumer(),
		network:  &fakeNetwork{},
	}
	f.coord = NewCoordinator(CoordinatorConfig{
		Engine:        f.engine,
		Registry:      f.registry,
		Fetcher:       f.fetcher,
		Cleaner:       f.cleaner,
		Inhibitor:     &fakeInhibitor{},
		Network:       f.network,
		WatchProgress: f.watch,
		Consumer:      f.consumer,
		Logger:        discardLogger(),
		NewID: func() string {
			f.ids++
			return fmt.Sprintf("id-%d", f.ids)
		},
	})
	return f
}

func (f *coordinatorFixture) start(t *testing.T, req PlaybackRequest) *Attempt {
	t.Helper()
	a, err := f.coord.Start(context.Background(), req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	return a
}

func magnetRequest() PlaybackRequest {
	return PlaybackRequest{Media: movieRef(), TorrentURL: "magnet:?xt=urn:btih:abc"}
}

func (f *coordinatorFixture) waitPlay(t *testing.T) playCall {
	t.Helper()
	select {
	case c := <-f.consumer.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("playback consumer not called")
		return playCall{}
	}
}

func TestCoordinatorStartPublishesProcessing(t *testing.T) {
	f := newCoordinatorFixture()
	f.engine.block = make(chan struct{})
	a := f.start(t, magnetRequest())

	st := a.State()
	if st.Status != domain.StatusProcessing {
		t.Fatalf("initial status = %s", st.Status)
	}
	if st.AttemptID != a.ID || st.SessionID == "" {
		t.Fatalf("ids not set: %+v", st)
	}
	if got, err := f.coord.Get(a.ID); err != nil || got != a {
		t.Fatalf("Get = %v, %v", got, err)
	}
	a.Cancel()
	waitForStatus(t, a.State, domain.StatusCancelled)
}

func TestCoordinatorCompletedRegistryHitSkipsEngine(t *testing.T) {
	f := newCoordinatorFixture()
	f.registry.active = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadActive, LocalFile: "/dl/partial.mkv", Progress: 0.4}}
	f.registry.completed = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadCompleted, LocalFile: "/dl/matrix.mkv", LocalDir: "/dl"}}

	a := f.start(t, magnetRequest())
	st := waitForStatus(t, a.State, domain.StatusReady)

	if st.Playback == nil || !st.Playback.FromRegistry || st.Playback.LocalFile != "/dl/matrix.mkv" {
		t.Fatalf("playback = %+v", st.Playback)
	}
	if st.Progress != 1 {
		t.Fatalf("progress = %v", st.Progress)
	}
	if f.engine.startCount() != 0 {
		t.Fatalf("engine started %d times", f.engine.startCount())
	}
	call := f.waitPlay(t)
	if call.hasHandle {
		t.Fatal("registry playback should not carry a stream handle")
	}
	if _, err := a.NewReader(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("NewReader error = %v", err)
	}
}

func TestCoordinatorInProgressRegistryHit(t *testing.T) {
	f := newCoordinatorFixture()
	f.registry.active = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadActive, LocalFile: "/dl/partial.mkv", Progress: 0.4}}

	a := f.start(t, magnetRequest())
	st := waitForStatus(t, a.State, domain.StatusReady)
	if st.Playback.LocalFile != "/dl/partial.mkv" || st.Progress != 0.4 {
		t.Fatalf("state = %+v", st)
	}
	if f.engine.startCount() != 0 {
		t.Fatal("engine should not start for an in-progress download")
	}
}

func TestCoordinatorInProgressWithoutFileStreams(t *testing.T) {
	f := newCoordinatorFixture()
	f.registry.active = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadActive, Progress: 0.01}}

	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	if st := a.State(); st.Status == domain.StatusReady {
		t.Fatalf("record without a file must not be ready: %+v", st)
	}

	h.emit(ports.EngineEvent{Kind: ports.EventFilesAvailable, Files: []domain.CandidateFile{{Index: 0, Name: "m.mkv", Size: 5}}})
	h.emit(ports.EngineEvent{Kind: ports.EventReady, LocalFile: "/data/m.mkv", LocalDir: "/data"})
	st := waitForStatus(t, a.State, domain.StatusReady)
	if st.Playback == nil || st.Playback.FromRegistry || st.Playback.LocalFile != "/data/m.mkv" {
		t.Fatalf("playback = %+v", st.Playback)
	}
	if call := f.waitPlay(t); !call.hasHandle || call.playback.LocalFile == "" {
		t.Fatalf("play call = %+v", call)
	}
	h.finish()
}

func TestCoordinatorRegistryErrorFallsBackToStreaming(t *testing.T) {
	f := newCoordinatorFixture()
	f.registry.err = errBoom

	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	if f.engine.lastSource().Kind != domain.SourceMagnet {
		t.Fatalf("source = %+v", f.engine.lastSource())
	}
	a.Cancel()
	waitForStatus(t, a.State, domain.StatusCancelled)
	if got := h.cancelCalls(); len(got) != 1 || !got[0] {
		t.Fatalf("cancel calls = %v", got)
	}
}

func TestCoordinatorStreamsToReady(t *testing.T) {
	f := newCoordinatorFixture()
	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	if h.id != a.State().SessionID {
		t.Fatalf("engine session id %s, state session id %s", h.id, a.State().SessionID)
	}

	h.emit(ports.EngineEvent{Kind: ports.EventFilesAvailable, Files: []domain.CandidateFile{{Index: 0, Name: "m.mkv", Size: 5}}})
	h.emit(ports.EngineEvent{Kind: ports.EventReady, LocalFile: "/data/m.mkv", LocalDir: "/data"})
	waitForStatus(t, a.State, domain.StatusReady)

	call := f.waitPlay(t)
	if !call.hasHandle || call.playback.LocalFile != "/data/m.mkv" {
		t.Fatalf("play call = %+v", call)
	}
	r, err := a.NewReader()
	if err != nil || r == nil {
		t.Fatalf("NewReader = %v, %v", r, err)
	}

	a.Cancel()
	if got := h.cancelCalls(); len(got) != 0 {
		t.Fatalf("cancel after ready reached the engine: %v", got)
	}
	h.finish()
}

func TestCoordinatorRemoteTorrentIsFetched(t *testing.T) {
	f := newCoordinatorFixture()
	req := PlaybackRequest{Media: movieRef(), TorrentURL: "https://yts.example/torrent/download/ABC"}

	a := f.start(t, req)
	f.engine.nextHandle(t)
	src := f.engine.lastSource()
	if src.Kind != domain.SourceLocalFile || src.Location != "/cache/fetched.torrent" {
		t.Fatalf("engine source = %+v", src)
	}
	if f.fetcher.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d", f.fetcher.calls.Load())
	}
	a.Cancel()
	waitForStatus(t, a.State, domain.StatusCancelled)
}

func TestCoordinatorRemoteFetchFailure(t *testing.T) {
	f := newCoordinatorFixture()
	f.fetcher.err = errors.New("404 not found")

	a := f.start(t, PlaybackRequest{Media: movieRef(), TorrentURL: "https://example.org/x"})
	st := waitForStatus(t, a.State, domain.StatusFailed)
	if st.Failure.Kind != domain.FailureRemoteFetch {
		t.Fatalf("failure kind = %s", st.Failure.Kind)
	}
	if f.engine.startCount() != 0 {
		t.Fatal("engine should not start after a failed fetch")
	}
	if f.fetcher.calls.Load() != 1 {
		t.Fatalf("fetch was retried: %d calls", f.fetcher.calls.Load())
	}
}

func TestCoordinatorSourceResolutionFailure(t *testing.T) {
	f := newCoordinatorFixture()
	a := f.start(t, PlaybackRequest{Media: movieRef(), TorrentURL: "ftp://example.org/file.mkv"})
	st := waitForStatus(t, a.State, domain.StatusFailed)
	if st.Failure.Kind != domain.FailureSourceResolution {
		t.Fatalf("failure kind = %s", st.Failure.Kind)
	}
}

func TestCoordinatorCancelDuringFetch(t *testing.T) {
	f := newCoordinatorFixture()
	f.fetcher.block = true

	a := f.start(t, PlaybackRequest{Media: movieRef(), TorrentURL: "https://example.org/x.torrent"})
	waitFor(t, "fetch started", func() bool { return f.fetcher.calls.Load() == 1 })
	a.Cancel()
	waitForStatus(t, a.State, domain.StatusCancelled)
	if f.engine.startCount() != 0 {
		t.Fatal("engine started after cancel")
	}
}

func TestCoordinatorMeteredNetworkGate(t *testing.T) {
	f := newCoordinatorFixture()
	f.network.expensive = true

	if _, err := f.coord.Start(context.Background(), magnetRequest()); !errors.Is(err, ErrMeteredNetwork) {
		t.Fatalf("Start error = %v", err)
	}

	req := magnetRequest()
	req.AllowMetered = true
	a := f.start(t, req)
	f.engine.nextHandle(t)
	a.Cancel()
}

func TestCoordinatorQualitySelection(t *testing.T) {
	f := newCoordinatorFixture()
	options := []domain.TorrentOption{
		{Quality: "720p", URL: "magnet:?xt=urn:btih:720", Seeds: 50},
		{Quality: "1080p", URL: "magnet:?xt=urn:btih:1080", Seeds: 20},
	}

	if _, err := f.coord.Start(context.Background(), PlaybackRequest{Media: movieRef()}); !errors.Is(err, ErrNoTorrents) {
		t.Fatalf("no torrents error = %v", err)
	}
	if _, err := f.coord.Start(context.Background(), PlaybackRequest{Media: movieRef(), Torrents: options}); !errors.Is(err, ErrQualityChoiceRequired) {
		t.Fatalf("ambiguous quality error = %v", err)
	}

	a := f.start(t, PlaybackRequest{Media: movieRef(), Torrents: options, Quality: domain.QualityHighest})
	f.engine.nextHandle(t)
	if loc := f.engine.lastSource().Location; loc != "magnet:?xt=urn:btih:1080" {
		t.Fatalf("picked %s", loc)
	}
	a.Cancel()
}

func TestCoordinatorInvalidMedia(t *testing.T) {
	f := newCoordinatorFixture()
	_, err := f.coord.Start(context.Background(), PlaybackRequest{TorrentURL: "magnet:?xt=urn:btih:abc"})
	if !errors.Is(err, domain.ErrInvalidMedia) {
		t.Fatalf("error = %v", err)
	}
}

func TestCoordinatorResumeFractionFromWatchStore(t *testing.T) {
	f := newCoordinatorFixture()
	f.watch.items = map[domain.MediaID]domain.WatchProgress{
		"tt0133093": {MediaID: "tt0133093", Kind: domain.MediaMovie, Fraction: 0.6},
	}
	f.registry.completed = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadCompleted, LocalFile: "/dl/m.mkv"}}

	req := magnetRequest()
	req.Media.ResumeFraction = 0
	a := f.start(t, req)
	st := waitForStatus(t, a.State, domain.StatusReady)
	if st.Playback.ResumeFraction != 0.6 {
		t.Fatalf("resume fraction = %v", st.Playback.ResumeFraction)
	}
}

func TestCoordinatorRetryAfterInsufficientStorage(t *testing.T) {
	f := newCoordinatorFixture()
	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	firstSession := a.State().SessionID

	h.emit(ports.EngineEvent{Kind: ports.EventFailed, Err: domain.ErrInsufficientStorage})
	st := waitForStatus(t, a.State, domain.StatusFailed)
	if !st.Failure.Recoverable() {
		t.Fatalf("failure = %+v", st.Failure)
	}

	if err := a.Retry(context.Background(), true); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if f.cleaner.calls.Load() != 1 {
		t.Fatalf("cleaner calls = %d", f.cleaner.calls.Load())
	}
	h2 := f.engine.nextHandle(t)
	if h2.id == firstSession {
		t.Fatal("retry must use a new session id")
	}
	if a.State().SessionID != h2.id {
		t.Fatalf("state session %s, engine session %s", a.State().SessionID, h2.id)
	}

	// A late event from the first engine session must not touch the retry.
	h.emit(ports.EngineEvent{Kind: ports.EventReady, LocalFile: "/old"})
	if a.State().Status == domain.StatusReady {
		t.Fatal("stale session completed the retried attempt")
	}
	a.Cancel()
	waitForStatus(t, a.State, domain.StatusCancelled)
}

func TestCoordinatorRetryRules(t *testing.T) {
	f := newCoordinatorFixture()
	f.engine.startErr = errBoom
	a := f.start(t, magnetRequest())
	waitForStatus(t, a.State, domain.StatusFailed)

	if err := a.Retry(context.Background(), true); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("clear-cache retry after engine failure = %v", err)
	}
	if f.cleaner.calls.Load() != 0 {
		t.Fatal("cache must not be cleared for a non-storage failure")
	}

	f.engine.mu.Lock()
	f.engine.startErr = nil
	f.engine.mu.Unlock()
	if err := a.Retry(context.Background(), false); err != nil {
		t.Fatalf("plain retry: %v", err)
	}
	f.engine.nextHandle(t)
	if err := a.Retry(context.Background(), false); !errors.Is(err, ErrRetryNotAllowed) {
		t.Fatalf("retry while running = %v", err)
	}
	a.Cancel()
}

func TestCoordinatorAbortActive(t *testing.T) {
	f := newCoordinatorFixture()
	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	h.emit(ports.EngineEvent{Kind: ports.EventProgress, Progress: 0.1})
	waitForStatus(t, a.State, domain.StatusBuffering)

	if n := f.coord.AbortActive(domain.ErrInsufficientStorage); n != 1 {
		t.Fatalf("aborted %d sessions", n)
	}
	st := waitForStatus(t, a.State, domain.StatusFailed)
	if st.Failure.Kind != domain.FailureInsufficientStorage {
		t.Fatalf("failure kind = %s", st.Failure.Kind)
	}
	if n := f.coord.AbortActive(domain.ErrInsufficientStorage); n != 0 {
		t.Fatalf("terminal attempt aborted again: %d", n)
	}
}

func TestCoordinatorChooseFileThroughAttempt(t *testing.T) {
	f := newCoordinatorFixture()
	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)

	if err := a.ChooseFile(0); !errors.Is(err, ErrNotAwaitingFileChoice) {
		t.Fatalf("early ChooseFile = %v", err)
	}
	h.emit(ports.EngineEvent{Kind: ports.EventFilesAvailable, Files: []domain.CandidateFile{{Index: 0, Name: "a"}, {Index: 1, Name: "b"}}})
	waitForStatus(t, a.State, domain.StatusAwaitingFileChoice)
	if err := a.ChooseFile(1); err != nil {
		t.Fatalf("ChooseFile: %v", err)
	}
	if got := h.selections(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("selections = %v", got)
	}
	a.Cancel()
}

func TestCoordinatorListAndForget(t *testing.T) {
	f := newCoordinatorFixture()
	f.registry.completed = []domain.DownloadRecord{{MediaID: "tt0133093", Status: domain.DownloadCompleted, LocalFile: "/dl/m.mkv"}}
	a := f.start(t, magnetRequest())
	waitForStatus(t, a.State, domain.StatusReady)

	if got := f.coord.List(); len(got) != 1 || got[0].AttemptID != a.ID {
		t.Fatalf("List = %+v", got)
	}
	if err := f.coord.Forget(a.ID); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := f.coord.Get(a.ID); !errors.Is(err, ErrAttemptNotFound) {
		t.Fatalf("Get after Forget = %v", err)
	}
}

func (f *coordinatorFixture) streamToReady(t *testing.T) (*Attempt, *fakeHandle) {
	t.Helper()
	a := f.start(t, magnetRequest())
	h := f.engine.nextHandle(t)
	h.emit(ports.EngineEvent{Kind: ports.EventFilesAvailable, Files: []domain.CandidateFile{{Index: 0, Name: "m.mkv", Size: 5}}})
	h.emit(ports.EngineEvent{Kind: ports.EventReady, LocalFile: "/data/m.mkv", LocalDir: "/data"})
	waitForStatus(t, a.State, domain.StatusReady)
	return a, h
}

func TestCoordinatorReleasesStreamWhenPlayerExits(t *testing.T) {
	f := newCoordinatorFixture()
	f.coord.cfg.ReleaseAfterPlay = true
	a, h := f.streamToReady(t)
	f.waitPlay(t)

	waitFor(t, "engine release", func() bool { return len(h.cancelCalls()) == 1 })
	if got := h.cancelCalls(); got[0] {
		t.Fatal("release after playback must keep the downloaded data")
	}
	if _, err := a.NewReader(); !errors.Is(err, ErrNotReady) {
		t.Fatalf("NewReader after release = %v", err)
	}
	if st := a.State(); st.Status != domain.StatusReady {
		t.Fatalf("status after release = %s", st.Status)
	}
}

func TestCoordinatorForgetReleasesReadyStream(t *testing.T) {
	f := newCoordinatorFixture()
	a, h := f.streamToReady(t)
	f.waitPlay(t)
	if got := h.cancelCalls(); len(got) != 0 {
		t.Fatalf("stream released before forget: %v", got)
	}

	if err := f.coord.Forget(a.ID); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if got := h.cancelCalls(); len(got) != 1 || got[0] {
		t.Fatalf("cancel calls after forget = %v", got)
	}
	a.release()
	if got := h.cancelCalls(); len(got) != 1 {
		t.Fatalf("second release reached the engine: %v", got)
	}
}

func TestCoordinatorClearCache(t *testing.T) {
	f := newCoordinatorFixture()
	freed, err := f.coord.ClearCache(context.Background())
	if err != nil || freed != 4096 {
		t.Fatalf("ClearCache = %d, %v", freed, err)
	}

	c := NewCoordinator(CoordinatorConfig{Engine: newFakeEngine(), Logger: discardLogger()})
	if _, err := c.ClearCache(context.Background()); !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("ClearCache without cleaner = %v", err)
	}
}
