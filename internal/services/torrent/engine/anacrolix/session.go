package anacrolix

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/storage/disk"
)

var (
	ErrFileIndexOutOfRange = errors.New("file index out of range")
	ErrFileAlreadySelected = errors.New("file already selected")
	ErrNotReady            = errors.New("torrent not ready")
)

// Session is the handle of one streaming session. Its worker goroutine is
// the only sender on events and closes the channel when it exits.
type Session struct {
	engine  *Engine
	id      domain.SessionID
	torrent *torrent.Torrent
	events  chan<- ports.EngineEvent

	selectCh chan int
	cancelCh chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	files    []domain.CandidateFile
	selected int
	hasPick  bool
	ready    bool
}

func newSession(e *Engine, id domain.SessionID, t *torrent.Torrent, events chan<- ports.EngineEvent) *Session {
	return &Session{
		engine:   e,
		id:       id,
		torrent:  t,
		events:   events,
		selectCh: make(chan int, 1),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
		selected: -1,
	}
}

func (s *Session) SessionID() domain.SessionID {
	return s.id
}

// SelectFile hands the chosen file to the worker. Only the first valid
// selection is accepted.
func (s *Session) SelectFile(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasPick {
		return ErrFileAlreadySelected
	}
	if s.files == nil {
		return ErrNotReady
	}
	if index < 0 || index >= len(s.files) {
		return fmt.Errorf("%w: %d of %d", ErrFileIndexOutOfRange, index, len(s.files))
	}
	s.hasPick = true
	s.selected = index
	s.selectCh <- index
	return nil
}

// Cancel stops the worker and drops the torrent. With deleteData the
// downloaded files are removed once no other session shares the torrent.
func (s *Session) Cancel(deleteData bool) error {
	s.stop()
	root := s.dataRoot()
	dropped := s.engine.release(s)
	if !deleteData || !dropped || root == "" {
		return nil
	}
	if err := removeData(s.engine.cfg.DataDir, root); err != nil {
		return err
	}
	s.engine.logger.Info("torrent engine: session data removed",
		slog.String("sessionId", string(s.id)),
		slog.String("path", root),
	)
	return nil
}

// stop signals the worker and waits for it to close the event channel.
func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.cancelCh) })
	<-s.done
}

func (s *Session) NewReader() (ports.StreamReader, error) {
	s.mu.Lock()
	index, ready := s.selected, s.ready
	s.mu.Unlock()
	if !ready || s.torrent == nil {
		return nil, ErrNotReady
	}
	files := s.torrent.Files()
	if index < 0 || index >= len(files) {
		return nil, ErrFileIndexOutOfRange
	}
	r := files[index].NewReader()
	r.SetResponsive()
	return r, nil
}

// dataRoot is the top-level path the torrent occupies under the data dir.
func (s *Session) dataRoot() string {
	if !torrentInfoReady(s.torrent) {
		return ""
	}
	return filepath.Join(s.engine.cfg.DataDir, s.torrent.Name())
}

func (s *Session) run() {
	defer close(s.done)
	defer close(s.events)

	logger := s.engine.logger.With(slog.String("sessionId", string(s.id)))

	if !s.awaitInfo() {
		return
	}

	files := mapFiles(s.torrent)
	s.mu.Lock()
	s.files = files
	s.mu.Unlock()
	for _, f := range files {
		logger.Debug("torrent engine: file",
			slog.Int("index", f.Index),
			slog.String("name", f.Name),
			slog.Int64("size", f.Size),
		)
	}
	if !s.send(ports.EngineEvent{Kind: ports.EventFilesAvailable, Files: files}) {
		return
	}

	index, ok := s.awaitSelection()
	if !ok {
		return
	}
	f := s.torrent.Files()[index]
	if err := s.checkSpace(f); err != nil {
		s.send(ports.EngineEvent{Kind: ports.EventFailed, Err: err})
		return
	}

	span, ok := prioritizeFile(s.torrent, index, s.engine.cfg.ReadyBufferBytes)
	if !ok {
		s.send(ports.EngineEvent{Kind: ports.EventFailed, Err: fmt.Errorf("%w: chosen file %q is empty", domain.ErrEngineFailure, f.DisplayPath())})
		return
	}
	logger.Info("torrent engine: buffering",
		slog.String("file", f.DisplayPath()),
		slog.Int("firstPiece", span.start),
		slog.Int("endPiece", span.end),
	)
	s.buffer(f, index, span)
}

func (s *Session) awaitInfo() bool {
	timer := time.NewTimer(s.engine.cfg.MetadataTimeout)
	defer timer.Stop()
	ticker := time.NewTicker(s.engine.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.torrent.GotInfo():
			return true
		case <-s.cancelCh:
			return false
		case <-timer.C:
			s.send(ports.EngineEvent{
				Kind: ports.EventFailed,
				Err:  fmt.Errorf("%w: no metadata after %s", domain.ErrEngineFailure, s.engine.cfg.MetadataTimeout),
			})
			return false
		case <-ticker.C:
			if !s.sendProgress(0) {
				return false
			}
		}
	}
}

// awaitSelection blocks until SelectFile is called or the session is
// cancelled. Progress keeps flowing so peers and speed stay visible.
func (s *Session) awaitSelection() (int, bool) {
	ticker := time.NewTicker(s.engine.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case index := <-s.selectCh:
			return index, true
		case <-s.cancelCh:
			return 0, false
		case <-ticker.C:
			if !s.sendProgress(0) {
				return 0, false
			}
		}
	}
}

func (s *Session) buffer(f *torrent.File, index int, span pieceSpan) {
	ticker := time.NewTicker(s.engine.cfg.PollInterval)
	defer ticker.Stop()

	for {
		progress, done := bufferProgress(span, func(i int) bool {
			return s.torrent.PieceState(i).Complete
		})
		if done {
			s.mu.Lock()
			s.ready = true
			s.mu.Unlock()
			s.send(ports.EngineEvent{
				Kind:      ports.EventReady,
				Progress:  1,
				LocalFile: filepath.Join(s.engine.cfg.DataDir, filepath.FromSlash(f.Path())),
				LocalDir:  s.localDir(),
				FileIndex: index,
			})
			return
		}
		if !s.sendProgress(progress) {
			return
		}
		if err := s.checkFree(); err != nil {
			s.send(ports.EngineEvent{Kind: ports.EventFailed, Err: err})
			return
		}

		select {
		case <-s.cancelCh:
			return
		case <-s.torrent.Closed():
			s.send(ports.EngineEvent{Kind: ports.EventFailed, Err: fmt.Errorf("%w: torrent closed", domain.ErrEngineFailure)})
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) localDir() string {
	if len(s.torrent.Files()) > 1 {
		return filepath.Join(s.engine.cfg.DataDir, s.torrent.Name())
	}
	return s.engine.cfg.DataDir
}

func (s *Session) sendProgress(progress float64) bool {
	stats := s.torrent.Stats()
	return s.send(ports.EngineEvent{
		Kind:     ports.EventProgress,
		Progress: progress,
		Speed:    s.engine.sampleSpeed(s.id, stats, time.Now()),
		Seeds:    stats.ConnectedSeeders,
	})
}

// send delivers ev unless the session is being cancelled.
func (s *Session) send(ev ports.EngineEvent) bool {
	ev.SessionID = s.id
	select {
	case s.events <- ev:
		return true
	case <-s.cancelCh:
		return false
	}
}

// checkSpace fails early when the rest of the chosen file would not fit.
func (s *Session) checkSpace(f *torrent.File) error {
	need := f.Length() - f.BytesCompleted()
	return s.requireFree(need)
}

func (s *Session) checkFree() error {
	return s.requireFree(0)
}

func (s *Session) requireFree(need int64) error {
	e := s.engine
	if e.cfg.MinFreeBytes <= 0 && need <= 0 {
		return nil
	}
	free, err := e.freeBytes(e.cfg.DataDir)
	if err != nil {
		e.logger.Warn("torrent engine: free space check failed",
			slog.String("path", e.cfg.DataDir),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return spaceError(free, need, e.cfg.MinFreeBytes)
}

func spaceError(free, need, reserve int64) error {
	if free-need < reserve {
		return fmt.Errorf("%w: %d bytes free, %d needed plus %d reserved", domain.ErrInsufficientStorage, free, need, reserve)
	}
	return nil
}

// removeData deletes target, which must live strictly inside dataDir.
func removeData(dataDir, target string) error {
	if !disk.Within(dataDir, target) {
		return fmt.Errorf("refusing to remove %q outside data dir %q", target, dataDir)
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}
