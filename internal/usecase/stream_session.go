package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/metrics"
)

type sessionCommandKind int

const (
	cmdChooseFile sessionCommandKind = iota
	cmdAbort
)

type sessionCommand struct {
	kind  sessionCommandKind
	index int
	name  string
	cause error
	reply chan error
}

// StreamSession drives one engine session from start to a terminal phase.
// All mutable fields are owned by the goroutine started in Start; callers
// talk to it through ChooseFile, Cancel and Abort.
type StreamSession struct {
	ID        domain.SessionID
	Media     domain.MediaReference
	Engine    ports.Engine
	Publisher *ReadinessPublisher
	Inhibitor ports.IdleInhibitor
	Logger    *slog.Logger
	Now       func() time.Time
	// OnReady is called from the session goroutine after the ready state
	// has been published.
	OnReady func(domain.Playback, ports.StreamHandle)

	phase     domain.SessionPhase
	progress  float64
	speed     int64
	seeds     int
	files     []domain.CandidateFile
	selected  *int
	handle    ports.StreamHandle
	failure   error
	playback  *domain.Playback
	startedAt time.Time
	release   func()

	events     chan ports.EngineEvent
	commands   chan sessionCommand
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	handleMu  sync.RWMutex
	readyHand ports.StreamHandle
}

func (s *StreamSession) init() {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	s.phase = domain.PhaseIdle
	s.events = make(chan ports.EngineEvent, 16)
	s.commands = make(chan sessionCommand)
	s.cancelCh = make(chan struct{})
	s.done = make(chan struct{})
}

// Start launches the session goroutine and returns immediately. ctx bounds
// only the engine start call.
func (s *StreamSession) Start(ctx context.Context, src domain.TorrentSource) {
	s.init()
	go s.run(ctx, src)
}

// Done is closed once the session goroutine has exited.
func (s *StreamSession) Done() <-chan struct{} {
	return s.done
}

// Cancel asks the session to stop. It never blocks. Once the session is ready
// the file belongs to playback and Cancel has no effect.
func (s *StreamSession) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

// ChooseFile supplies the file index while the session awaits a choice.
func (s *StreamSession) ChooseFile(index int) error {
	return s.send(sessionCommand{kind: cmdChooseFile, index: index})
}

// ChooseFileByName is ChooseFile keyed by the candidate's file name.
func (s *StreamSession) ChooseFileByName(name string) error {
	return s.send(sessionCommand{kind: cmdChooseFile, index: -1, name: name})
}

// Abort fails a session that has not reached a terminal phase with cause.
func (s *StreamSession) Abort(cause error) error {
	return s.send(sessionCommand{kind: cmdAbort, cause: cause})
}

func (s *StreamSession) send(cmd sessionCommand) error {
	cmd.reply = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrNotAwaitingFileChoice
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrNotAwaitingFileChoice
	}
}

// Handle returns the engine handle of a ready session.
func (s *StreamSession) Handle() (ports.StreamHandle, bool) {
	s.handleMu.RLock()
	defer s.handleMu.RUnlock()
	return s.readyHand, s.readyHand != nil
}

// Release stops the engine session behind a ready stream and keeps the
// downloaded data. Readers opened afterwards fail with ErrNotReady. It is safe
// to call more than once.
func (s *StreamSession) Release() {
	s.handleMu.Lock()
	h := s.readyHand
	s.readyHand = nil
	s.handleMu.Unlock()
	if h == nil {
		return
	}
	if err := h.Cancel(false); err != nil {
		s.Logger.Warn("stream session: release ready session failed",
			slog.String("sessionId", string(s.ID)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.Logger.Info("stream session: released", slog.String("sessionId", string(s.ID)))
}

func (s *StreamSession) run(ctx context.Context, src domain.TorrentSource) {
	defer close(s.done)

	metrics.ActiveSessions.Inc()
	s.startedAt = s.Now()
	if s.Inhibitor != nil {
		s.release = s.Inhibitor.Acquire("stream session " + string(s.ID))
	}
	s.transition(domain.PhaseStarting)
	s.publish()

	startCtx, stopStart := context.WithCancel(ctx)
	go func() {
		select {
		case <-s.cancelCh:
			stopStart()
		case <-startCtx.Done():
		}
	}()
	handle, err := s.Engine.Start(startCtx, s.ID, src, s.events)
	stopStart()
	if err != nil {
		if s.cancelled() {
			s.finishCancelled()
		} else {
			s.fail(wrapStart(err))
		}
		s.drainCommands()
		return
	}
	s.handle = handle

	cancelCh := s.cancelCh
	events := s.events
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				if !s.phase.IsTerminal() {
					s.fail(fmt.Errorf("%w: engine stopped without a result", domain.ErrEngineFailure))
				}
				continue
			}
			s.handleEvent(ev)
		case cmd := <-s.commands:
			cmd.reply <- s.handleCommand(cmd)
		case <-cancelCh:
			cancelCh = nil
			s.handleCancel()
		}
	}
}

// drainCommands answers commands that raced with a start failure until the
// done channel is closed by the deferred close in run.
func (s *StreamSession) drainCommands() {
	for {
		select {
		case cmd := <-s.commands:
			cmd.reply <- ErrNotAwaitingFileChoice
		default:
			return
		}
	}
}

func (s *StreamSession) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

func (s *StreamSession) handleEvent(ev ports.EngineEvent) {
	if ev.SessionID != s.ID {
		metrics.StaleEventsDiscardedTotal.WithLabelValues("session_mismatch").Inc()
		s.Logger.Debug("stream session: discarding event for another session",
			slog.String("sessionId", string(s.ID)),
			slog.String("eventSessionId", string(ev.SessionID)),
			slog.String("event", ev.Kind.String()),
		)
		return
	}
	if s.phase.IsTerminal() {
		metrics.StaleEventsDiscardedTotal.WithLabelValues("after_terminal").Inc()
		return
	}

	switch ev.Kind {
	case ports.EventProgress:
		s.progress = clampFraction(ev.Progress)
		s.speed = ev.Speed
		s.seeds = ev.Seeds
		metrics.DownloadSpeedBytes.Set(float64(ev.Speed))
		if s.phase == domain.PhaseStarting {
			s.transition(domain.PhaseBuffering)
		}
		s.publish()

	case ports.EventFilesAvailable:
		s.onFiles(ev.Files)

	case ports.EventReady:
		s.onReady(ev)

	case ports.EventFailed:
		err := ev.Err
		if err == nil {
			err = domain.ErrEngineFailure
		}
		s.fail(wrapEngine(err))
	}
}

func (s *StreamSession) onFiles(files []domain.CandidateFile) {
	if s.selected != nil || s.phase == domain.PhaseAwaitingFileChoice {
		return
	}
	s.files = files
	for _, f := range files {
		s.Logger.Debug("stream session: candidate file",
			slog.String("sessionId", string(s.ID)),
			slog.Int("index", f.Index),
			slog.String("name", f.Name),
			slog.Int64("size", f.Size),
		)
	}

	outcome := SelectFile(files, s.Media.Media)
	if outcome.NeedsUserChoice {
		s.Logger.Info("stream session: awaiting file choice",
			slog.String("sessionId", string(s.ID)),
			slog.Int("candidates", len(files)),
		)
		s.transition(domain.PhaseAwaitingFileChoice)
		s.publish()
		return
	}
	if err := s.applySelection(outcome.Index); err != nil {
		s.fail(err)
		return
	}
	if s.phase == domain.PhaseStarting {
		s.transition(domain.PhaseBuffering)
	}
	s.publish()
}

func (s *StreamSession) applySelection(index int) error {
	if s.selected != nil {
		return ErrFileAlreadySelected
	}
	if err := s.handle.SelectFile(index); err != nil {
		return wrapEngine(err)
	}
	s.selected = &index
	return nil
}

func (s *StreamSession) handleCommand(cmd sessionCommand) error {
	switch cmd.kind {
	case cmdChooseFile:
		if s.selected != nil {
			return ErrFileAlreadySelected
		}
		if s.phase != domain.PhaseAwaitingFileChoice {
			return ErrNotAwaitingFileChoice
		}
		if cmd.name != "" {
			cmd.index = candidateIndexByName(s.files, cmd.name)
			if cmd.index < 0 {
				return fmt.Errorf("%w: no file named %q", ErrInvalidFileIndex, cmd.name)
			}
		}
		if !hasCandidate(s.files, cmd.index) {
			return fmt.Errorf("%w: %d", ErrInvalidFileIndex, cmd.index)
		}
		if err := s.applySelection(cmd.index); err != nil {
			s.fail(err)
			return err
		}
		s.transition(domain.PhaseBuffering)
		s.publish()
		return nil

	case cmdAbort:
		if s.phase.IsTerminal() {
			return nil
		}
		s.fail(cmd.cause)
		return nil
	}
	return nil
}

func hasCandidate(files []domain.CandidateFile, index int) bool {
	for _, f := range files {
		if f.Index == index {
			return true
		}
	}
	return false
}

func candidateIndexByName(files []domain.CandidateFile, name string) int {
	for _, f := range files {
		if f.Name == name {
			return f.Index
		}
	}
	return -1
}

func (s *StreamSession) onReady(ev ports.EngineEvent) {
	index := ev.FileIndex
	if s.selected != nil {
		index = *s.selected
	}
	if !s.transition(domain.PhaseReady) {
		return
	}
	if p := clampFraction(ev.Progress); p > s.progress {
		s.progress = p
	}
	pb := domain.Playback{
		LocalFile:      ev.LocalFile,
		LocalDir:       ev.LocalDir,
		FileIndex:      index,
		Media:          domain.DescribeMedia(s.Media.Media),
		ResumeFraction: s.Media.ResumeFraction,
	}
	if s.Media.NextEpisode != nil {
		next := domain.DescribeMedia(*s.Media.NextEpisode)
		pb.NextEpisode = &next
	}
	s.playback = &pb

	s.handleMu.Lock()
	s.readyHand = s.handle
	s.handleMu.Unlock()

	metrics.TimeToReadySeconds.Observe(s.Now().Sub(s.startedAt).Seconds())
	s.Logger.Info("stream session: ready",
		slog.String("sessionId", string(s.ID)),
		slog.String("file", ev.LocalFile),
	)
	s.terminate()
	s.publish()
	if s.OnReady != nil {
		s.OnReady(pb, s.handle)
	}
}

func (s *StreamSession) handleCancel() {
	if s.phase == domain.PhaseReady {
		s.Logger.Debug("stream session: cancel after ready ignored",
			slog.String("sessionId", string(s.ID)),
		)
		return
	}
	if s.phase.IsTerminal() {
		return
	}
	if s.handle != nil {
		if err := s.handle.Cancel(true); err != nil {
			s.Logger.Warn("stream session: cancel engine session failed",
				slog.String("sessionId", string(s.ID)),
				slog.String("error", err.Error()),
			)
		}
	}
	s.finishCancelled()
}

func (s *StreamSession) finishCancelled() {
	s.transition(domain.PhaseCancelled)
	s.Logger.Info("stream session: cancelled", slog.String("sessionId", string(s.ID)))
	s.terminate()
	s.publish()
}

func (s *StreamSession) fail(err error) {
	if s.phase.IsTerminal() {
		return
	}
	if errors.Is(err, domain.ErrCancelled) {
		if s.handle != nil {
			_ = s.handle.Cancel(true)
		}
		s.finishCancelled()
		return
	}
	s.failure = err
	s.transition(domain.PhaseFailed)
	kind := domain.FailureKindOf(err)
	metrics.FailuresTotal.WithLabelValues(string(kind)).Inc()
	s.Logger.Warn("stream session: failed",
		slog.String("sessionId", string(s.ID)),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	if s.handle != nil {
		if cerr := s.handle.Cancel(true); cerr != nil {
			s.Logger.Warn("stream session: release engine session failed",
				slog.String("sessionId", string(s.ID)),
				slog.String("error", cerr.Error()),
			)
		}
	}
	s.terminate()
	s.publish()
}

// terminate releases resources held for the lifetime of a non-terminal
// session. It runs once per session.
func (s *StreamSession) terminate() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
	metrics.ActiveSessions.Dec()
}

func (s *StreamSession) transition(to domain.SessionPhase) bool {
	if s.phase == to {
		return true
	}
	if !domain.CanTransitionPhase(s.phase, to) {
		s.Logger.Warn("stream session: invalid transition",
			slog.String("sessionId", string(s.ID)),
			slog.String("from", string(s.phase)),
			slog.String("to", string(to)),
		)
		return false
	}
	s.Logger.Debug("stream session: transition",
		slog.String("sessionId", string(s.ID)),
		slog.String("from", string(s.phase)),
		slog.String("to", string(to)),
	)
	s.phase = to
	return true
}

func (s *StreamSession) publish() {
	state := domain.ReadinessState{
		SessionID: s.ID,
		Status:    s.phase.ToStatus(),
		Progress:  s.progress,
		Speed:     s.speed,
		Seeds:     s.seeds,
		Playback:  s.playback,
		Failure:   domain.NewFailure(s.failure),
		UpdatedAt: s.Now().UTC(),
	}
	if s.phase == domain.PhaseAwaitingFileChoice {
		state.FileNames = domain.CandidateNames(s.files)
	}
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(state); err != nil {
		s.Logger.Debug("stream session: publish rejected",
			slog.String("sessionId", string(s.ID)),
			slog.String("status", string(state.Status)),
			slog.String("error", err.Error()),
		)
	}
}

func clampFraction(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
