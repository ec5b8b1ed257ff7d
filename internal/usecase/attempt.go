package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/metrics"
)

// Attempt is one playback request. It survives retries: every retry runs a
// fresh streaming session under a new session id.
type Attempt struct {
	ID domain.AttemptID

	coord     *Coordinator
	media     domain.MediaReference
	source    string
	publisher *ReadinessPublisher

	retryMu sync.Mutex

	mu        sync.Mutex
	sessionID domain.SessionID
	session   *StreamSession
	cancelled bool
	stop      context.CancelFunc
	runDone   chan struct{}
}

func (a *Attempt) State() domain.ReadinessState {
	return a.publisher.Current()
}

func (a *Attempt) Subscribe() (<-chan domain.ReadinessState, func()) {
	return a.publisher.Subscribe()
}

// Done is closed when the current run has handed off to a session or
// finished without one.
func (a *Attempt) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runDone
}

func (a *Attempt) begin(ctx context.Context) {
	sid := domain.SessionID(a.coord.cfg.NewID())
	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})

	a.mu.Lock()
	a.sessionID = sid
	a.session = nil
	a.cancelled = false
	a.stop = stop
	a.runDone = done
	a.mu.Unlock()

	a.publish(domain.ReadinessState{SessionID: sid, Status: domain.StatusProcessing})
	go a.run(runCtx, sid, done)
}

func (a *Attempt) run(ctx context.Context, sid domain.SessionID, done chan struct{}) {
	defer close(done)
	c := a.coord
	logger := c.cfg.Logger.With(
		slog.String("attemptId", string(a.ID)),
		slog.String("sessionId", string(sid)),
	)

	ctx, span := tracer.Start(ctx, "attempt.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("attempt.id", string(a.ID)),
		attribute.String("media.id", string(a.media.Media.MediaID())),
	)

	asset, err := FindExisting(ctx, c.cfg.Registry, a.media.Media.MediaID())
	if err != nil {
		logger.Warn("attempt: registry lookup failed, streaming instead",
			slog.String("error", err.Error()),
		)
	}
	if asset != nil {
		a.serveExisting(ctx, sid, *asset, logger)
		return
	}

	src, err := SourceResolver{Fetcher: c.cfg.Fetcher}.Resolve(ctx, a.source)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.failBeforeSession(sid, err, logger)
		return
	}
	span.SetAttributes(attribute.String("source.kind", string(src.Kind)))

	session := &StreamSession{
		ID:        sid,
		Media:     a.media,
		Engine:    c.cfg.Engine,
		Publisher: a.publisher,
		Inhibitor: c.cfg.Inhibitor,
		Logger:    c.cfg.Logger,
		Now:       c.cfg.Now,
	}
	session.OnReady = func(pb domain.Playback, h ports.StreamHandle) {
		c.play(context.WithoutCancel(ctx), pb, h, session.Release)
	}

	a.mu.Lock()
	if a.cancelled || a.sessionID != sid {
		a.mu.Unlock()
		a.failBeforeSession(sid, domain.ErrCancelled, logger)
		return
	}
	session.Start(ctx, src)
	a.session = session
	a.mu.Unlock()
}

func (a *Attempt) serveExisting(ctx context.Context, sid domain.SessionID, asset domain.ExistingAsset, logger *slog.Logger) {
	metrics.RegistryHitsTotal.WithLabelValues(string(asset.Kind)).Inc()
	logger.Info("attempt: media already in download registry",
		slog.String("kind", string(asset.Kind)),
		slog.String("file", asset.Record.LocalFile),
	)
	pb := domain.Playback{
		LocalFile:      asset.Record.LocalFile,
		LocalDir:       asset.Record.LocalDir,
		Media:          domain.DescribeMedia(a.media.Media),
		ResumeFraction: a.media.ResumeFraction,
		FromRegistry:   true,
	}
	if a.media.NextEpisode != nil {
		next := domain.DescribeMedia(*a.media.NextEpisode)
		pb.NextEpisode = &next
	}
	progress := asset.Record.Progress
	if asset.Kind == domain.AssetCompleted {
		progress = 1
	}
	if err := a.publish(domain.ReadinessState{
		SessionID: sid,
		Status:    domain.StatusReady,
		Progress:  progress,
		Playback:  &pb,
	}); err != nil {
		return
	}
	a.coord.play(context.WithoutCancel(ctx), pb, nil, nil)
}

func (a *Attempt) failBeforeSession(sid domain.SessionID, err error, logger *slog.Logger) {
	if errors.Is(err, domain.ErrCancelled) {
		logger.Info("attempt: cancelled before streaming started")
		_ = a.publish(domain.ReadinessState{SessionID: sid, Status: domain.StatusCancelled})
		return
	}
	kind := domain.FailureKindOf(err)
	metrics.FailuresTotal.WithLabelValues(string(kind)).Inc()
	logger.Warn("attempt: failed before streaming started",
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()),
	)
	_ = a.publish(domain.ReadinessState{
		SessionID: sid,
		Status:    domain.StatusFailed,
		Failure:   domain.NewFailure(err),
	})
}

func (a *Attempt) publish(state domain.ReadinessState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = a.coord.cfg.Now().UTC()
	}
	return a.publisher.Publish(state)
}

// ChooseFile supplies the file to play while the attempt awaits a choice.
func (a *Attempt) ChooseFile(index int) error {
	s, err := a.awaitingSession()
	if err != nil {
		return err
	}
	return s.ChooseFile(index)
}

func (a *Attempt) ChooseFileByName(name string) error {
	s, err := a.awaitingSession()
	if err != nil {
		return err
	}
	return s.ChooseFileByName(name)
}

func (a *Attempt) awaitingSession() (*StreamSession, error) {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil || a.State().Status != domain.StatusAwaitingFileChoice {
		return nil, ErrNotAwaitingFileChoice
	}
	return s, nil
}

// Cancel stops the attempt without waiting for teardown. It has no effect once
// the attempt is ready.
func (a *Attempt) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		a.session.Cancel()
		return
	}
	if a.State().Status.IsTerminal() {
		return
	}
	a.cancelled = true
	if a.stop != nil {
		a.stop()
	}
}

// Retry starts a new session for a failed attempt. clearCache empties the
// torrent cache first and is only allowed after an insufficient storage
// failure.
func (a *Attempt) Retry(ctx context.Context, clearCache bool) error {
	a.retryMu.Lock()
	defer a.retryMu.Unlock()

	st := a.State()
	if st.Status != domain.StatusFailed {
		return fmt.Errorf("%w: attempt is %s", ErrRetryNotAllowed, st.Status)
	}
	if clearCache {
		if !st.Failure.Recoverable() {
			return fmt.Errorf("%w: cache clearing only helps after insufficient storage", ErrRetryNotAllowed)
		}
		if _, err := a.coord.ClearCache(ctx); err != nil {
			return err
		}
	}
	a.coord.cfg.Logger.Info("attempt: retrying",
		slog.String("attemptId", string(a.ID)),
		slog.Bool("clearCache", clearCache),
	)
	a.begin(context.WithoutCancel(ctx))
	return nil
}

// NewReader opens a reader over the ready file of a streamed attempt.
func (a *Attempt) NewReader() (ports.StreamReader, error) {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil {
		return nil, ErrNotReady
	}
	h, ok := s.Handle()
	if !ok {
		return nil, ErrNotReady
	}
	r, err := h.NewReader()
	if err != nil {
		return nil, wrapEngine(err)
	}
	return r, nil
}

// release ends the engine session of a ready streamed attempt. Registry hits
// and unfinished attempts have nothing to release.
func (a *Attempt) release() {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s != nil {
		s.Release()
	}
}

func (a *Attempt) abort(cause error) bool {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()
	if s == nil || a.State().Status.IsTerminal() {
		return false
	}
	return s.Abort(cause) == nil
}
