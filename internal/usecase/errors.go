package usecase

import (
	"errors"
	"fmt"

	"popcornstream/internal/domain"
)

var (
	ErrRepository            = errors.New("repository error")
	ErrInvalidFileIndex      = errors.New("invalid file index")
	ErrFileAlreadySelected   = errors.New("file already selected")
	ErrNotAwaitingFileChoice = errors.New("session is not awaiting a file choice")
	ErrNoTorrents            = errors.New("no torrents found")
	ErrQualityChoiceRequired = errors.New("quality choice required")
	ErrMeteredNetwork        = errors.New("streaming over a metered network is disabled")
	ErrAttemptNotFound       = errors.New("playback attempt not found")
	ErrRetryNotAllowed       = errors.New("retry not allowed in current state")
	ErrNotReady              = errors.New("playback is not ready")
	ErrStaleUpdate           = errors.New("stale readiness update")
	ErrShuttingDown          = errors.New("service shutting down")
)

func wrapEngine(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInsufficientStorage) || errors.Is(err, domain.ErrEngineFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEngineFailure, err)
}

func wrapStart(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInsufficientStorage) || errors.Is(err, domain.ErrEngineStart) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrEngineStart, err)
}

func wrapFetch(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", domain.ErrRemoteFetch, err)
}

func wrapRepo(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrRepository, err)
}
