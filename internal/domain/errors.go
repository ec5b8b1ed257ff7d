package domain

import "errors"

var ErrNotFound = errors.New("not found")
var ErrUnsupported = errors.New("unsupported operation")

// Failure sentinels. Adapters wrap them with %w so FailureKindOf can classify
// any error that reaches a session.
var (
	ErrSourceResolution    = errors.New("source resolution failed")
	ErrRemoteFetch         = errors.New("remote torrent fetch failed")
	ErrEngineStart         = errors.New("engine start failed")
	ErrInsufficientStorage = errors.New("insufficient storage")
	ErrEngineFailure       = errors.New("engine failure")
	ErrCancelled           = errors.New("cancelled")
)

type FailureKind string

const (
	FailureSourceResolution    FailureKind = "source_resolution_failed"
	FailureRemoteFetch         FailureKind = "remote_fetch_failed"
	FailureEngineStart         FailureKind = "engine_start_failed"
	FailureInsufficientStorage FailureKind = "insufficient_storage"
	FailureEngine              FailureKind = "engine_failure"
	FailureCancelled           FailureKind = "cancelled"
)

// FailureKindOf classifies err. Unknown errors are reported as engine failures.
func FailureKindOf(err error) FailureKind {
	switch {
	case errors.Is(err, ErrCancelled):
		return FailureCancelled
	case errors.Is(err, ErrInsufficientStorage):
		return FailureInsufficientStorage
	case errors.Is(err, ErrSourceResolution):
		return FailureSourceResolution
	case errors.Is(err, ErrRemoteFetch):
		return FailureRemoteFetch
	case errors.Is(err, ErrEngineStart):
		return FailureEngineStart
	default:
		return FailureEngine
	}
}

// Failure is the published, serialisable form of a session error.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	return &Failure{Kind: FailureKindOf(err), Message: err.Error()}
}

// Recoverable reports whether the failure can be retried after clearing the
// torrent cache.
func (f *Failure) Recoverable() bool {
	return f != nil && f.Kind == FailureInsufficientStorage
}
