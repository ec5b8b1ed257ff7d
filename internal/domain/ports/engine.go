package ports

import (
	"context"

	"popcornstream/internal/domain"
)

type EngineEventKind int

const (
	EventProgress EngineEventKind = iota
	EventFilesAvailable
	EventReady
	EventFailed
)

var engineEventNames = [...]string{"progress", "files_available", "ready", "failed"}

func (k EngineEventKind) String() string {
	if int(k) < len(engineEventNames) {
		return engineEventNames[k]
	}
	return "unknown"
}

// EngineEvent is a message from the engine to the session that started it.
// Every event carries the id it was started with so late events from an
// earlier session can be told apart.
type EngineEvent struct {
	SessionID domain.SessionID
	Kind      EngineEventKind

	// EventProgress
	Progress float64
	Speed    int64
	Seeds    int

	// EventFilesAvailable
	Files []domain.CandidateFile

	// EventReady
	LocalFile string
	LocalDir  string
	FileIndex int

	// EventFailed
	Err error
}

// Engine starts torrent downloads. The engine is the only sender on events and
// closes it once its worker for that session has stopped. When Start returns
// an error nothing is sent and the channel is left open.
type Engine interface {
	Start(ctx context.Context, id domain.SessionID, src domain.TorrentSource, events chan<- EngineEvent) (StreamHandle, error)
	Close() error
}
