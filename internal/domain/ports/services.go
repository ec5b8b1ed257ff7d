package ports

import (
	"context"

	"popcornstream/internal/domain"
)

type TorrentFetcher interface {
	// Fetch downloads a remote .torrent file and returns its local path.
	Fetch(ctx context.Context, url string) (string, error)
}

// PlaybackConsumer receives a ready file. handle is nil when the file came
// from the download registry rather than a streaming session.
type PlaybackConsumer interface {
	Play(ctx context.Context, playback domain.Playback, handle StreamHandle) error
}

type CacheCleaner interface {
	// Clear removes cached torrent data and returns the number of bytes freed.
	Clear(ctx context.Context) (int64, error)
}

type IdleInhibitor interface {
	Acquire(reason string) (release func())
}

type NetworkMonitor interface {
	IsExpensive() bool
}
