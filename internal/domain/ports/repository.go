package ports

import (
	"context"

	"popcornstream/internal/domain"
)

// DownloadRegistry lists downloads the application already manages.
type DownloadRegistry interface {
	ActiveDownloads(ctx context.Context) ([]domain.DownloadRecord, error)
	CompletedDownloads(ctx context.Context) ([]domain.DownloadRecord, error)
}

type WatchProgressStore interface {
	// Get returns domain.ErrNotFound when nothing was recorded.
	Get(ctx context.Context, kind domain.MediaKind, id domain.MediaID) (domain.WatchProgress, error)
	Upsert(ctx context.Context, p domain.WatchProgress) error
}
