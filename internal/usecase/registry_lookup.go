package usecase

import (
	"context"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

// FindExisting looks the media up in the download registry. Completed
// downloads win over in-progress ones. Records without a local file are not
// playable and never match, nor does a nil registry.
func FindExisting(ctx context.Context, registry ports.DownloadRegistry, id domain.MediaID) (*domain.ExistingAsset, error) {
	if registry == nil || id == "" {
		return nil, nil
	}

	completed, err := registry.CompletedDownloads(ctx)
	if err != nil {
		return nil, wrapRepo(err)
	}
	for _, rec := range completed {
		if rec.MediaID == id && rec.LocalFile != "" {
			return &domain.ExistingAsset{Kind: domain.AssetCompleted, Record: rec}, nil
		}
	}

	active, err := registry.ActiveDownloads(ctx)
	if err != nil {
		return nil, wrapRepo(err)
	}
	for _, rec := range active {
		if rec.MediaID == id && rec.LocalFile != "" {
			return &domain.ExistingAsset{Kind: domain.AssetInProgress, Record: rec}, nil
		}
	}
	return nil, nil
}
