package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

var ErrInvalidProgress = errors.New("invalid watch progress")

type GetWatchProgress struct {
	Store ports.WatchProgressStore
}

func (uc GetWatchProgress) Execute(ctx context.Context, kind domain.MediaKind, id domain.MediaID) (domain.WatchProgress, error) {
	p, err := uc.Store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.WatchProgress{}, err
		}
		return domain.WatchProgress{}, wrapRepo(err)
	}
	return p, nil
}

// RecordWatchProgress stores the playback position reported by a player so
// the next attempt for the same media resumes there.
type RecordWatchProgress struct {
	Store ports.WatchProgressStore
	Now   func() time.Time
}

func (uc RecordWatchProgress) Execute(ctx context.Context, p domain.WatchProgress) (domain.WatchProgress, error) {
	if p.MediaID == "" {
		return domain.WatchProgress{}, fmt.Errorf("%w: media id is required", ErrInvalidProgress)
	}
	switch p.Kind {
	case domain.MediaMovie, domain.MediaEpisode:
	default:
		return domain.WatchProgress{}, fmt.Errorf("%w: unknown media kind %q", ErrInvalidProgress, p.Kind)
	}
	if p.Fraction < 0 || p.Fraction > 1 {
		return domain.WatchProgress{}, fmt.Errorf("%w: fraction %v outside [0,1]", ErrInvalidProgress, p.Fraction)
	}

	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	p.UpdatedAt = now().UTC()
	if err := uc.Store.Upsert(ctx, p); err != nil {
		return domain.WatchProgress{}, wrapRepo(err)
	}
	return p, nil
}
