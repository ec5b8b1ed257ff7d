package usecase

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/metrics"
)

// ResolveSource classifies a raw torrent reference. It performs no I/O.
func ResolveSource(raw string) (domain.TorrentSource, error) {
	ref := strings.TrimSpace(raw)
	if ref == "" {
		return domain.TorrentSource{}, fmt.Errorf("%w: empty torrent reference", domain.ErrSourceResolution)
	}
	lower := strings.ToLower(ref)

	if strings.HasPrefix(lower, "magnet:") {
		return domain.MagnetLink(ref), nil
	}

	remote := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
	if !remote {
		if !hasTorrentSuffix(lower) {
			return domain.TorrentSource{}, fmt.Errorf("%w: %q is neither a magnet link nor a torrent file", domain.ErrSourceResolution, ref)
		}
		if strings.HasPrefix(lower, "file://") {
			u, err := url.Parse(ref)
			if err != nil || u.Path == "" {
				return domain.TorrentSource{}, fmt.Errorf("%w: bad file url %q", domain.ErrSourceResolution, ref)
			}
			return domain.LocalTorrentFile(filepath.FromSlash(u.Path)), nil
		}
		return domain.LocalTorrentFile(ref), nil
	}

	u, err := url.Parse(ref)
	if err != nil || u.Host == "" {
		return domain.TorrentSource{}, fmt.Errorf("%w: bad url %q", domain.ErrSourceResolution, ref)
	}
	return domain.RemoteTorrentFile(ref), nil
}

func hasTorrentSuffix(lower string) bool {
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".torrent")
}

// SourceResolver turns any torrent reference into a source the engine can
// start from, downloading remote .torrent files first.
type SourceResolver struct {
	Fetcher ports.TorrentFetcher
}

func (r SourceResolver) Resolve(ctx context.Context, raw string) (domain.TorrentSource, error) {
	src, err := ResolveSource(raw)
	if err != nil {
		return domain.TorrentSource{}, err
	}
	if src.Streamable() {
		return src, nil
	}
	if r.Fetcher == nil {
		return domain.TorrentSource{}, wrapFetch(fmt.Errorf("no fetcher configured for %s", src.Location))
	}

	path, err := r.Fetcher.Fetch(ctx, src.Location)
	if err != nil {
		if ctx.Err() != nil {
			return domain.TorrentSource{}, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}
		metrics.RemoteFetchTotal.WithLabelValues("error").Inc()
		return domain.TorrentSource{}, wrapFetch(err)
	}
	metrics.RemoteFetchTotal.WithLabelValues("ok").Inc()
	return domain.LocalTorrentFile(path), nil
}
