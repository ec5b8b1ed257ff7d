package usecase

import (
	"fmt"
	"sort"

	"popcornstream/internal/domain"
)

// SelectTorrent picks one of the quality variants offered for a media item.
// Options are ranked by resolution and then seeds. Without a preference a
// lone option is used directly and several options need a caller decision.
func SelectTorrent(options []domain.TorrentOption, pref domain.QualityPreference) (domain.TorrentOption, error) {
	if len(options) == 0 {
		return domain.TorrentOption{}, ErrNoTorrents
	}
	ranked := RankTorrents(options)

	switch pref {
	case domain.QualityHighest:
		return ranked[0], nil
	case domain.QualityLowest:
		return ranked[len(ranked)-1], nil
	}
	if len(ranked) == 1 {
		return ranked[0], nil
	}
	return domain.TorrentOption{}, fmt.Errorf("%w: %d options available", ErrQualityChoiceRequired, len(ranked))
}

// RankTorrents returns a copy of options, best first.
func RankTorrents(options []domain.TorrentOption) []domain.TorrentOption {
	ranked := make([]domain.TorrentOption, len(options))
	copy(ranked, options)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i].Resolution(), ranked[j].Resolution()
		if ri != rj {
			return ri > rj
		}
		return ranked[i].Seeds > ranked[j].Seeds
	})
	return ranked
}
