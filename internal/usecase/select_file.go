package usecase

import (
	"strings"

	"popcornstream/internal/domain"
)

// SelectFile picks the file to play out of a torrent's contents.
//
// A single candidate is always chosen. For episodes the candidates are
// narrowed to names carrying the episode marker (E01, E02, ...), falling back
// to the full list when nothing matches. The largest remaining file wins and
// ties go to the earliest. When no size is known the user has to choose.
func SelectFile(candidates []domain.CandidateFile, media domain.Media) domain.SelectionOutcome {
	if len(candidates) == 0 {
		return domain.NeedsUserChoice()
	}
	if len(candidates) == 1 {
		return domain.SelectIndex(candidates[0].Index)
	}

	pool := candidates
	switch m := media.(type) {
	case domain.Episode:
		if filtered := filterEpisode(candidates, m.EpisodeMarker()); len(filtered) > 0 {
			pool = filtered
		}
	case domain.Movie:
	}

	best := -1
	var bestSize int64
	for i, c := range pool {
		if c.Size <= 0 {
			continue
		}
		if best < 0 || c.Size > bestSize {
			best = i
			bestSize = c.Size
		}
	}
	if best < 0 {
		return domain.NeedsUserChoice()
	}
	return domain.SelectIndex(pool[best].Index)
}

func filterEpisode(candidates []domain.CandidateFile, marker string) []domain.CandidateFile {
	marker = strings.ToLower(marker)
	var out []domain.CandidateFile
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), marker) {
			out = append(out, c)
		}
	}
	return out
}
