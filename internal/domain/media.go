package domain

import (
	"errors"
	"fmt"
	"strings"
)

type MediaID string

type MediaKind string

const (
	MediaMovie   MediaKind = "movie"
	MediaEpisode MediaKind = "episode"
)

// Media is either a Movie or an Episode. The set is closed: the unexported
// method keeps other packages from adding variants, so type switches over
// Media only need the two cases.
type Media interface {
	MediaID() MediaID
	Kind() MediaKind
	DisplayTitle() string
	media()
}

type Movie struct {
	ID    MediaID `json:"id"`
	Title string  `json:"title"`
}

func (m Movie) MediaID() MediaID     { return m.ID }
func (Movie) Kind() MediaKind        { return MediaMovie }
func (m Movie) DisplayTitle() string { return m.Title }
func (Movie) media()                 {}

type Episode struct {
	ID        MediaID `json:"id"`
	ShowID    string  `json:"showId,omitempty"`
	ShowTitle string  `json:"showTitle"`
	Season    int     `json:"season"`
	Number    int     `json:"episode"`
	Title     string  `json:"title,omitempty"`
}

func (e Episode) MediaID() MediaID { return e.ID }
func (Episode) Kind() MediaKind    { return MediaEpisode }
func (e Episode) DisplayTitle() string {
	label := fmt.Sprintf("%s S%02dE%02d", e.ShowTitle, e.Season, e.Number)
	if e.Title != "" {
		label += " " + e.Title
	}
	return strings.TrimSpace(label)
}
func (Episode) media() {}

// EpisodeMarker is the filename token used to pick an episode out of a
// season pack, e.g. "E07".
func (e Episode) EpisodeMarker() string {
	return fmt.Sprintf("E%02d", e.Number)
}

// MediaReference is what a caller asks to play. It is copied into the attempt
// and never mutated afterwards.
type MediaReference struct {
	Media          Media
	ResumeFraction float64
	NextEpisode    *Episode
}

var ErrInvalidMedia = errors.New("invalid media")

func (r MediaReference) Validate() error {
	if r.Media == nil {
		return fmt.Errorf("%w: media is required", ErrInvalidMedia)
	}
	if r.Media.MediaID() == "" {
		return fmt.Errorf("%w: media id is required", ErrInvalidMedia)
	}
	if r.ResumeFraction < 0 || r.ResumeFraction > 1 {
		return fmt.Errorf("%w: resume fraction %v outside [0,1]", ErrInvalidMedia, r.ResumeFraction)
	}
	if ep, ok := r.Media.(Episode); ok && ep.Number <= 0 {
		return fmt.Errorf("%w: episode number must be positive", ErrInvalidMedia)
	}
	return nil
}

// MediaDescriptor is the JSON wire form of Media.
type MediaDescriptor struct {
	Kind      MediaKind `json:"kind"`
	ID        MediaID   `json:"id"`
	Title     string    `json:"title,omitempty"`
	ShowID    string    `json:"showId,omitempty"`
	ShowTitle string    `json:"showTitle,omitempty"`
	Season    int       `json:"season,omitempty"`
	Episode   int       `json:"episode,omitempty"`
}

func DescribeMedia(m Media) MediaDescriptor {
	switch v := m.(type) {
	case Movie:
		return MediaDescriptor{Kind: MediaMovie, ID: v.ID, Title: v.Title}
	case Episode:
		return MediaDescriptor{
			Kind:      MediaEpisode,
			ID:        v.ID,
			Title:     v.Title,
			ShowID:    v.ShowID,
			ShowTitle: v.ShowTitle,
			Season:    v.Season,
			Episode:   v.Number,
		}
	default:
		return MediaDescriptor{}
	}
}

func (d MediaDescriptor) Media() (Media, error) {
	switch d.Kind {
	case MediaMovie:
		return Movie{ID: d.ID, Title: d.Title}, nil
	case MediaEpisode:
		return Episode{
			ID:        d.ID,
			ShowID:    d.ShowID,
			ShowTitle: d.ShowTitle,
			Season:    d.Season,
			Number:    d.Episode,
			Title:     d.Title,
		}, nil
	case "":
		return nil, fmt.Errorf("%w: media kind is required", ErrInvalidMedia)
	default:
		return nil, fmt.Errorf("%w: unknown media kind %q", ErrInvalidMedia, d.Kind)
	}
}
