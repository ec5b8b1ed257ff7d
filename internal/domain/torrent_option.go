package domain

import (
	"strconv"
	"strings"
)

// TorrentOption is one quality variant offered for a media item.
type TorrentOption struct {
	Quality string `json:"quality"`
	URL     string `json:"url"`
	Seeds   int    `json:"seeds"`
	Peers   int    `json:"peers"`
	Size    string `json:"size,omitempty"`
}

// Resolution returns the vertical resolution encoded in Quality ("1080p",
// "720p", "2160p", "4K"), or 0 when unknown.
func (o TorrentOption) Resolution() int {
	q := strings.ToLower(strings.TrimSpace(o.Quality))
	switch q {
	case "4k", "uhd":
		return 2160
	case "3d":
		return 1080
	}
	q = strings.TrimSuffix(q, "p")
	n, err := strconv.Atoi(q)
	if err != nil {
		return 0
	}
	return n
}

type QualityPreference string

const (
	QualityAsk     QualityPreference = ""
	QualityHighest QualityPreference = "highest"
	QualityLowest  QualityPreference = "lowest"
)
