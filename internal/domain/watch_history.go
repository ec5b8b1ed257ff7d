package domain

import "time"

// WatchProgress is the last known playback position of a media item,
// expressed as a fraction of its duration.
type WatchProgress struct {
	MediaID   MediaID   `json:"mediaId"`
	Kind      MediaKind `json:"kind"`
	Fraction  float64   `json:"fraction"`
	UpdatedAt time.Time `json:"updatedAt"`
}
