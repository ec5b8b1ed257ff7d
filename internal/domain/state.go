package domain

import "time"

type AttemptID string

type SessionID string

// ReadinessState is the externally observable snapshot of a playback attempt.
// It is derived from session fields and never edited directly.
type ReadinessState struct {
	AttemptID AttemptID       `json:"attemptId"`
	SessionID SessionID       `json:"sessionId,omitempty"`
	Status    ReadinessStatus `json:"status"`
	Progress  float64         `json:"progress"`
	Speed     int64           `json:"speed"`
	Seeds     int             `json:"seeds"`
	FileNames []string        `json:"fileNames,omitempty"`
	Playback  *Playback       `json:"playback,omitempty"`
	Failure   *Failure        `json:"failure,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Playback is handed to the playback consumer once a file is ready.
type Playback struct {
	LocalFile      string           `json:"localFile"`
	LocalDir       string           `json:"localDir"`
	FileIndex      int              `json:"fileIndex"`
	Media          MediaDescriptor  `json:"media"`
	NextEpisode    *MediaDescriptor `json:"nextEpisode,omitempty"`
	ResumeFraction float64          `json:"resumeFraction"`
	FromRegistry   bool             `json:"fromRegistry"`
}
