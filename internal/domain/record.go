package domain

import (
	"errors"
	"time"
)

// DownloadRecord is a persisted download known to the registry. The
// coordinator only reads these.
type DownloadRecord struct {
	MediaID   MediaID        `json:"mediaId"`
	Title     string         `json:"title"`
	Status    DownloadStatus `json:"status"`
	LocalFile string         `json:"localFile"`
	LocalDir  string         `json:"localDir"`
	Progress  float64        `json:"progress"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Validate checks domain invariants for DownloadRecord.
func (r DownloadRecord) Validate() error {
	if r.MediaID == "" {
		return errors.New("media id is required")
	}
	if r.Progress < 0 || r.Progress > 1 {
		return errors.New("progress must be within [0,1]")
	}
	switch r.Status {
	case DownloadActive, DownloadPaused, DownloadCompleted:
		// valid
	case "":
		return errors.New("status is required")
	default:
		return errors.New("invalid status: " + string(r.Status))
	}
	if r.Status == DownloadCompleted && r.LocalFile == "" {
		return errors.New("completed download requires a local file")
	}
	return nil
}

type AssetKind string

const (
	AssetCompleted  AssetKind = "completed"
	AssetInProgress AssetKind = "in_progress"
)

// ExistingAsset is a registry hit for the requested media.
type ExistingAsset struct {
	Kind   AssetKind      `json:"kind"`
	Record DownloadRecord `json:"record"`
}
