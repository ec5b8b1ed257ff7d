package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"popcornstream/internal/domain"
	"popcornstream/internal/storage/disk"
)

// SessionAborter fails running sessions. Implemented by Coordinator.
type SessionAborter interface {
	AbortActive(cause error) int
}

// DiskPressure periodically checks available disk space on the download
// directory and fails every running session with an insufficient storage
// error when free space drops below MinFreeBytes. The check re-arms once free
// space exceeds ResumeBytes (hysteresis prevents repeated aborts).
type DiskPressure struct {
	Sessions     SessionAborter
	Logger       *slog.Logger
	DataDir      string
	MinFreeBytes int64 // threshold below which sessions are aborted
	ResumeBytes  int64 // threshold above which the check re-arms
	Interval     time.Duration
	FreeBytes    func(path string) (int64, error)
}

// Run starts the periodic disk pressure check loop. It blocks until ctx is
// cancelled.
func (dp DiskPressure) Run(ctx context.Context) {
	interval := dp.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	tripped := false
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tripped = dp.check(tripped)
		}
	}
}

// check runs one pass and returns the new tripped flag.
func (dp DiskPressure) check(tripped bool) bool {
	freeFn := dp.FreeBytes
	if freeFn == nil {
		freeFn = disk.FreeBytes
	}
	resume := dp.ResumeBytes
	if resume <= dp.MinFreeBytes {
		resume = dp.MinFreeBytes * 2
	}

	free, err := freeFn(dp.DataDir)
	if err != nil {
		dp.Logger.Warn("disk_pressure: failed to check disk space",
			slog.String("path", dp.DataDir),
			slog.String("error", err.Error()),
		)
		return tripped
	}

	if !tripped && free < dp.MinFreeBytes {
		cause := fmt.Errorf("%w: %d bytes free, %d required", domain.ErrInsufficientStorage, free, dp.MinFreeBytes)
		n := dp.Sessions.AbortActive(cause)
		dp.Logger.Warn("disk_pressure: low disk space, aborted running sessions",
			slog.Int64("freeBytes", free),
			slog.Int64("thresholdBytes", dp.MinFreeBytes),
			slog.Int("aborted", n),
		)
		return true
	}
	if tripped && free >= resume {
		dp.Logger.Info("disk_pressure: disk space recovered",
			slog.Int64("freeBytes", free),
			slog.Int64("resumeBytes", resume),
		)
		return false
	}
	return tripped
}
