package domain

type ReadinessStatus string

const (
	StatusProcessing         ReadinessStatus = "processing"
	StatusBuffering          ReadinessStatus = "buffering"
	StatusAwaitingFileChoice ReadinessStatus = "awaiting_file_choice"
	StatusReady              ReadinessStatus = "ready"
	StatusFailed             ReadinessStatus = "failed"
	StatusCancelled          ReadinessStatus = "cancelled"
)

func (s ReadinessStatus) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusCancelled
}

type DownloadStatus string

const (
	DownloadActive    DownloadStatus = "active"
	DownloadPaused    DownloadStatus = "paused"
	DownloadCompleted DownloadStatus = "completed"
)
