package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "popcorn",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	AttemptsStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "playback_attempts_started_total",
		Help:      "Total number of playback attempts accepted.",
	})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popcorn",
		Name:      "active_sessions",
		Help:      "Number of streaming sessions that have not reached a terminal phase.",
	})

	ReadinessTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "readiness_transitions_total",
		Help:      "Total published readiness states by status.",
	}, []string{"status"})

	FailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "playback_failures_total",
		Help:      "Total failed playback attempts by failure kind.",
	}, []string{"kind"})

	StaleEventsDiscardedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "stale_events_discarded_total",
		Help:      "Engine events and readiness updates dropped because they were stale.",
	}, []string{"reason"})

	RegistryHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "registry_hits_total",
		Help:      "Playback requests served from the download registry by asset kind.",
	}, []string{"kind"})

	RemoteFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "remote_torrent_fetch_total",
		Help:      "Remote .torrent downloads by result.",
	}, []string{"result"})

	TimeToReadySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "popcorn",
		Name:      "time_to_ready_seconds",
		Help:      "Time from session start to a playable file.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	DownloadSpeedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popcorn",
		Name:      "download_speed_bytes",
		Help:      "Last reported download speed of any buffering session in bytes per second.",
	})

	WSClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popcorn",
		Name:      "ws_clients",
		Help:      "Number of connected readiness WebSocket clients.",
	})

	IdleInhibitorsHeld = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "popcorn",
		Name:      "idle_inhibitors_held",
		Help:      "Number of sessions currently keeping the device awake.",
	})

	CacheClearedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "popcorn",
		Name:      "cache_cleared_bytes_total",
		Help:      "Total bytes removed from the torrent cache.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		AttemptsStartedTotal,
		ActiveSessions,
		ReadinessTransitionsTotal,
		FailuresTotal,
		StaleEventsDiscardedTotal,
		RegistryHitsTotal,
		RemoteFetchTotal,
		TimeToReadySeconds,
		DownloadSpeedBytes,
		WSClients,
		IdleInhibitorsHeld,
		CacheClearedBytesTotal,
	)
}
