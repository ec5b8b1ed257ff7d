package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"popcornstream/internal/domain"
)

const (
	RegistryMongo = "mongo"
	RegistryRedis = "redis"
	RegistryNone  = "none"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	MongoURI                 string
	MongoDatabase            string
	MongoDownloadsCollection string
	MongoWatchedCollection   string

	RegistryBackend string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	RedisKey        string

	TorrentDataDir   string
	TorrentCacheDir  string
	DownloadRoot     string // registry files must live here; defaults to TorrentDataDir
	ReadyBufferBytes int64
	MetadataTimeout  time.Duration
	MinFreeBytes     int64 // 0 disables the free space guard
	DiskResumeBytes  int64 // 0 = twice MinFreeBytes
	DiskPollInterval time.Duration

	FetchTimeout  time.Duration
	FetchMaxBytes int64

	NetworkMetered    bool
	StreamOnMetered   bool
	AutoSelectQuality domain.QualityPreference

	PlayerCommand string
	PlayerArgs    []string

	RateLimitRPS       float64
	RateLimitBurst     int
	CORSAllowedOrigins []string
}

func LoadConfig() Config {
	cfg := Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		MongoURI:                 getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:            getEnv("MONGO_DB", "popcornstream"),
		MongoDownloadsCollection: getEnv("MONGO_DOWNLOADS_COLLECTION", "downloads"),
		MongoWatchedCollection:   getEnv("MONGO_WATCHED_COLLECTION", "watched"),

		RegistryBackend: parseRegistryBackend(getEnv("REGISTRY_BACKEND", RegistryMongo)),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisDB:         int(getEnvInt64("REDIS_DB", 0)),
		RedisKey:        getEnv("REDIS_DOWNLOADS_KEY", ""),

		TorrentDataDir:   getEnv("TORRENT_DATA_DIR", "data"),
		TorrentCacheDir:  getEnv("TORRENT_CACHE_DIR", ""),
		DownloadRoot:     getEnv("DOWNLOAD_ROOT", ""),
		ReadyBufferBytes: getEnvInt64("TORRENT_READY_BUFFER_BYTES", 16<<20),
		MetadataTimeout:  getEnvDuration("TORRENT_METADATA_TIMEOUT", 10*time.Minute),
		MinFreeBytes:     getEnvInt64("TORRENT_MIN_FREE_BYTES", 1<<30),
		DiskResumeBytes:  getEnvInt64("TORRENT_DISK_RESUME_BYTES", 0),
		DiskPollInterval: getEnvDuration("TORRENT_DISK_POLL_INTERVAL", 30*time.Second),

		FetchTimeout:  getEnvDuration("FETCH_TIMEOUT", 30*time.Second),
		FetchMaxBytes: getEnvInt64("FETCH_MAX_BYTES", 10<<20),

		NetworkMetered:    getEnvBool("NETWORK_METERED", false),
		StreamOnMetered:   getEnvBool("STREAM_ON_METERED", false),
		AutoSelectQuality: parseQuality(getEnv("AUTO_SELECT_QUALITY", "")),

		PlayerCommand: getEnv("PLAYER_COMMAND", ""),
		PlayerArgs:    strings.Fields(getEnv("PLAYER_ARGS", "")),

		RateLimitRPS:       getEnvFloat("RATE_LIMIT_RPS", 100),
		RateLimitBurst:     int(getEnvInt64("RATE_LIMIT_BURST", 200)),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
	if cfg.DownloadRoot == "" {
		cfg.DownloadRoot = cfg.TorrentDataDir
	}
	return cfg
}

func parseRegistryBackend(value string) string {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case RegistryMongo, RegistryRedis, RegistryNone:
		return v
	default:
		return RegistryMongo
	}
}

func parseQuality(value string) domain.QualityPreference {
	switch q := domain.QualityPreference(strings.ToLower(strings.TrimSpace(value))); q {
	case domain.QualityHighest, domain.QualityLowest:
		return q
	default:
		return domain.QualityAsk
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration accepts Go durations ("90s") or a plain number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if item := strings.TrimSpace(part); item != "" {
			out = append(out, item)
		}
	}
	return out
}
