package main

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// Version is set via ldflags during build.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:          "popcornctl",
	Short:        "Drive a torrent playback attempt from the terminal",
	Long:         `popcornctl resolves a torrent reference, buffers it until the chosen file is playable and hands it to a local player.`,
	Version:      Version,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("data-dir", envString("TORRENT_DATA_DIR", "data"), "torrent data directory")
	flags.String("log-level", envString("LOG_LEVEL", "warn"), "log level (debug, info, warn, error)")
	flags.String("log-format", envString("LOG_FORMAT", "text"), "log format (text, json)")
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	levelRaw, _ := cmd.Flags().GetString("log-level")
	formatRaw, _ := cmd.Flags().GetString("log-format")
	return buildLogger(cmd.ErrOrStderr(), levelRaw, formatRaw)
}

func buildLogger(w io.Writer, levelRaw, formatRaw string) *slog.Logger {
	options := &slog.HandlerOptions{Level: parseLogLevel(levelRaw)}
	if strings.EqualFold(strings.TrimSpace(formatRaw), "json") {
		return slog.New(slog.NewJSONHandler(w, options))
	}
	return slog.New(slog.NewTextHandler(w, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func envString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(os.Getenv(key)), 10, 64)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func envBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key)))
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
