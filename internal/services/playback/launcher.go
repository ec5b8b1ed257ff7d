package playback

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
)

// Launcher hands a ready playback to an external player. With no command
// configured it only logs the playback so HTTP clients can pick it up.
type Launcher struct {
	Command string
	Args    []string
	Logger  *slog.Logger
}

// Play runs the player until it exits. Args may contain {file} and
// {resume}; the local file is appended when {file} is absent.
func (l Launcher) Play(ctx context.Context, pb domain.Playback, handle ports.StreamHandle) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{
		slog.String("file", pb.LocalFile),
		slog.String("title", pb.Media.Title),
		slog.Float64("resume", pb.ResumeFraction),
		slog.Bool("fromRegistry", pb.FromRegistry),
		slog.Bool("streaming", handle != nil),
	}
	if pb.NextEpisode != nil {
		attrs = append(attrs, slog.String("nextEpisode", string(pb.NextEpisode.ID)))
	}
	logger.Info("playback: ready", attrs...)

	if l.Command == "" {
		return nil
	}
	args := expandArgs(l.Args, pb)
	cmd := exec.CommandContext(ctx, l.Command, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("player %s: %w", l.Command, err)
	}
	logger.Info("playback: player exited", slog.String("file", pb.LocalFile))
	return nil
}

func expandArgs(args []string, pb domain.Playback) []string {
	out := make([]string, 0, len(args)+1)
	hasFile := false
	resume := strconv.FormatFloat(pb.ResumeFraction, 'f', 4, 64)
	for _, a := range args {
		if strings.Contains(a, "{file}") {
			hasFile = true
		}
		a = strings.ReplaceAll(a, "{file}", pb.LocalFile)
		a = strings.ReplaceAll(a, "{resume}", resume)
		out = append(out, a)
	}
	if !hasFile {
		out = append(out, pb.LocalFile)
	}
	return out
}
