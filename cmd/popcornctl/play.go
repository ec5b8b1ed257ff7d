package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"popcornstream/internal/domain"
	"popcornstream/internal/domain/ports"
	"popcornstream/internal/services/host"
	"popcornstream/internal/services/playback"
	"popcornstream/internal/services/torrent/engine/anacrolix"
	"popcornstream/internal/services/torrent/fetch"
	"popcornstream/internal/storage/disk"
	"popcornstream/internal/usecase"
)

var playCmd = &cobra.Command{
	Use:   "play [magnet | file.torrent | url]",
	Short: "Buffer a torrent and hand the chosen file to a player",
	Long: `play resolves the torrent reference, waits until the selected file has
enough data buffered and then starts the configured player. When the torrent
holds several candidate files and none matches the media, you are asked to
pick one.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	f := playCmd.Flags()
	f.String("kind", "movie", "media kind (movie, episode)")
	f.String("id", "", "media id, e.g. an imdb id")
	f.String("title", "", "movie or episode title")
	f.String("show", "", "show title (episodes)")
	f.Int("season", 0, "season number (episodes)")
	f.Int("episode", 0, "episode number (episodes)")
	f.Float64("resume", 0, "resume position as a fraction in [0,1]")
	f.String("player", envString("PLAYER_COMMAND", ""), "player command; empty prints the file and waits")
	f.String("player-args", envString("PLAYER_ARGS", ""), "player arguments, {file} and {resume} are expanded")
	f.Int64("ready-buffer", envInt64("TORRENT_READY_BUFFER_BYTES", 16<<20), "bytes buffered before the file counts as ready")
	f.Int64("min-free-bytes", envInt64("TORRENT_MIN_FREE_BYTES", 1<<30), "free space kept on the data volume")
	f.Duration("metadata-timeout", envDuration("TORRENT_METADATA_TIMEOUT", 10*time.Minute), "give up when metadata does not arrive in time")
	f.Bool("metered", envBool("NETWORK_METERED", false), "treat the network as metered")
	f.Bool("allow-metered", envBool("STREAM_ON_METERED", false), "stream even on a metered network")
	f.Bool("clear-cache-retry", false, "clear the torrent cache and retry once after running out of disk space")
	rootCmd.AddCommand(playCmd)
}

type playOptions struct {
	kind, id, title, show string
	season, episode       int
	resume                float64
}

func (o playOptions) reference() (domain.MediaReference, error) {
	var media domain.Media
	switch domain.MediaKind(strings.ToLower(strings.TrimSpace(o.kind))) {
	case domain.MediaMovie:
		media = domain.Movie{ID: domain.MediaID(o.id), Title: o.title}
	case domain.MediaEpisode:
		media = domain.Episode{
			ID:        domain.MediaID(o.id),
			ShowTitle: o.show,
			Season:    o.season,
			Number:    o.episode,
			Title:     o.title,
		}
	default:
		return domain.MediaReference{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidMedia, o.kind)
	}
	ref := domain.MediaReference{Media: media, ResumeFraction: o.resume}
	if err := ref.Validate(); err != nil {
		return domain.MediaReference{}, err
	}
	return ref, nil
}

func playOptionsFromFlags(cmd *cobra.Command) playOptions {
	f := cmd.Flags()
	var o playOptions
	o.kind, _ = f.GetString("kind")
	o.id, _ = f.GetString("id")
	o.title, _ = f.GetString("title")
	o.show, _ = f.GetString("show")
	o.season, _ = f.GetInt("season")
	o.episode, _ = f.GetInt("episode")
	o.resume, _ = f.GetFloat64("resume")
	return o
}

func runPlay(cmd *cobra.Command, args []string) error {
	ref, err := playOptionsFromFlags(cmd).reference()
	if err != nil {
		return err
	}

	f := cmd.Flags()
	dataDir, _ := f.GetString("data-dir")
	player, _ := f.GetString("player")
	playerArgs, _ := f.GetString("player-args")
	readyBuffer, _ := f.GetInt64("ready-buffer")
	minFree, _ := f.GetInt64("min-free-bytes")
	metadataTimeout, _ := f.GetDuration("metadata-timeout")
	metered, _ := f.GetBool("metered")
	allowMetered, _ := f.GetBool("allow-metered")
	clearRetry, _ := f.GetBool("clear-cache-retry")

	logger := newLogger(cmd)

	lock, ok, err := disk.AcquireDirLock(dataDir)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("data dir %s is in use by another instance", dataDir)
	}
	defer lock.Release()

	engine, err := anacrolix.New(anacrolix.Config{
		DataDir:          dataDir,
		ReadyBufferBytes: readyBuffer,
		MetadataTimeout:  metadataTimeout,
		MinFreeBytes:     minFree,
		Logger:           logger,
	})
	if err != nil {
		return fmt.Errorf("torrent engine: %w", err)
	}
	defer engine.Close()

	cacheDir := filepath.Join(dataDir, ".torrents")
	consumer := newBlockingConsumer(playback.Launcher{
		Command: player,
		Args:    strings.Fields(playerArgs),
		Logger:  logger,
	})
	coord := usecase.NewCoordinator(usecase.CoordinatorConfig{
		Engine:  engine,
		Fetcher: fetch.New(fetch.Config{CacheDir: cacheDir, Logger: logger}),
		Cleaner: disk.Cleaner{
			Dir:       dataDir,
			Protected: func() []string { return append(engine.ActiveDirs(), cacheDir) },
			Logger:    logger,
		},
		Inhibitor:        host.NewInhibitor(logger),
		Network:          host.NewStaticNetwork(metered),
		Consumer:         consumer,
		Logger:           logger,
		AllowMetered:     allowMetered,
		ReleaseAfterPlay: true,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	attempt, err := coord.Start(ctx, usecase.PlaybackRequest{Media: ref, TorrentURL: args[0]})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", attempt.ID, ref.Media.DisplayTitle())

	st, err := follow(ctx, attempt, cmd.InOrStdin(), cmd.OutOrStdout(), clearRetry)
	if err != nil {
		return err
	}
	if st.Status != domain.StatusReady || st.Playback == nil {
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ready: %s\n", st.Playback.LocalFile)
	if player == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "no player configured, press Ctrl+C to stop")
		<-ctx.Done()
		return nil
	}
	select {
	case err := <-consumer.done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// attemptView is the part of an attempt the terminal loop drives.
type attemptView interface {
	Subscribe() (<-chan domain.ReadinessState, func())
	ChooseFile(index int) error
	ChooseFileByName(name string) error
	Cancel()
	Retry(ctx context.Context, clearCache bool) error
}

// follow prints state changes until the attempt reaches a terminal state.
func follow(ctx context.Context, a attemptView, in io.Reader, out io.Writer, clearRetry bool) (domain.ReadinessState, error) {
	states, unsubscribe := a.Subscribe()
	defer unsubscribe()

	input := bufio.NewScanner(in)
	var last string
	retried := false
	for {
		select {
		case <-ctx.Done():
			a.Cancel()
			return domain.ReadinessState{Status: domain.StatusCancelled}, nil
		case st, ok := <-states:
			if !ok {
				return domain.ReadinessState{}, errors.New("state stream closed")
			}
			if line := formatState(st); line != last {
				fmt.Fprintln(out, line)
				last = line
			}
			switch st.Status {
			case domain.StatusAwaitingFileChoice:
				if err := promptFileChoice(a, st.FileNames, input, out); err != nil {
					a.Cancel()
					return st, err
				}
			case domain.StatusFailed:
				if clearRetry && !retried && st.Failure.Recoverable() {
					retried = true
					fmt.Fprintln(out, "clearing torrent cache and retrying")
					if err := a.Retry(ctx, true); err != nil {
						return st, err
					}
					continue
				}
				return st, failureError(st.Failure)
			case domain.StatusReady, domain.StatusCancelled:
				return st, nil
			}
		}
	}
}

// promptFileChoice asks until a valid file is chosen. Input may be a 1-based
// number from the printed list or an exact file name.
func promptFileChoice(a attemptView, names []string, in *bufio.Scanner, out io.Writer) error {
	for i, name := range names {
		fmt.Fprintf(out, "  %d) %s\n", i+1, name)
	}
	for {
		fmt.Fprint(out, "choose a file: ")
		if !in.Scan() {
			if err := in.Err(); err != nil {
				return err
			}
			return errors.New("no file chosen")
		}
		answer := strings.TrimSpace(in.Text())
		if answer == "" {
			continue
		}
		var err error
		if n, ok := parseChoice(answer); ok {
			err = a.ChooseFile(n - 1)
		} else {
			err = a.ChooseFileByName(answer)
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, usecase.ErrNotAwaitingFileChoice) || errors.Is(err, usecase.ErrFileAlreadySelected) {
			return nil
		}
		fmt.Fprintf(out, "invalid choice: %v\n", err)
	}
}

func parseChoice(s string) (int, bool) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return 0, false
		}
	}
	return n, n > 0
}

func formatState(st domain.ReadinessState) string {
	switch st.Status {
	case domain.StatusBuffering, domain.StatusProcessing:
		return fmt.Sprintf("%-10s %5.1f%%  %s/s  %d seeds",
			st.Status, st.Progress*100, humanBytes(st.Speed), st.Seeds)
	case domain.StatusFailed:
		if st.Failure != nil {
			return fmt.Sprintf("failed: %s (%s)", st.Failure.Message, st.Failure.Kind)
		}
	}
	return string(st.Status)
}

func failureError(f *domain.Failure) error {
	if f == nil {
		return errors.New("playback failed")
	}
	return fmt.Errorf("playback failed: %s", f.Message)
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// blockingConsumer reports when the wrapped player exits.
type blockingConsumer struct {
	inner ports.PlaybackConsumer
	done  chan error
}

func newBlockingConsumer(inner ports.PlaybackConsumer) *blockingConsumer {
	return &blockingConsumer{inner: inner, done: make(chan error, 1)}
}

func (c *blockingConsumer) Play(ctx context.Context, pb domain.Playback, handle ports.StreamHandle) error {
	err := c.inner.Play(ctx, pb, handle)
	select {
	case c.done <- err:
	default:
	}
	return err
}
