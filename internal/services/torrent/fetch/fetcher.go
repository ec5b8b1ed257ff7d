package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 10 << 20
)

var (
	ErrBadStatus      = errors.New("unexpected http status")
	ErrTooLarge       = errors.New("torrent file too large")
	ErrInvalidTorrent = errors.New("invalid torrent file")
)

type Config struct {
	CacheDir string
	Timeout  time.Duration
	MaxBytes int64
	Client   *http.Client
	Logger   *slog.Logger
}

// Fetcher downloads remote .torrent files into a local cache directory so
// the engine can open them as local sources.
type Fetcher struct {
	cacheDir string
	maxBytes int64
	client   *http.Client
	logger   *slog.Logger
}

func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "popcornstream-torrents")
	}
	return &Fetcher{cacheDir: cacheDir, maxBytes: maxBytes, client: client, logger: logger}
}

// Fetch downloads url, validates it as a torrent and returns the path of the
// cached copy, named after its info hash.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/x-bittorrent, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(body)) > f.maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBytes)
	}

	mi, err := metainfo.Load(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTorrent, err)
	}

	path, err := f.store(mi.HashInfoBytes().HexString(), body)
	if err != nil {
		return "", err
	}
	f.logger.Info("torrent fetch: cached remote torrent",
		slog.String("url", url),
		slog.String("name", info.BestName()),
		slog.String("path", path),
		slog.Int("bytes", len(body)),
	)
	return path, nil
}

// store writes body to a temp file and renames it into place so a partial
// write is never visible under the final name.
func (f *Fetcher) store(hash string, body []byte) (string, error) {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(f.cacheDir, ".fetch-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	path := filepath.Join(f.cacheDir, hash+".torrent")
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", err
	}
	return path, nil
}
