package disk

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// Cleaner empties a torrent cache directory. Entries reported by Protected
// (absolute paths of running sessions) are left alone.
type Cleaner struct {
	Dir       string
	Protected func() []string
	Logger    *slog.Logger
}

// Clear removes every top-level entry of Dir except lock files and protected
// paths and returns the number of bytes freed.
func (c Cleaner) Clear(ctx context.Context) (int64, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(c.Dir)
	if err != nil {
		return 0, fmt.Errorf("resolve cache dir: %w", err)
	}
	if root == string(filepath.Separator) {
		return 0, fmt.Errorf("refusing to clear filesystem root")
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, nil
	}

	fl := flock.New(filepath.Join(root, clearLockName))
	if err := fl.Lock(); err != nil {
		return 0, fmt.Errorf("lock cache dir: %w", err)
	}
	defer fl.Unlock()

	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}

	protected := make(map[string]struct{})
	if c.Protected != nil {
		for _, p := range c.Protected() {
			if abs, err := filepath.Abs(p); err == nil {
				protected[abs] = struct{}{}
			}
		}
	}

	var freed int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return freed, err
		}
		if isLockFile(e.Name()) {
			continue
		}
		target := filepath.Join(root, e.Name())
		if isProtected(target, protected) {
			logger.Debug("cache cleaner: skipping active entry", slog.String("path", target))
			continue
		}
		size := treeSize(target)
		if err := os.RemoveAll(target); err != nil {
			logger.Warn("cache cleaner: remove failed",
				slog.String("path", target),
				slog.String("error", err.Error()),
			)
			continue
		}
		freed += size
	}
	return freed, nil
}

func isProtected(target string, protected map[string]struct{}) bool {
	for p := range protected {
		if p == target || strings.HasPrefix(p, target+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func treeSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
