package disk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	instanceLockName = ".popcornstream.lock"
	clearLockName    = ".clear.lock"
)

// DirLock is an advisory lock that keeps two processes from streaming into
// the same data directory.
type DirLock struct {
	fl *flock.Flock
}

// AcquireDirLock takes the instance lock of dir without blocking. ok is false
// when another process holds it.
func AcquireDirLock(dir string) (lock *DirLock, ok bool, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create data dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, instanceLockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return nil, false, nil
	}
	return &DirLock{fl: fl}, true, nil
}

func (l *DirLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}

func isLockFile(name string) bool {
	return name == instanceLockName || name == clearLockName
}
