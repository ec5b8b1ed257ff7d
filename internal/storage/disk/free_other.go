//go:build !linux && !darwin

package disk

import "errors"

// FreeBytes is not implemented outside Linux and macOS.
func FreeBytes(path string) (int64, error) {
	return 0, errors.New("disk space check not supported on this platform")
}
