package disk

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path outside root")

// Within reports whether target lies strictly inside root. The check is
// lexical; root itself is not inside root.
func Within(root, target string) bool {
	if root == "" || target == "" {
		return false
	}
	base, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// CheckWithin rejects target unless it is an absolute path inside root.
func CheckWithin(root, target string) error {
	if !filepath.IsAbs(target) {
		return fmt.Errorf("%w: %q is not absolute", ErrOutsideRoot, target)
	}
	if !Within(root, target) {
		return fmt.Errorf("%w: %q is not under %q", ErrOutsideRoot, target, root)
	}
	return nil
}

// ResolveWithin follows symlinks in target and returns the real path when it
// still lies inside the real root.
func ResolveWithin(root, target string) (string, error) {
	if err := CheckWithin(root, target); err != nil {
		return "", err
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", err
	}
	if !Within(realRoot, resolved) {
		return "", fmt.Errorf("%w: %q resolves to %q", ErrOutsideRoot, target, resolved)
	}
	return resolved, nil
}
