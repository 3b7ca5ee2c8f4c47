// Package security checks file paths supplied on the command line before
// the daemon or replay tool writes to them.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideAllowed reports an output path that resolves outside every
// allowed directory.
var ErrOutsideAllowed = errors.New("path outside allowed directories")

const maxFilenameLen = 128

// resolve returns the absolute path with symlinks evaluated. A path that
// does not exist yet is resolved through its nearest existing ancestor so a
// link higher up cannot redirect the write.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			rest, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(dir) == dir {
			return abs, nil
		}
	}
}

// Within returns nil when path resolves to dir or somewhere beneath it.
func Within(path, dir string) error {
	p, err := resolve(path)
	if err != nil {
		return err
	}
	d, err := resolve(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrOutsideAllowed, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s escapes %s", ErrOutsideAllowed, path, dir)
	}
	return nil
}

// DefaultOutputDirs returns the working directory and the temp directory.
func DefaultOutputDirs() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	return []string{cwd, os.TempDir()}, nil
}

// ValidateOutputPath checks that path lands inside one of dirs. With no
// dirs it falls back to DefaultOutputDirs.
func ValidateOutputPath(path string, dirs ...string) error {
	if len(dirs) == 0 {
		var err error
		if dirs, err = DefaultOutputDirs(); err != nil {
			return err
		}
	}
	for _, d := range dirs {
		if Within(path, d) == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not under %s", ErrOutsideAllowed, path, strings.Join(dirs, ", "))
}

// SanitizeFilename maps an arbitrary name onto [A-Za-z0-9._-], collapsing
// runs of other characters into one underscore. An empty result becomes
// "unnamed".
func SanitizeFilename(s string) string {
	var b strings.Builder
	under := false
	for _, r := range s {
		if b.Len() >= maxFilenameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			under = false
		case !under:
			b.WriteByte('_')
			under = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unnamed"
	}
	return out
}
