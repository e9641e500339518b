package fsx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrUnsafePath  = errors.New("path must be local relative or absolute")
	ErrLockTimeout = errors.New("append lock timeout")
)

const (
	lockTimeout    = 10 * time.Second
	lockRetry      = 5 * time.Millisecond
	lockStaleAfter = time.Minute
)

// AppendLine writes line plus a trailing newline to path under a sidecar lock file, then
// fsyncs. Concurrent writers in any process never interleave partial lines.
func AppendLine(path string, line []byte, mode os.FileMode) error {
	clean, err := cleanPath(path)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(clean); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create append directory: %w", err)
		}
	}

	payload := make([]byte, 0, len(line)+1)
	payload = append(payload, line...)
	payload = append(payload, '\n')

	return withLock(clean+".lock", func() error {
		f, err := os.OpenFile(clean, os.O_CREATE|os.O_APPEND|os.O_WRONLY, mode)
		if err != nil {
			return fmt.Errorf("open append file: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(payload); err != nil {
			return fmt.Errorf("append line: %w", err)
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync append file: %w", err)
		}
		return nil
	})
}

// SafeName maps an arbitrary identifier to a single path element.
func SafeName(id string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "_"
	}
	return name
}

func withLock(lockPath string, fn func() error) error {
	start := time.Now()
	for {
		lf, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_ = lf.Close()
			defer os.Remove(lockPath)
			return fn()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire append lock: %w", err)
		}
		if info, serr := os.Stat(lockPath); serr == nil && time.Since(info.ModTime()) > lockStaleAfter {
			// holder died without cleaning up
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) >= lockTimeout {
			return ErrLockTimeout
		}
		time.Sleep(lockRetry)
	}
}

func cleanPath(path string) (string, error) {
	clean := filepath.Clean(path)
	if filepath.IsLocal(clean) || filepath.IsAbs(clean) {
		return clean, nil
	}
	return "", ErrUnsafePath
}
