// Package fsutil wraps the directory and file operations used to manage
// bundle versions on disk. Operations that can race with external readers
// are retried a bounded number of times with a short backoff.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultAttempts  = 4
	defaultBackoffMs = 25
	maxBackoffMs     = 400
)

// Retrier runs filesystem operations with bounded retries.
type Retrier struct {
	// Attempts is the total number of tries, at least 1.
	Attempts int
	// Backoff is the delay before the second try; it doubles after each failure.
	Backoff time.Duration
	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// Default is the retrier used by the package-level helpers.
var Default = &Retrier{
	Attempts: defaultAttempts,
	Backoff:  defaultBackoffMs * time.Millisecond,
}

// Do runs op until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned.
func (r *Retrier) Do(op func() error) error {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := r.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := range attempts {
		if err = op(); err == nil || !retryable(err) {
			return err
		}
		if attempt < attempts-1 {
			sleep(r.backoff(attempt))
		}
	}
	return err
}

// backoff returns the delay after the given failed attempt.
func (r *Retrier) backoff(attempt int) time.Duration {
	ms := float64(r.Backoff.Milliseconds()) * math.Pow(2, float64(attempt))
	if ms > maxBackoffMs {
		ms = maxBackoffMs
	}
	return time.Duration(ms) * time.Millisecond
}

// retryable reports whether err may clear up on its own. A missing source or
// an invalid argument will not.
func retryable(err error) bool {
	return !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, fs.ErrInvalid)
}

// Rename moves src to dst.
func (r *Retrier) Rename(src, dst string) error {
	return r.Do(func() error {
		return os.Rename(src, dst)
	})
}

// RemoveAll deletes path and everything below it. A missing path is not an error.
func (r *Retrier) RemoveAll(path string) error {
	return r.Do(func() error {
		return os.RemoveAll(path)
	})
}

// CopyFile copies src to dst, creating dst's parent directories. The copy is
// written to a temporary sibling and renamed into place.
func (r *Retrier) CopyFile(src, dst string) error {
	return r.Do(func() error {
		return copyFile(src, dst)
	})
}

// Rename moves src to dst using the default retrier.
func Rename(src, dst string) error {
	return Default.Rename(src, dst)
}

// RemoveAll deletes path using the default retrier.
func RemoveAll(path string) error {
	return Default.RemoveAll(path)
}

// CopyFile copies src to dst using the default retrier.
func CopyFile(src, dst string) error {
	return Default.CopyFile(src, dst)
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// WriteFileAtomic writes data to a temporary sibling of path and renames it
// into place, creating parent directories.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// WriteStreamAtomic copies r into path through a temporary sibling and
// returns the number of bytes written.
func WriteStreamAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return n, err
	}
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if _, err := WriteStreamAtomic(dst, in); err != nil {
		return fmt.Errorf("copying %s to %s: %w", src, dst, err)
	}
	return nil
}
