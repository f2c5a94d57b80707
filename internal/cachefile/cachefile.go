// Package cachefile reads and writes the JSON cache files shared by the pipeline.
//
// Every cache file is a JSON object keyed by a stringified ID. Loading is
// lenient: a missing or corrupt file yields an empty map. Saving rewrites the
// whole file, so only one process may own a cache directory at a time; see Lock.
package cachefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrLocked is returned by Lock when another run holds the cache directory.
var ErrLocked = errors.New("cache directory locked by another run")

const lockName = ".esisync.lock"

// Load reads a JSON object file into a map.
// Missing files return an empty map silently, corrupt files are logged.
func Load[V any](path string, log *slog.Logger) map[string]V {
	if log == nil {
		log = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("cache file unreadable, starting empty", "path", path, "error", err)
		}
		return make(map[string]V)
	}

	m := make(map[string]V)
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warn("cache file corrupt, starting empty", "path", path, "error", err)
		return make(map[string]V)
	}
	return m
}

// Save writes the map as a JSON object, replacing the file atomically.
func Save[V any](path string, m map[string]V) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Key formats a numeric ID as a cache key.
func Key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// DirLock is an exclusive hold on a cache directory for the duration of a run.
type DirLock struct {
	path string
}

// Lock takes the cache directory for this process. A second run against the
// same directory gets ErrLocked instead of silently losing cache updates.
func Lock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	path := filepath.Join(dir, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			owner, _ := os.ReadFile(path)
			return nil, fmt.Errorf("%w: %s (%s)", ErrLocked, path, string(owner))
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	defer f.Close()

	fmt.Fprintf(f, "pid %d since %s", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return &DirLock{path: path}, nil
}

// Unlock releases the directory.
func (l *DirLock) Unlock() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}
	return nil
}
