// Package contractcache remembers resolved contracts between runs and maps
// synced entities to their destination post IDs.
package contractcache

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/raphaelgruber/esisync/internal/cachefile"
	"github.com/raphaelgruber/esisync/internal/models"
)

// Backend names accepted by Open.
const (
	BackendFile      = "file"
	BackendSurrealDB = "surrealdb"
)

// File backend file names inside the cache directory.
const (
	ContractsFile = "contracts.json"
	PostIndexFile = "post_index.json"
)

// Store is the contract cache and post index.
// Get returns nil, nil on a miss. PostID returns 0 when no post is indexed.
type Store interface {
	Get(ctx context.Context, contractID int64) (*models.CacheEntry, error)
	Put(ctx context.Context, entry models.CacheEntry) error
	Delete(ctx context.Context, contractID int64) error
	PostID(ctx context.Context, kind models.Kind, entityID int64) (int64, error)
	SetPostID(ctx context.Context, kind models.Kind, entityID, postID int64) error
	DeletePostID(ctx context.Context, kind models.Kind, entityID int64) error
	Count(ctx context.Context) (contracts, posts int, err error)
	Save(ctx context.Context) error
	Close(ctx context.Context) error
}

// FileStore keeps the cache in two JSON files that are loaded whole at
// startup and overwritten whole by Save. Use one writer per directory.
type FileStore struct {
	dir string
	log *slog.Logger
	now func() time.Time

	mu        sync.Mutex
	contracts map[string]models.CacheEntry
	posts     map[string]int64
	dirty     bool
}

var _ Store = (*FileStore)(nil)

// OpenFile loads the file store from dir. Missing or corrupt files start empty.
func OpenFile(dir string, log *slog.Logger) *FileStore {
	if log == nil {
		log = slog.Default()
	}
	s := &FileStore{
		dir:       dir,
		log:       log,
		now:       time.Now,
		contracts: cachefile.Load[models.CacheEntry](filepath.Join(dir, ContractsFile), log),
		posts:     cachefile.Load[int64](filepath.Join(dir, PostIndexFile), log),
	}
	log.Debug("contract cache loaded", "contracts", len(s.contracts), "posts", len(s.posts))
	return s
}

func (s *FileStore) Get(_ context.Context, contractID int64) (*models.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.contracts[cachefile.Key(contractID)]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *FileStore) Put(_ context.Context, entry models.CacheEntry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[cachefile.Key(entry.Resolved.ContractID)] = entry
	s.dirty = true
	return nil
}

func (s *FileStore) Delete(_ context.Context, contractID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cachefile.Key(contractID)
	if _, ok := s.contracts[key]; ok {
		delete(s.contracts, key)
		s.dirty = true
	}
	return nil
}

func (s *FileStore) PostID(_ context.Context, kind models.Kind, entityID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posts[postKey(kind, entityID)], nil
}

func (s *FileStore) SetPostID(_ context.Context, kind models.Kind, entityID, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := postKey(kind, entityID)
	if s.posts[key] != postID {
		s.posts[key] = postID
		s.dirty = true
	}
	return nil
}

func (s *FileStore) DeletePostID(_ context.Context, kind models.Kind, entityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := postKey(kind, entityID)
	if _, ok := s.posts[key]; ok {
		delete(s.posts, key)
		s.dirty = true
	}
	return nil
}

func (s *FileStore) Count(context.Context) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.contracts), len(s.posts), nil
}

// Save overwrites both files if anything changed.
func (s *FileStore) Save(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	if err := cachefile.Save(filepath.Join(s.dir, ContractsFile), s.contracts); err != nil {
		return fmt.Errorf("save contract cache: %w", err)
	}
	if err := cachefile.Save(filepath.Join(s.dir, PostIndexFile), s.posts); err != nil {
		return fmt.Errorf("save post index: %w", err)
	}
	s.dirty = false
	return nil
}

// Close saves pending changes.
func (s *FileStore) Close(ctx context.Context) error {
	return s.Save(ctx)
}

func postKey(kind models.Kind, entityID int64) string {
	return fmt.Sprintf("%s:%d", kind, entityID)
}
