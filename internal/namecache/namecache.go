// Package namecache resolves remote numeric IDs to display names through
// persistent JSON caches, with a negative cache for structures that can never
// be resolved (access denied citadels).
package namecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/raphaelgruber/esisync/internal/cachefile"
	"github.com/raphaelgruber/esisync/internal/esi"
)

// Kind selects which cache an ID belongs to.
type Kind string

const (
	KindType      Kind = "type"
	KindLocation  Kind = "location"
	KindStructure Kind = "structure"
)

// Cache file names inside the cache directory.
const (
	TypesFile            = "types.json"
	LocationsFile        = "locations.json"
	StructuresFile       = "structures.json"
	FailedStructuresFile = "failed_structures.json"
)

// structureIDFloor is the lowest ID handed out to player structures.
const structureIDFloor = 1_000_000_000_000

// Lookup is the remote name source consulted on a cache miss.
type Lookup interface {
	TypeName(ctx context.Context, id int64) (string, error)
	LocationName(ctx context.Context, id int64) (string, error)
	StructureName(ctx context.Context, id int64) (string, error)
}

// Stats reports cache sizes.
type Stats struct {
	Types            int
	Locations        int
	Structures       int
	FailedStructures int
}

// Cache is the name resolution cache. Load it once, pass it to whoever needs
// names, and Save it at the end of the run. Safe for concurrent use within a process.
type Cache struct {
	dir    string
	lookup Lookup
	log    *slog.Logger

	mu         sync.Mutex
	types      map[string]string
	locations  map[string]string
	structures map[string]string
	failed     map[string]string
	dirty      bool
}

// Load reads all cache files from dir. lookup may be nil for offline use,
// in which case misses stay unresolved.
func Load(dir string, lookup Lookup, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		dir:        dir,
		lookup:     lookup,
		log:        log,
		types:      cachefile.Load[string](filepath.Join(dir, TypesFile), log),
		locations:  cachefile.Load[string](filepath.Join(dir, LocationsFile), log),
		structures: cachefile.Load[string](filepath.Join(dir, StructuresFile), log),
		failed:     cachefile.Load[string](filepath.Join(dir, FailedStructuresFile), log),
	}
	log.Debug("name cache loaded",
		"types", len(c.types),
		"locations", len(c.locations),
		"structures", len(c.structures),
		"failed_structures", len(c.failed))
	return c
}

// Save writes every cache file if anything changed since Load.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	files := []struct {
		name string
		m    map[string]string
	}{
		{TypesFile, c.types},
		{LocationsFile, c.locations},
		{StructuresFile, c.structures},
		{FailedStructuresFile, c.failed},
	}
	for _, f := range files {
		if err := cachefile.Save(filepath.Join(c.dir, f.name), f.m); err != nil {
			return fmt.Errorf("save name cache: %w", err)
		}
	}
	c.dirty = false
	return nil
}

// LocationKind routes a location ID to the structure cache when it is a player structure.
func LocationKind(id int64) Kind {
	if id >= structureIDFloor {
		return KindStructure
	}
	return KindLocation
}

// Resolve returns the display name for id. ok is false when the name is
// unknown, either because the lookup failed or the structure is negatively cached.
func (c *Cache) Resolve(ctx context.Context, kind Kind, id int64) (name string, ok bool) {
	key := cachefile.Key(id)

	c.mu.Lock()
	m := c.mapFor(kind)
	if name, hit := m[key]; hit {
		c.mu.Unlock()
		return name, true
	}
	if kind == KindStructure {
		if _, denied := c.failed[key]; denied {
			c.mu.Unlock()
			return "", false
		}
	}
	c.mu.Unlock()

	if c.lookup == nil || id == 0 {
		return "", false
	}

	name, err := c.fetch(ctx, kind, id)
	if err != nil {
		if kind == KindStructure && errors.Is(err, esi.ErrForbidden) {
			c.markFailed(key, err)
			c.log.Info("structure unresolvable, negatively cached", "structure_id", id, "error", err)
			return "", false
		}
		switch {
		case errors.Is(err, context.Canceled):
		case errors.Is(err, esi.ErrNoCredential):
			c.log.Debug("structure lookup skipped without token", "structure_id", id)
		default:
			c.log.Warn("name lookup failed", "kind", kind, "id", id, "error", err)
		}
		return "", false
	}

	c.mu.Lock()
	m[key] = name
	c.dirty = true
	c.mu.Unlock()
	return name, true
}

// ResolveLocation resolves a station, system, or structure ID.
func (c *Cache) ResolveLocation(ctx context.Context, id int64) (string, bool) {
	return c.Resolve(ctx, LocationKind(id), id)
}

// IsFailedStructure reports whether id sits in the negative cache.
func (c *Cache) IsFailedStructure(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.failed[cachefile.Key(id)]
	return ok
}

// ForgetFailedStructure removes id from the negative cache so the next run queries it again.
// Returns false if the ID was not negatively cached.
func (c *Cache) ForgetFailedStructure(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cachefile.Key(id)
	if _, ok := c.failed[key]; !ok {
		return false
	}
	delete(c.failed, key)
	c.dirty = true
	return true
}

// Stats returns the current cache sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Types:            len(c.types),
		Locations:        len(c.locations),
		Structures:       len(c.structures),
		FailedStructures: len(c.failed),
	}
}

func (c *Cache) fetch(ctx context.Context, kind Kind, id int64) (string, error) {
	switch kind {
	case KindType:
		return c.lookup.TypeName(ctx, id)
	case KindLocation:
		return c.lookup.LocationName(ctx, id)
	case KindStructure:
		return c.lookup.StructureName(ctx, id)
	}
	return "", fmt.Errorf("unknown name kind %q", kind)
}

func (c *Cache) markFailed(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[key] = fmt.Sprintf("%s: %v", time.Now().UTC().Format(time.RFC3339), err)
	c.dirty = true
}

// mapFor returns the positive cache for kind. Caller must hold mu.
func (c *Cache) mapFor(kind Kind) map[string]string {
	switch kind {
	case KindLocation:
		return c.locations
	case KindStructure:
		return c.structures
	default:
		return c.types
	}
}
