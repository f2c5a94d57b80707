package namecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/raphaelgruber/esisync/internal/esi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLookup struct {
	mu         sync.Mutex
	types      map[int64]string
	locations  map[int64]string
	structures map[int64]error
	calls      map[string]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		types:      map[int64]string{29050: "Raven Blueprint", 34: "Tritanium"},
		locations:  map[int64]string{60003760: "Jita IV - Moon 4 - Caldari Navy Assembly Plant"},
		structures: map[int64]error{},
		calls:      map[string]int{},
	}
}

func (f *fakeLookup) count(kind string) {
	f.mu.Lock()
	f.calls[kind]++
	f.mu.Unlock()
}

func (f *fakeLookup) TypeName(_ context.Context, id int64) (string, error) {
	f.count("type")
	if n, ok := f.types[id]; ok {
		return n, nil
	}
	return "", fmt.Errorf("type %d: %w", id, esi.ErrNotFound)
}

func (f *fakeLookup) LocationName(_ context.Context, id int64) (string, error) {
	f.count("location")
	if n, ok := f.locations[id]; ok {
		return n, nil
	}
	return "", esi.ErrNotFound
}

func (f *fakeLookup) StructureName(_ context.Context, id int64) (string, error) {
	f.count("structure")
	if err, ok := f.structures[id]; ok {
		if err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("Structure %d", id), nil
}

func TestResolveCachesHits(t *testing.T) {
	dir := t.TempDir()
	lookup := newFakeLookup()
	c := Load(dir, lookup, nil)

	for i := 0; i < 3; i++ {
		name, ok := c.Resolve(context.Background(), KindType, 29050)
		require.True(t, ok)
		assert.Equal(t, "Raven Blueprint", name)
	}
	assert.Equal(t, 1, lookup.calls["type"])

	require.NoError(t, c.Save())

	// A fresh cache over the same directory needs no lookups.
	offline := Load(dir, nil, nil)
	name, ok := offline.Resolve(context.Background(), KindType, 29050)
	require.True(t, ok)
	assert.Equal(t, "Raven Blueprint", name)
}

func TestResolveMissNotCached(t *testing.T) {
	lookup := newFakeLookup()
	c := Load(t.TempDir(), lookup, nil)

	_, ok := c.Resolve(context.Background(), KindType, 999)
	assert.False(t, ok)
	_, ok = c.Resolve(context.Background(), KindType, 999)
	assert.False(t, ok)
	assert.Equal(t, 2, lookup.calls["type"], "failed lookups are retried")
	assert.Equal(t, 0, c.Stats().Types)
}

func TestForbiddenStructureNegativelyCached(t *testing.T) {
	dir := t.TempDir()
	const citadel = int64(1035466617946)

	lookup := newFakeLookup()
	lookup.structures[citadel] = fmt.Errorf("structure: %w", esi.ErrForbidden)

	c := Load(dir, lookup, nil)
	_, ok := c.ResolveLocation(context.Background(), citadel)
	assert.False(t, ok)
	assert.True(t, c.IsFailedStructure(citadel))

	_, ok = c.ResolveLocation(context.Background(), citadel)
	assert.False(t, ok)
	assert.Equal(t, 1, lookup.calls["structure"], "negative cache suppresses repeat lookups")
	require.NoError(t, c.Save())

	// Persisted across runs.
	lookup2 := newFakeLookup()
	c2 := Load(dir, lookup2, nil)
	assert.True(t, c2.IsFailedStructure(citadel))
	_, ok = c2.ResolveLocation(context.Background(), citadel)
	assert.False(t, ok)
	assert.Equal(t, 0, lookup2.calls["structure"])

	// Explicit forget re-enables lookups.
	assert.True(t, c2.ForgetFailedStructure(citadel))
	assert.False(t, c2.ForgetFailedStructure(citadel))
	name, ok := c2.ResolveLocation(context.Background(), citadel)
	require.True(t, ok)
	assert.Equal(t, "Structure 1035466617946", name)
}

func TestStructureTransientErrorNotNegativelyCached(t *testing.T) {
	const citadel = int64(1035466617946)
	tests := []struct {
		name string
		err  error
	}{
		{"no credential", esi.ErrNoCredential},
		{"token", fmt.Errorf("%w: refresh failed", esi.ErrTokenUnavailable)},
		{"unauthorized", &esi.HTTPError{StatusCode: 401}},
		{"server", &esi.HTTPError{StatusCode: 502}},
		{"plain", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := newFakeLookup()
			lookup.structures[citadel] = tt.err
			c := Load(t.TempDir(), lookup, nil)

			_, ok := c.ResolveLocation(context.Background(), citadel)
			assert.False(t, ok)
			assert.False(t, c.IsFailedStructure(citadel))
		})
	}
}

func TestLocationKind(t *testing.T) {
	assert.Equal(t, KindLocation, LocationKind(60003760))
	assert.Equal(t, KindLocation, LocationKind(30000142))
	assert.Equal(t, KindStructure, LocationKind(1035466617946))
}

func TestResolveWithoutLookup(t *testing.T) {
	c := Load(t.TempDir(), nil, nil)
	_, ok := c.Resolve(context.Background(), KindType, 34)
	assert.False(t, ok)
}

func TestSaveOnlyWhenDirty(t *testing.T) {
	dir := t.TempDir()
	c := Load(dir, newFakeLookup(), nil)
	require.NoError(t, c.Save())
	assert.NoFileExists(t, dir+"/"+TypesFile)

	_, ok := c.Resolve(context.Background(), KindLocation, 60003760)
	require.True(t, ok)
	require.NoError(t, c.Save())
	assert.FileExists(t, dir+"/"+LocationsFile)
	assert.Equal(t, Stats{Locations: 1}, c.Stats())
}

func TestConcurrentResolve(t *testing.T) {
	c := Load(t.TempDir(), newFakeLookup(), nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Resolve(context.Background(), KindType, 34)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, c.Stats().Types)
}
