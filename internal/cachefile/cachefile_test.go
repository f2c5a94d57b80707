package cachefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	m := Load[string](filepath.Join(t.TempDir(), "types.json"), nil)
	require.NotNil(t, m)
	assert.Empty(t, m)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "types.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	m := Load[string](path, nil)
	require.NotNil(t, m)
	assert.Empty(t, m)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "types.json")

	in := map[string]string{"29050": "Gila Blueprint", "34": "Tritanium"}
	require.NoError(t, Save(path, in))

	out := Load[string](path, nil)
	assert.Equal(t, in, out)

	// Save is a full overwrite.
	require.NoError(t, Save(path, map[string]string{"34": "Tritanium"}))
	out = Load[string](path, nil)
	assert.Equal(t, map[string]string{"34": "Tritanium"}, out)
}

func TestSaveNullValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "structures.json")
	name := "Jita Fortizar"
	require.NoError(t, Save(path, map[string]*string{"1": &name, "2": nil}))

	out := Load[*string](path, nil)
	require.Len(t, out, 2)
	require.NotNil(t, out["1"])
	assert.Equal(t, name, *out["1"])
	assert.Nil(t, out["2"])
}

func TestLock(t *testing.T) {
	dir := t.TempDir()

	first, err := Lock(dir)
	require.NoError(t, err)

	_, err = Lock(dir)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Unlock())

	second, err := Lock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Unlock())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "222262092", Key(222262092))
}
