package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveLoadState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := NewLZ4Codec(NewGobCodec())

	require.NoError(t, SaveState(dir, "iterator", codec, sampleState()))

	info, err := os.Stat(filepath.Join(dir, "iterator.gob.lz4"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(filePerm), info.Mode().Perm())

	var loaded cursorState

	require.NoError(t, LoadState(dir, "iterator", codec, &loaded))
	assert.Equal(t, *sampleState(), loaded)
}

func TestSaveState_LeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, SaveState(dir, "a", NewJSONCodec(), sampleState()))
	require.NoError(t, SaveState(dir, "a", NewJSONCodec(), sampleState()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.json", entries[0].Name())
}

func TestLoadState_FileNotFound(t *testing.T) {
	t.Parallel()

	var state cursorState

	err := LoadState(t.TempDir(), "nonexistent", NewJSONCodec(), &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestSaveState_InvalidDirectory(t *testing.T) {
	t.Parallel()

	err := SaveState("/nonexistent/path/that/does/not/exist", "test", NewJSONCodec(), sampleState())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}

func TestSaveState_EncodeError(t *testing.T) {
	t.Parallel()

	// Channels cannot be JSON-encoded.
	err := SaveState(t.TempDir(), "bad", NewJSONCodec(), make(chan int))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "encode")
}

func TestLoadState_DecodeError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("not json{{{"), 0o600))

	var state cursorState

	err := LoadState(dir, "corrupt", NewJSONCodec(), &state)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := NewPersister[cursorState]("meta", NewJSONCodec())

	require.NoError(t, p.Save(dir, sampleState()))
	assert.Equal(t, filepath.Join(dir, "meta.json"), p.Path(dir))

	loaded, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, sampleState(), loaded)
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewPersister[cursorState]("missing", NewGobCodec()).Load(t.TempDir())

	assert.Error(t, err)
}
