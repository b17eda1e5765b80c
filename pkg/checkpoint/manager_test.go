package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/pipeckpt/pkg/checkpoint"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/dataset"
	"github.com/Sumatoshi-tech/pipeckpt/pkg/persist"
)

func savedState(t *testing.T, coord *checkpoint.Coordinator, ds dataset.Dataset, k int) *checkpoint.State {
	t.Helper()

	it := dataset.NewIterator(ds)
	pull(t, it, k)

	st, err := coord.Save(context.Background(), it)
	require.NoError(t, err)

	return st
}

func TestManager_Paths(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	m := checkpoint.NewManager(dir, "0123456789abcdef", coord)

	assert.Equal(t, filepath.Join(dir, "0123456789abcdef"), m.CheckpointDir())
	assert.Equal(t, filepath.Join(dir, "0123456789abcdef", "checkpoint.json"), m.MetadataPath())
	assert.Equal(t, filepath.Join(dir, "0123456789abcdef", "state.gob.lz4"), m.StatePath())
}

func TestManager_SaveLoadRestore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	ds := squares(t, 5, 2)
	m := checkpoint.NewManager(dir, dataset.Fingerprint(ds), coord)

	assert.False(t, m.Exists())

	st := savedState(t, coord, ds, 7)
	require.NoError(t, m.Save(ctx, st))
	assert.True(t, m.Exists())
	require.NoError(t, m.Validate())

	meta, err := m.LoadMetadata()
	require.NoError(t, err)
	assert.Equal(t, st.Fingerprint, meta.Fingerprint)
	assert.Equal(t, st.Pipeline, meta.Pipeline)
	assert.Equal(t, int64(7), meta.Emitted)
	assert.Equal(t, 3, meta.Stages)
	assert.Equal(t, ".gob.lz4", meta.Codec)
	assert.Equal(t, "state.gob.lz4", meta.StateFile)
	assert.Positive(t, meta.StateBytes)

	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	it, err := coord.Restore(ctx, squares(t, 5, 2), loaded)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 9, 16}, pull(t, it, 10))
}

func TestManager_SaveOverwrites(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewJSONCodec()})
	ds := squares(t, 5, 1)
	m := checkpoint.NewManager(t.TempDir(), dataset.Fingerprint(ds), coord)

	require.NoError(t, m.Save(ctx, savedState(t, coord, ds, 1)))
	require.NoError(t, m.Save(ctx, savedState(t, coord, ds, 4)))

	loaded, err := m.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), loaded.Emitted)

	entries, err := os.ReadDir(m.CheckpointDir())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only metadata and state remain")
}

func TestManager_SaveRejectsForeignState(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	m := checkpoint.NewManager(t.TempDir(), "0123456789abcdef", coord)

	err := m.Save(context.Background(), savedState(t, coord, squares(t, 3, 1), 0))
	require.ErrorIs(t, err, checkpoint.ErrFingerprintMismatch)
	assert.False(t, m.Exists())

	require.ErrorIs(t, m.Save(context.Background(), nil), checkpoint.ErrNilState)
}

func TestManager_LoadMissing(t *testing.T) {
	t.Parallel()

	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	m := checkpoint.NewManager(t.TempDir(), "0123456789abcdef", coord)

	_, err := m.Load(context.Background())
	require.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestManager_ValidateMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	ds := squares(t, 3, 1)
	fp := dataset.Fingerprint(ds)

	require.NoError(t, checkpoint.NewManager(dir, fp, coord).Save(ctx, savedState(t, coord, ds, 1)))

	// Metadata still names the original pipeline after the directory moves.
	moved := checkpoint.NewManager(dir, "fedcba9876543210", coord)
	require.NoError(t, os.Rename(filepath.Join(dir, fp), moved.CheckpointDir()))

	err := moved.Validate()
	require.ErrorIs(t, err, checkpoint.ErrFingerprintMismatch)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
}

func TestManager_LoadCodecMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	ds := squares(t, 3, 1)
	fp := dataset.Fingerprint(ds)

	gobCoord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewGobCodec()})
	require.NoError(t, checkpoint.NewManager(dir, fp, gobCoord).Save(ctx, savedState(t, gobCoord, ds, 2)))

	jsonCoord := checkpoint.NewCoordinator(checkpoint.Options{Codec: persist.NewJSONCodec()})

	_, err := checkpoint.NewManager(dir, fp, jsonCoord).Load(ctx)
	require.ErrorIs(t, err, checkpoint.ErrCorruptState)
}

func TestManager_Clear(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	ds := squares(t, 3, 1)
	m := checkpoint.NewManager(t.TempDir(), dataset.Fingerprint(ds), coord)

	require.NoError(t, m.Clear(), "clearing a missing checkpoint is a no-op")

	require.NoError(t, m.Save(ctx, savedState(t, coord, ds, 1)))
	require.NoError(t, m.Clear())
	assert.False(t, m.Exists())

	_, err := os.Stat(m.CheckpointDir())
	assert.True(t, os.IsNotExist(err))
}

func TestReadMetadata(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	coord := checkpoint.NewCoordinator(checkpoint.Options{})
	ds := squares(t, 3, 1)
	m := checkpoint.NewManager(t.TempDir(), dataset.Fingerprint(ds), coord)

	require.NoError(t, m.Save(ctx, savedState(t, coord, ds, 3)))

	meta, err := checkpoint.ReadMetadata(m.CheckpointDir())
	require.NoError(t, err)
	assert.Equal(t, int64(3), meta.Emitted)
	assert.Equal(t, "repeat(1) <- map(square/1[]) <- range(0,3,1)", meta.Pipeline)
}

func TestDefaultDir(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join(".pipeckpt", "checkpoints"),
		filepath.Join(filepath.Base(filepath.Dir(checkpoint.DefaultDir())), filepath.Base(checkpoint.DefaultDir())))
}
