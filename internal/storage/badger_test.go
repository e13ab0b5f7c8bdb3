package storage_test

import (
	"testing"

	"github.com/Tyrowin/roomcast/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBadger(t *testing.T) *storage.Badger {
	t.Helper()
	b, err := storage.OpenBadger(storage.BadgerOptions{InMemory: true, Name: "retained"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadger_ReadMissing(t *testing.T) {
	b := setupBadger(t)

	_, err := b.Read(ctx)
	assert.ErrorIs(t, err, storage.ErrNotExist)
}

func TestBadger_WriteReadDelete(t *testing.T) {
	b := setupBadger(t)

	require.NoError(t, b.Write(ctx, []byte("snapshot-1")))
	require.NoError(t, b.Write(ctx, []byte("snapshot-2")))

	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("snapshot-2"), got)

	require.NoError(t, b.Delete(ctx))
	_, err = b.Read(ctx)
	assert.ErrorIs(t, err, storage.ErrNotExist)

	require.NoError(t, b.Delete(ctx))
}

func TestBadger_ArchiveKeepsLiveKey(t *testing.T) {
	b := setupBadger(t)

	require.NoError(t, b.Write(ctx, []byte("live")))
	require.NoError(t, b.Archive(ctx, []byte("broken")))

	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("live"), got)
}

func TestOpenBadger_RequiresDir(t *testing.T) {
	_, err := storage.OpenBadger(storage.BadgerOptions{Name: "retained"})
	assert.Error(t, err)

	_, err = storage.OpenBadger(storage.BadgerOptions{InMemory: true})
	assert.Error(t, err)
}

func TestOpenBadger_OnDiskSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	b, err := storage.OpenBadger(storage.BadgerOptions{Dir: dir, Name: "retained"})
	require.NoError(t, err)
	require.NoError(t, b.Write(ctx, []byte("durable")))
	require.NoError(t, b.Close())

	b, err = storage.OpenBadger(storage.BadgerOptions{Dir: dir, Name: "retained"})
	require.NoError(t, err)
	defer b.Close()

	got, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), got)
}
