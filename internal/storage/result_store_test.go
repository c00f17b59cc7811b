package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutGetRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"screenshot":"iVBORw0KGgo="}`)
	require.NoError(t, store.Put(ctx, "cmd-1", payload))

	got, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "cmd-1", []byte("first")))
	require.NoError(t, store.Put(ctx, "cmd-1", []byte("second")))

	got, err := store.Get(ctx, "cmd-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}
