package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStore_RoundTrip(t *testing.T) {
	key, err := ParseEncryptionKey(strings.Repeat("ab", 32))
	require.NoError(t, err)

	store, err := OpenBadger(BadgerOptions{Path: t.TempDir(), EncryptionKey: key})
	require.NoError(t, err)

	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.False(t, ok)

	active := New("tinkclaw_pro_new", "", nil, start)
	old := New("tinkclaw_pro_old", "", nil, start)
	old.SupersededBy = active.ID
	require.NoError(t, store.Save(Record{Active: active, Grace: &old}))

	got, ok, err := store.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, active.ID, got.Active.ID)
	assert.Equal(t, "tinkclaw_pro_new", got.Active.Secret)
	require.NotNil(t, got.Grace)
	assert.Equal(t, active.ID, got.Grace.SupersededBy)
	require.NoError(t, store.Close())
}

func TestBadgerStore_InMemory(t *testing.T) {
	store, err := OpenBadger(BadgerOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Save(Record{Active: New("tinkclaw_free_x", "", nil, start)}))
	_, ok, err := store.Load()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestParseEncryptionKey(t *testing.T) {
	k, err := ParseEncryptionKey("")
	assert.NoError(t, err)
	assert.Nil(t, k)

	_, err = ParseEncryptionKey("abcd")
	assert.Error(t, err)

	k, err = ParseEncryptionKey("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
	require.NoError(t, err)
	assert.Len(t, k, 32)
}
