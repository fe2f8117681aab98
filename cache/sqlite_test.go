package cache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteCache(t *testing.T) (*SerializerCache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "celox.db")
	c, err := New(Config{Backend: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestSQLiteCache_SetGet(t *testing.T) {
	c, _ := newSQLiteCache(t)
	ctx := context.Background()
	key := Key("User", "email")

	require.NoError(t, c.Set(ctx, key, testEntry(t, "User", []string{"email"})))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got.Program)

	result := got.Program.Run(&cachedUser{Email: "a@b.c"})
	assert.Equal(t, map[string]any{"email": "a@b.c"}, result)
}

func TestSQLiteCache_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "celox.db")

	first, err := New(Config{Backend: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	key := Key("User", "email")
	require.NoError(t, first.Set(ctx, key, testEntry(t, "User", []string{"email"})))
	require.NoError(t, first.Close())

	second, err := New(Config{Backend: "sqlite", SQLitePath: path})
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Get(ctx, key)
	require.NoError(t, err)
	assert.NotNil(t, got.Program)
}

func TestSQLiteCache_OverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteCache(t)
	key := Key("User", "email")
	entry := testEntry(t, "User", []string{"email"})

	require.NoError(t, c.Set(ctx, key, entry))
	require.NoError(t, c.Set(ctx, key, entry))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PersistentEntries)
}

func TestSQLiteCache_Clear(t *testing.T) {
	ctx := context.Background()
	c, _ := newSQLiteCache(t)
	require.NoError(t, c.Set(ctx, Key("a"), testEntry(t, "User", []string{"email"})))

	require.NoError(t, c.Clear(ctx))

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PersistentEntries)
}

func TestSQLiteCache_EmptyPathFatal(t *testing.T) {
	_, err := New(Config{Backend: "sqlite"})
	assert.Error(t, err)
}
