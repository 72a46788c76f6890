package resolvercache

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache.db")
	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestCacheGetMiss(t *testing.T) {
	c := newTestCache(t)

	_, ok, err := c.Get(context.Background(), "cust-1", "DESKTOP-ABC123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePutThenGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	rh := ResolvedHost{
		CustomerID: "cust-1",
		Hostname:   "DESKTOP-ABC123",
		AgentID:    "agent-0001",
		Platform:   "Windows",
	}
	require.NoError(t, c.Put(ctx, rh))

	got, ok, err := c.Get(ctx, "cust-1", "DESKTOP-ABC123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rh, got)
}

func TestCachePutOverwritesExisting(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, ResolvedHost{
		CustomerID: "cust-1", Hostname: "host-a", AgentID: "agent-old", Platform: "Linux",
	}))
	require.NoError(t, c.Put(ctx, ResolvedHost{
		CustomerID: "cust-1", Hostname: "host-a", AgentID: "agent-new", Platform: "Linux",
	}))

	got, ok, err := c.Get(ctx, "cust-1", "host-a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-new", got.AgentID)
}

func TestCacheScopesByCustomerID(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, ResolvedHost{
		CustomerID: "cust-1", Hostname: "shared-name", AgentID: "agent-1", Platform: "Windows",
	}))
	require.NoError(t, c.Put(ctx, ResolvedHost{
		CustomerID: "cust-2", Hostname: "shared-name", AgentID: "agent-2", Platform: "Windows",
	}))

	got1, ok, err := c.Get(ctx, "cust-1", "shared-name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-1", got1.AgentID)

	got2, ok, err := c.Get(ctx, "cust-2", "shared-name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "agent-2", got2.AgentID)
}

func TestCacheClose(t *testing.T) {
	c := newTestCache(t)
	require.NoError(t, c.Close())

	_, _, err := c.Get(context.Background(), "cust-1", "host-a")
	assert.Error(t, err)
}
