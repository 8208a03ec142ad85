package cache

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewWithClient(client), mr
}

func TestSweepNamespace(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	// Keys for the target tenant, plus a neighbor that must survive.
	for i := 0; i < 1200; i++ {
		require.NoError(t, mr.Set(fmt.Sprintf("tenant:acme-corp:item:%d", i), "v"))
	}
	require.NoError(t, mr.Set("tenant:other-corp:item:1", "v"))
	require.NoError(t, mr.Set("global:setting", "v"))

	deleted, err := c.SweepNamespace(ctx, "acme-corp")
	require.NoError(t, err)
	assert.Equal(t, 1200, deleted)

	assert.False(t, mr.Exists("tenant:acme-corp:item:0"))
	assert.True(t, mr.Exists("tenant:other-corp:item:1"), "other tenants' keys survive")
	assert.True(t, mr.Exists("global:setting"), "non-tenant keys survive")
}

func TestSweepNamespaceEmpty(t *testing.T) {
	c, _ := setupTestCache(t)

	deleted, err := c.SweepNamespace(context.Background(), "acme-corp")
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestNamespacePattern(t *testing.T) {
	assert.Equal(t, "tenant:acme-corp:*", NamespacePattern("acme-corp"))
}
