package tenantctx

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithAndFrom(t *testing.T) {
	ctx := context.Background()

	_, ok := From(ctx)
	assert.False(t, ok, "empty context should carry no tenant")

	tc := TenantContext{
		TenantID:   uuid.New(),
		TenantSlug: "acme-corp",
		SchemaName: "tenant_acme_corp",
	}
	ctx = With(ctx, tc)

	got, ok := From(ctx)
	require.True(t, ok)
	assert.Equal(t, tc, got)
}

func TestDescendantVisibility(t *testing.T) {
	tc := TenantContext{TenantID: uuid.New(), TenantSlug: "acme", SchemaName: "tenant_acme"}
	ctx := With(context.Background(), tc)

	// A derived context still sees the tenant.
	child, cancel := context.WithCancel(ctx)
	defer cancel()
	got, ok := From(child)
	require.True(t, ok)
	assert.Equal(t, "acme", got.TenantSlug)
}

func TestSiblingIsolation(t *testing.T) {
	base := context.Background()

	var wg sync.WaitGroup
	results := make([]string, 2)
	slugs := []string{"tenant-a", "tenant-b"}

	for i, s := range slugs {
		wg.Add(1)
		go func(i int, s string) {
			defer wg.Done()
			ctx := With(base, TenantContext{TenantSlug: s})
			got, _ := From(ctx)
			results[i] = got.TenantSlug
		}(i, s)
	}
	wg.Wait()

	assert.Equal(t, "tenant-a", results[0])
	assert.Equal(t, "tenant-b", results[1])

	// The shared parent is untouched.
	_, ok := From(base)
	assert.False(t, ok)
}

func TestOverrideDoesNotMutateAmbient(t *testing.T) {
	ambient := With(context.Background(), TenantContext{TenantSlug: "acme"})

	// An explicit override produces a new context; the ambient one is unchanged.
	override := With(ambient, TenantContext{TenantSlug: "other"})

	got, _ := From(override)
	assert.Equal(t, "other", got.TenantSlug)

	got, _ = From(ambient)
	assert.Equal(t, "acme", got.TenantSlug)
}
