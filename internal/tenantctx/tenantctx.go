// Package tenantctx carries the per-request tenant identity on a
// context.Context. Every request or consumed event derives its own context, so
// tenant identity set for one call chain is visible to that chain and its
// descendants only, never to concurrently running siblings.
package tenantctx

import (
	"context"

	"github.com/google/uuid"
)

// TenantContext identifies the tenant a call chain is operating on behalf of.
// Values are immutable once stored; derive a new one instead of mutating.
type TenantContext struct {
	TenantID    uuid.UUID
	TenantSlug  string
	SchemaName  string
	WorkspaceID *uuid.UUID
	UserID      *uuid.UUID
}

type contextKey struct{}

// With returns a child context carrying the given tenant context.
func With(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// From returns the tenant context carried by ctx, if any.
func From(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	return tc, ok
}
