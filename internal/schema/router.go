// Package schema scopes database access to a single tenant schema per call.
//
// Every call pairs exactly one "switch" directive with exactly one "reset"
// directive on one pinned connection. There is no process-wide serialization:
// concurrent tenant-schema operations interleave safely because each call owns
// its connection for the duration of the directive pair.
package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/internal/tenantctx"
	"github.com/plexica/tenantd/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrNoTenantContext is returned when no tenant context is carried by the
// call chain and none was supplied explicitly.
var ErrNoTenantContext = errors.New("no tenant context in call chain")

// Conn executes a single session-scoped SQL directive. It exists so the
// switch/reset pairing can be exercised without a live database.
type Conn interface {
	Exec(ctx context.Context, sql string) error
}

// Router redirects database access to the active tenant's private schema.
type Router struct {
	db *gorm.DB
}

// NewRouter creates a schema router over the given database handle.
func NewRouter(db *gorm.DB) *Router {
	return &Router{db: db}
}

// WithTenantSchema runs op against the schema of the ambient tenant context.
// It fails with ErrNoTenantContext when the call chain carries no tenant.
func (r *Router) WithTenantSchema(ctx context.Context, op func(tx *gorm.DB) error) error {
	tc, ok := tenantctx.From(ctx)
	if !ok {
		return ErrNoTenantContext
	}
	return r.WithTenantSchemaAs(ctx, tc, op)
}

// WithTenantSchemaAs runs op against the schema of an explicitly supplied
// tenant context, overriding the ambient one for this call only. The ambient
// context is not touched; callers targeting another tenant (super-admin
// tooling) pass the target context here.
func (r *Router) WithTenantSchemaAs(ctx context.Context, tc tenantctx.TenantContext, op func(tx *gorm.DB) error) error {
	// Fail fast before a connection is checked out of the pool.
	if err := slug.ValidateSchemaName(tc.SchemaName); err != nil {
		return err
	}

	// Connection pins a single pooled connection so the search_path change
	// cannot leak onto a connection another call is using.
	return r.db.WithContext(ctx).Connection(func(tx *gorm.DB) error {
		return runScoped(ctx, gormConn{tx: tx}, tc.SchemaName, func() error {
			return op(tx)
		})
	})
}

// runScoped validates the schema name, then brackets op between the switch and
// reset directives. Validation failure issues zero directives. The reset is
// deferred so it runs even when op fails or panics.
func runScoped(ctx context.Context, conn Conn, schemaName string, op func() error) error {
	if err := slug.ValidateSchemaName(schemaName); err != nil {
		return err
	}

	if err := conn.Exec(ctx, switchDirective(schemaName)); err != nil {
		return fmt.Errorf("switch schema: %w", err)
	}
	defer func() {
		if err := conn.Exec(ctx, resetDirective); err != nil {
			logger.FromContext(ctx).Error("failed to reset search_path",
				zap.String("schema", schemaName),
				zap.Error(err))
		}
	}()

	return op()
}

const resetDirective = `SET search_path TO public`

// switchDirective builds the session directive pointing search_path at the
// tenant schema. The name has already passed the closed character class; it is
// still quoted as an identifier.
func switchDirective(schemaName string) string {
	return fmt.Sprintf(`SET search_path TO %q, public`, schemaName)
}

type gormConn struct {
	tx *gorm.DB
}

func (c gormConn) Exec(ctx context.Context, sql string) error {
	return c.tx.WithContext(ctx).Exec(sql).Error
}
