package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/internal/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingConn records every directive it is asked to execute and can fail a
// chosen directive.
type recordingConn struct {
	directives []string
	failOn     string
}

func (c *recordingConn) Exec(_ context.Context, sql string) error {
	if c.failOn != "" && sql == c.failOn {
		return errors.New("directive failed")
	}
	c.directives = append(c.directives, sql)
	return nil
}

func TestRunScopedDirectiveOrdering(t *testing.T) {
	conn := &recordingConn{}
	var opRan bool

	err := runScoped(context.Background(), conn, "tenant_acme_corp", func() error {
		// Switch directive is already issued when op starts.
		require.Len(t, conn.directives, 1)
		opRan = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, opRan)
	require.Len(t, conn.directives, 2)
	assert.Equal(t, `SET search_path TO "tenant_acme_corp", public`, conn.directives[0])
	assert.Equal(t, `SET search_path TO public`, conn.directives[1])
}

func TestRunScopedResetsOnOpError(t *testing.T) {
	conn := &recordingConn{}

	opErr := errors.New("op blew up")
	err := runScoped(context.Background(), conn, "tenant_acme", func() error {
		return opErr
	})

	assert.ErrorIs(t, err, opErr)
	// Reset is still issued: exactly two directives.
	require.Len(t, conn.directives, 2)
	assert.Equal(t, resetDirective, conn.directives[1])
}

func TestRunScopedResetsOnPanic(t *testing.T) {
	conn := &recordingConn{}

	assert.Panics(t, func() {
		_ = runScoped(context.Background(), conn, "tenant_acme", func() error {
			panic("op panicked")
		})
	})

	require.Len(t, conn.directives, 2)
	assert.Equal(t, resetDirective, conn.directives[1])
}

func TestRunScopedRejectsMaliciousSchemaNames(t *testing.T) {
	malicious := []string{
		"",
		"tenant_x; DROP TABLE users",
		`tenant_"x"`,
		"tenant x",
		"TENANT_ACME",
		"tenant-acme",
		`tenant_x'--`,
	}

	for _, name := range malicious {
		t.Run(name, func(t *testing.T) {
			conn := &recordingConn{}
			err := runScoped(context.Background(), conn, name, func() error {
				t.Fatal("op must not run for an invalid schema name")
				return nil
			})

			var invalid *slug.InvalidSchemaNameError
			require.ErrorAs(t, err, &invalid)
			// Fail fast: zero directives issued.
			assert.Empty(t, conn.directives)
		})
	}
}

func TestWithTenantSchemaRequiresContext(t *testing.T) {
	r := NewRouter(nil)

	err := r.WithTenantSchema(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTenantContext)
}

func TestWithTenantSchemaAsValidatesBeforePool(t *testing.T) {
	// A nil handle proves validation happens before any pool access.
	r := NewRouter(nil)

	err := r.WithTenantSchemaAs(context.Background(), tenantctx.TenantContext{SchemaName: "bad name"}, nil)
	var invalid *slug.InvalidSchemaNameError
	assert.ErrorAs(t, err, &invalid)
}

func TestRunScopedSwitchFailureSkipsOp(t *testing.T) {
	conn := &recordingConn{failOn: `SET search_path TO "tenant_acme", public`}

	err := runScoped(context.Background(), conn, "tenant_acme", func() error {
		t.Fatal("op must not run when the switch directive fails")
		return nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch schema")
}
