// Package provisioning runs the fixed multi-system pipeline that sets up a
// new tenant, with compensating reverse-order rollback when a step fails.
//
// The pipeline is exactly: schema, identity realm, identity clients, identity
// roles, object store bucket, admin account, invitation. It is not a general
// workflow engine; the order is part of the contract because later steps
// depend on the side effects of earlier ones.
package provisioning

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Canonical step names, in pipeline order.
const (
	StepSchema            = "Schema"
	StepIdentityRealm     = "IdentityRealm"
	StepIdentityClients   = "IdentityClients"
	StepIdentityRoles     = "IdentityRoles"
	StepObjectStoreBucket = "ObjectStoreBucket"
	StepAdminAccount      = "AdminAccount"
	StepInvitation        = "Invitation"
)

// Context carries the inputs of one provisioning run. It is created once per
// run and read-only to steps; no step ever reads another step's output.
type Context struct {
	TenantID   uuid.UUID
	TenantSlug string
	TenantName string
	AdminEmail string
	PluginIDs  []string
}

// Step is one unit of the provisioning pipeline. Execute must be idempotent:
// re-running a step that already succeeded detects the existing state and
// skips, never duplicates. Rollback is best-effort compensation.
type Step interface {
	Name() string
	Execute(ctx context.Context, pctx *Context) error
	Rollback(ctx context.Context, pctx *Context) error
}

// StepError reports the first failing step of a run.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
