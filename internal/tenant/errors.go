package tenant

import (
	"errors"
	"fmt"

	"github.com/plexica/tenantd/internal/model"
)

// ErrTenantNotFound is returned when no visible tenant matches a lookup.
// Deleted tenants are invisible to all lookups.
var ErrTenantNotFound = errors.New("tenant not found")

// ErrSlugTaken is returned when a create collides with an existing slug.
var ErrSlugTaken = errors.New("tenant slug already in use")

// ValidationError wraps a slug or schema validation failure. It is raised
// before any side effect.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// StateTransitionError reports a lifecycle guard violation. Nothing was
// mutated; these are caller bugs, not retryable conditions.
type StateTransitionError struct {
	From model.TenantStatus
	To   model.TenantStatus
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("invalid tenant state transition %s -> %s", e.From, e.To)
}
