package provisioning

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStep records execute/rollback ordering into a shared journal and
// fails or panics on demand. ensureCount models an ensure-style step: repeated
// executes detect existing state and leave the count at one.
type scriptedStep struct {
	name        string
	journal     *[]string
	execErr     error
	rollbackErr error
	panics      bool

	ensureCount int
}

func (s *scriptedStep) Name() string { return s.name }

func (s *scriptedStep) Execute(_ context.Context, _ *Context) error {
	*s.journal = append(*s.journal, "exec:"+s.name)
	if s.panics {
		panic("step exploded")
	}
	if s.execErr != nil {
		return s.execErr
	}
	if s.ensureCount == 0 {
		s.ensureCount = 1
	}
	return nil
}

func (s *scriptedStep) Rollback(_ context.Context, _ *Context) error {
	*s.journal = append(*s.journal, "rollback:"+s.name)
	if s.rollbackErr != nil {
		return s.rollbackErr
	}
	return nil
}

func pipeline(journal *[]string, names ...string) []Step {
	steps := make([]Step, len(names))
	for i, n := range names {
		steps[i] = &scriptedStep{name: n, journal: journal}
	}
	return steps
}

func testContext() *Context {
	return &Context{
		TenantID:   uuid.New(),
		TenantSlug: "acme-corp",
		TenantName: "Acme Corp",
		AdminEmail: "a@acme.test",
	}
}

func TestProvisionAllStepsSucceed(t *testing.T) {
	var journal []string
	steps := pipeline(&journal,
		StepSchema, StepIdentityRealm, StepIdentityClients, StepIdentityRoles,
		StepObjectStoreBucket, StepAdminAccount, StepInvitation)

	result := NewOrchestrator().Provision(context.Background(), testContext(), steps)

	require.True(t, result.Success)
	require.NoError(t, result.Err)
	assert.Equal(t, []string{
		StepSchema, StepIdentityRealm, StepIdentityClients, StepIdentityRoles,
		StepObjectStoreBucket, StepAdminAccount, StepInvitation,
	}, result.CompletedSteps)
	// No rollbacks on the happy path.
	for _, entry := range journal {
		assert.NotContains(t, entry, "rollback")
	}
}

func TestProvisionFailureRollsBackInReverse(t *testing.T) {
	var journal []string
	bucketErr := errors.New("bucket quota exceeded")

	steps := pipeline(&journal, StepSchema, StepIdentityRealm, StepIdentityClients, StepIdentityRoles)
	steps = append(steps,
		&scriptedStep{name: StepObjectStoreBucket, journal: &journal, execErr: bucketErr},
		&scriptedStep{name: StepAdminAccount, journal: &journal},
		&scriptedStep{name: StepInvitation, journal: &journal},
	)

	result := NewOrchestrator().Provision(context.Background(), testContext(), steps)

	require.False(t, result.Success)
	assert.Equal(t, []string{
		StepSchema, StepIdentityRealm, StepIdentityClients, StepIdentityRoles,
	}, result.CompletedSteps)

	var stepErr *StepError
	require.ErrorAs(t, result.Err, &stepErr)
	assert.Equal(t, StepObjectStoreBucket, stepErr.Step)
	assert.ErrorIs(t, result.Err, bucketErr)

	// Execution stops at the failing step; compensation runs strictly
	// innermost-first and never touches the failed or later steps.
	assert.Equal(t, []string{
		"exec:" + StepSchema,
		"exec:" + StepIdentityRealm,
		"exec:" + StepIdentityClients,
		"exec:" + StepIdentityRoles,
		"exec:" + StepObjectStoreBucket,
		"rollback:" + StepIdentityRoles,
		"rollback:" + StepIdentityClients,
		"rollback:" + StepIdentityRealm,
		"rollback:" + StepSchema,
	}, journal)
}

func TestProvisionFirstStepFailureRollsBackNothing(t *testing.T) {
	var journal []string
	steps := []Step{
		&scriptedStep{name: StepSchema, journal: &journal, execErr: errors.New("no database")},
		&scriptedStep{name: StepIdentityRealm, journal: &journal},
	}

	result := NewOrchestrator().Provision(context.Background(), testContext(), steps)

	require.False(t, result.Success)
	assert.Empty(t, result.CompletedSteps)
	assert.Equal(t, []string{"exec:" + StepSchema}, journal)
}

func TestProvisionSwallowsRollbackErrors(t *testing.T) {
	var journal []string
	steps := []Step{
		&scriptedStep{name: StepSchema, journal: &journal, rollbackErr: errors.New("drop refused")},
		&scriptedStep{name: StepIdentityRealm, journal: &journal, rollbackErr: errors.New("realm gone")},
		&scriptedStep{name: StepIdentityClients, journal: &journal, execErr: errors.New("directory down")},
	}

	result := NewOrchestrator().Provision(context.Background(), testContext(), steps)

	// The surfaced error is the failing step's, never a rollback error.
	require.False(t, result.Success)
	var stepErr *StepError
	require.ErrorAs(t, result.Err, &stepErr)
	assert.Equal(t, StepIdentityClients, stepErr.Step)

	// Both rollbacks still ran despite both failing.
	assert.Equal(t, []string{
		"exec:" + StepSchema,
		"exec:" + StepIdentityRealm,
		"exec:" + StepIdentityClients,
		"rollback:" + StepIdentityRealm,
		"rollback:" + StepSchema,
	}, journal)
}

func TestProvisionContainsPanickingStep(t *testing.T) {
	var journal []string
	steps := []Step{
		&scriptedStep{name: StepSchema, journal: &journal},
		&scriptedStep{name: StepIdentityRealm, journal: &journal, panics: true},
	}

	result := NewOrchestrator().Provision(context.Background(), testContext(), steps)

	require.False(t, result.Success)
	var stepErr *StepError
	require.ErrorAs(t, result.Err, &stepErr)
	assert.Equal(t, StepIdentityRealm, stepErr.Step)
	assert.Equal(t, []string{StepSchema}, result.CompletedSteps)
	assert.Contains(t, journal, "rollback:"+StepSchema)
}

func TestProvisionRerunAfterSuccessIsNoOp(t *testing.T) {
	var journal []string
	ensure := []*scriptedStep{
		{name: StepIdentityClients, journal: &journal},
		{name: StepIdentityRoles, journal: &journal},
	}
	steps := []Step{ensure[0], ensure[1]}

	o := NewOrchestrator()
	pctx := testContext()

	first := o.Provision(context.Background(), pctx, steps)
	require.True(t, first.Success)
	second := o.Provision(context.Background(), pctx, steps)
	require.True(t, second.Success)

	// Ensure-style steps detect existing state: counts unchanged.
	for _, s := range ensure {
		assert.Equal(t, 1, s.ensureCount)
	}
}
