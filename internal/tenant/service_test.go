package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/plexica/tenantd/internal/model"
	"github.com/plexica/tenantd/internal/provisioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store honoring the same visibility and CAS
// semantics as the gorm implementation.
type fakeStore struct {
	mu            sync.Mutex
	tenants       map[uuid.UUID]*model.Tenant
	droppedSchemas []string
	dropSchemaErr error
	removedRows   []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenants: map[uuid.UUID]*model.Tenant{}}
}

func (f *fakeStore) Create(_ context.Context, t *model.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.tenants {
		if existing.Slug == t.Slug && existing.Status != model.StatusDeleted {
			return ErrSlugTaken
		}
	}
	cp := *t
	f.tenants[t.ID] = &cp
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok || t.Status == model.StatusDeleted {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeStore) GetBySlug(_ context.Context, s string) (*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tenants {
		if t.Slug == s && t.Status != model.StatusDeleted {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTenantNotFound
}

func (f *fakeStore) CompareAndSwapStatus(_ context.Context, id uuid.UUID, from []model.TenantStatus, to model.TenantStatus, updates map[string]any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, s := range from {
		if t.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	t.Status = to
	for k, v := range updates {
		switch k {
		case "deletion_scheduled_at":
			if v == nil {
				t.DeletionScheduledAt = nil
			} else if at, ok := v.(time.Time); ok {
				t.DeletionScheduledAt = &at
			}
		case "last_provisioning_error":
			t.LastProvisioningError = v.(string)
		}
	}
	return true, nil
}

func (f *fakeStore) RecordProvisioningError(_ context.Context, id uuid.UUID, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tenants[id]; ok {
		t.LastProvisioningError = msg
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tenants, id)
	f.removedRows = append(f.removedRows, id)
	return nil
}

func (f *fakeStore) DropSchema(_ context.Context, schemaName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropSchemaErr != nil {
		return f.dropSchemaErr
	}
	f.droppedSchemas = append(f.droppedSchemas, schemaName)
	return nil
}

func (f *fakeStore) ListDeletionDue(_ context.Context, now time.Time) ([]model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []model.Tenant
	for _, t := range f.tenants {
		if t.Status == model.StatusPendingDeletion && t.DeletionScheduledAt != nil && !t.DeletionScheduledAt.After(now) {
			due = append(due, *t)
		}
	}
	return due, nil
}

func (f *fakeStore) get(id uuid.UUID) *model.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tenants[id]
}

// fixed provisioner results for tests that bypass the real orchestrator
type fakeProvisioner struct {
	result provisioning.Result
	runs   int
}

func (p *fakeProvisioner) Provision(_ context.Context, _ *provisioning.Context, _ []provisioning.Step) provisioning.Result {
	p.runs++
	return p.result
}

type fakeCleaners struct {
	mu          sync.Mutex
	realmCalls  []string
	bucketCalls []string
	sweepCalls  []string
	realmErr    error
	bucketErr   error
	sweepErr    error
}

func (c *fakeCleaners) DeleteRealm(_ context.Context, realm string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realmCalls = append(c.realmCalls, realm)
	return c.realmErr
}

func (c *fakeCleaners) RemoveBucket(_ context.Context, s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucketCalls = append(c.bucketCalls, s)
	return c.bucketErr
}

func (c *fakeCleaners) SweepNamespace(_ context.Context, s string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepCalls = append(c.sweepCalls, s)
	return 0, c.sweepErr
}

const grace = 720 * time.Hour

func newTestService(store *fakeStore, prov Provisioner, cleaners *fakeCleaners) *Service {
	if cleaners == nil {
		cleaners = &fakeCleaners{}
	}
	return NewService(store, prov, nil, cleaners, cleaners, cleaners, grace)
}

func seedTenant(store *fakeStore, status model.TenantStatus) *model.Tenant {
	t := &model.Tenant{
		ID:         uuid.New(),
		Slug:       "acme-corp",
		Name:       "Acme Corp",
		Status:     status,
		AdminEmail: "a@acme.test",
	}
	store.tenants[t.ID] = t
	return t
}

func TestCreateRejectsInvalidSlug(t *testing.T) {
	store := newFakeStore()
	prov := &fakeProvisioner{result: provisioning.Result{Success: true}}
	svc := newTestService(store, prov, nil)

	_, err := svc.Create(context.Background(), CreateParams{Slug: "Not A Slug", Name: "x", AdminEmail: "a@b.c"})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	// Fail fast: no row created, no provisioning attempted.
	assert.Empty(t, store.tenants)
	assert.Zero(t, prov.runs)
}

func TestCreateRejectsDuplicateSlug(t *testing.T) {
	store := newFakeStore()
	seedTenant(store, model.StatusActive)
	prov := &fakeProvisioner{result: provisioning.Result{Success: true}}
	svc := newTestService(store, prov, nil)

	_, err := svc.Create(context.Background(), CreateParams{Slug: "acme-corp", Name: "x", AdminEmail: "a@b.c"})
	assert.ErrorIs(t, err, ErrSlugTaken)
	assert.Zero(t, prov.runs)
}

func TestCreateActivatesOnSuccess(t *testing.T) {
	store := newFakeStore()
	prov := &fakeProvisioner{result: provisioning.Result{
		Success: true,
		CompletedSteps: []string{
			provisioning.StepSchema, provisioning.StepIdentityRealm,
			provisioning.StepIdentityClients, provisioning.StepIdentityRoles,
			provisioning.StepObjectStoreBucket, provisioning.StepAdminAccount,
			provisioning.StepInvitation,
		},
	}}
	svc := newTestService(store, prov, nil)

	created, err := svc.Create(context.Background(), CreateParams{
		Slug:       "acme-corp",
		Name:       "Acme Corp",
		AdminEmail: "a@acme.test",
		PluginIDs:  []string{"crm", "billing"},
	})

	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, created.Status)
	assert.Equal(t, "acme-corp", created.Slug)
	assert.Equal(t, 1, prov.runs)
	plugins, _ := created.Settings["plugin_ids"].([]string)
	assert.Equal(t, []string{"crm", "billing"}, plugins)
}

func TestCreateKeepsProvisioningStateOnFailure(t *testing.T) {
	store := newFakeStore()
	stepErr := &provisioning.StepError{Step: provisioning.StepObjectStoreBucket, Err: errors.New("bucket quota exceeded")}
	prov := &fakeProvisioner{result: provisioning.Result{
		Success: false,
		CompletedSteps: []string{
			provisioning.StepSchema, provisioning.StepIdentityRealm,
			provisioning.StepIdentityClients, provisioning.StepIdentityRoles,
		},
		Err: stepErr,
	}}
	svc := newTestService(store, prov, nil)

	_, err := svc.Create(context.Background(), CreateParams{Slug: "acme-corp", Name: "Acme", AdminEmail: "a@acme.test"})

	var sErr *provisioning.StepError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, provisioning.StepObjectStoreBucket, sErr.Step)

	// The tenant is not demoted: it stays provisioning with the error
	// recorded, retryable by an operator.
	stored, getErr := store.GetBySlug(context.Background(), "acme-corp")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusProvisioning, stored.Status)
	assert.Contains(t, stored.LastProvisioningError, "bucket quota exceeded")
}

func TestSuspendGuards(t *testing.T) {
	tests := []struct {
		name    string
		status  model.TenantStatus
		wantErr bool
	}{
		{name: "active suspends", status: model.StatusActive, wantErr: false},
		{name: "provisioning rejected", status: model.StatusProvisioning, wantErr: true},
		{name: "suspended rejected", status: model.StatusSuspended, wantErr: true},
		{name: "pending deletion rejected", status: model.StatusPendingDeletion, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			seeded := seedTenant(store, tt.status)
			svc := newTestService(store, &fakeProvisioner{}, nil)

			err := svc.Suspend(context.Background(), seeded.ID)
			if tt.wantErr {
				var trErr *StateTransitionError
				require.ErrorAs(t, err, &trErr)
				assert.Equal(t, tt.status, trErr.From)
				// Guard violations mutate nothing.
				assert.Equal(t, tt.status, store.get(seeded.ID).Status)
			} else {
				require.NoError(t, err)
				assert.Equal(t, model.StatusSuspended, store.get(seeded.ID).Status)
			}
		})
	}
}

func TestSuspendMissingTenant(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeProvisioner{}, nil)
	err := svc.Suspend(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestDeleteSchedulesThirtyDaysOut(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusActive)
	svc := newTestService(store, &fakeProvisioner{}, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	scheduled, err := svc.Delete(context.Background(), seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(30*24*time.Hour), scheduled)

	stored := store.get(seeded.ID)
	assert.Equal(t, model.StatusPendingDeletion, stored.Status)
	require.NotNil(t, stored.DeletionScheduledAt)
	assert.Equal(t, scheduled, *stored.DeletionScheduledAt)
}

func TestDeleteGuards(t *testing.T) {
	for _, status := range []model.TenantStatus{model.StatusProvisioning, model.StatusPendingDeletion} {
		t.Run(string(status), func(t *testing.T) {
			store := newFakeStore()
			seeded := seedTenant(store, status)
			svc := newTestService(store, &fakeProvisioner{}, nil)

			_, err := svc.Delete(context.Background(), seeded.ID)
			var trErr *StateTransitionError
			require.ErrorAs(t, err, &trErr)
		})
	}
}

func TestActivateFromPendingDeletion(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusPendingDeletion)
	at := time.Now().Add(15 * 24 * time.Hour)
	store.get(seeded.ID).DeletionScheduledAt = &at
	svc := newTestService(store, &fakeProvisioner{}, nil)

	require.NoError(t, svc.Activate(context.Background(), seeded.ID))

	stored := store.get(seeded.ID)
	// Reactivation lands in suspended, not straight back to active.
	assert.Equal(t, model.StatusSuspended, stored.Status)
	assert.Nil(t, stored.DeletionScheduledAt, "scheduled deletion is cleared")
}

func TestActivateFromSuspended(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusSuspended)
	svc := newTestService(store, &fakeProvisioner{}, nil)

	require.NoError(t, svc.Activate(context.Background(), seeded.ID))
	assert.Equal(t, model.StatusActive, store.get(seeded.ID).Status)
}

func TestActivateFromActiveRejected(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusActive)
	svc := newTestService(store, &fakeProvisioner{}, nil)

	var trErr *StateTransitionError
	require.ErrorAs(t, svc.Activate(context.Background(), seeded.ID), &trErr)
}

func TestHardDeleteOrderAndBestEffort(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusPendingDeletion)
	cleaners := &fakeCleaners{bucketErr: errors.New("object store down")}
	svc := newTestService(store, &fakeProvisioner{}, cleaners)

	require.NoError(t, svc.HardDelete(context.Background(), seeded.ID))

	// Best-effort failures do not stop the authoritative cleanup.
	assert.Equal(t, []string{"acme-corp"}, cleaners.realmCalls)
	assert.Equal(t, []string{"acme-corp"}, cleaners.bucketCalls)
	assert.Equal(t, []string{"acme-corp"}, cleaners.sweepCalls)
	assert.Equal(t, []string{"tenant_acme_corp"}, store.droppedSchemas)
	assert.Equal(t, []uuid.UUID{seeded.ID}, store.removedRows)

	_, err := svc.GetByID(context.Background(), seeded.ID)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestHardDeleteAbortsOnSchemaDropFailure(t *testing.T) {
	store := newFakeStore()
	seeded := seedTenant(store, model.StatusPendingDeletion)
	store.dropSchemaErr = errors.New("schema locked")
	svc := newTestService(store, &fakeProvisioner{}, nil)

	err := svc.HardDelete(context.Background(), seeded.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema locked")

	// The record survives as the retryable source of truth.
	assert.NotNil(t, store.get(seeded.ID))
	assert.Empty(t, store.removedRows)
}

func TestHardDeleteMissingTenant(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeProvisioner{}, nil)
	err := svc.HardDelete(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestReapExpired(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeProvisioner{}, nil)

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	overdue := seedTenant(store, model.StatusPendingDeletion)
	past := now.Add(-time.Hour)
	store.get(overdue.ID).DeletionScheduledAt = &past

	fresh := &model.Tenant{ID: uuid.New(), Slug: "fresh-corp", Status: model.StatusPendingDeletion}
	future := now.Add(time.Hour)
	fresh.DeletionScheduledAt = &future
	store.tenants[fresh.ID] = fresh

	reaped, err := svc.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	assert.Nil(t, store.get(overdue.ID), "overdue tenant is gone")
	assert.NotNil(t, store.get(fresh.ID), "tenant inside the grace window survives")
}

func TestGetSchemaName(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeProvisioner{}, nil)

	name, err := svc.GetSchemaName("acme-corp")
	require.NoError(t, err)
	assert.Equal(t, "tenant_acme_corp", name)

	_, err = svc.GetSchemaName("Not Valid")
	var vErr *ValidationError
	assert.ErrorAs(t, err, &vErr)
}

// End-to-end shape: the real orchestrator with a failing bucket step leaves
// the tenant provisioning with four completed steps compensated.
func TestCreateWithRealOrchestrator(t *testing.T) {
	store := newFakeStore()

	var journal []string
	mkStep := func(name string, fail bool) provisioning.Step {
		return &journalStep{name: name, journal: &journal, fail: fail}
	}
	steps := []provisioning.Step{
		mkStep(provisioning.StepSchema, false),
		mkStep(provisioning.StepIdentityRealm, false),
		mkStep(provisioning.StepIdentityClients, false),
		mkStep(provisioning.StepIdentityRoles, false),
		mkStep(provisioning.StepObjectStoreBucket, true),
		mkStep(provisioning.StepAdminAccount, false),
		mkStep(provisioning.StepInvitation, false),
	}

	svc := NewService(store, provisioning.NewOrchestrator(), steps, &fakeCleaners{}, &fakeCleaners{}, &fakeCleaners{}, grace)

	_, err := svc.Create(context.Background(), CreateParams{
		Slug: "acme-corp", Name: "Acme Corp", AdminEmail: "a@acme.test",
	})

	var sErr *provisioning.StepError
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, provisioning.StepObjectStoreBucket, sErr.Step)

	stored, getErr := store.GetBySlug(context.Background(), "acme-corp")
	require.NoError(t, getErr)
	assert.Equal(t, model.StatusProvisioning, stored.Status)

	assert.Equal(t, []string{
		"exec:" + provisioning.StepSchema,
		"exec:" + provisioning.StepIdentityRealm,
		"exec:" + provisioning.StepIdentityClients,
		"exec:" + provisioning.StepIdentityRoles,
		"exec:" + provisioning.StepObjectStoreBucket,
		"rollback:" + provisioning.StepIdentityRoles,
		"rollback:" + provisioning.StepIdentityClients,
		"rollback:" + provisioning.StepIdentityRealm,
		"rollback:" + provisioning.StepSchema,
	}, journal)
}

type journalStep struct {
	name    string
	journal *[]string
	fail    bool
}

func (s *journalStep) Name() string { return s.name }

func (s *journalStep) Execute(context.Context, *provisioning.Context) error {
	*s.journal = append(*s.journal, "exec:"+s.name)
	if s.fail {
		return errors.New("bucket unavailable")
	}
	return nil
}

func (s *journalStep) Rollback(context.Context, *provisioning.Context) error {
	*s.journal = append(*s.journal, "rollback:"+s.name)
	return nil
}
