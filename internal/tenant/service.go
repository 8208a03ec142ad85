// Package tenant owns the tenant lifecycle: creation with orchestrated
// provisioning, guarded state transitions, and ordered hard deletion.
package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/plexica/tenantd/internal/model"
	"github.com/plexica/tenantd/internal/provisioning"
	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/pkg/logger"
	"github.com/plexica/tenantd/prometheus"
	"go.uber.org/zap"
)

// Provisioner runs a provisioning pipeline. Satisfied by
// provisioning.Orchestrator.
type Provisioner interface {
	Provision(ctx context.Context, pctx *provisioning.Context, steps []provisioning.Step) provisioning.Result
}

// RealmDeleter removes a tenant's identity realm during hard delete.
type RealmDeleter interface {
	DeleteRealm(ctx context.Context, realm string) error
}

// BucketRemover removes a tenant's object store bucket during hard delete.
type BucketRemover interface {
	RemoveBucket(ctx context.Context, s string) error
}

// NamespaceSweeper clears a tenant's cache namespace during hard delete.
type NamespaceSweeper interface {
	SweepNamespace(ctx context.Context, s string) (int, error)
}

// Service exposes the tenant control plane operations.
type Service struct {
	store       Store
	provisioner Provisioner
	steps       []provisioning.Step
	realms      RealmDeleter
	buckets     BucketRemover
	sweeper     NamespaceSweeper
	gracePeriod time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewService wires the tenant service.
func NewService(store Store, prov Provisioner, steps []provisioning.Step, realms RealmDeleter, buckets BucketRemover, sweeper NamespaceSweeper, gracePeriod time.Duration) *Service {
	return &Service{
		store:       store,
		provisioner: prov,
		steps:       steps,
		realms:      realms,
		buckets:     buckets,
		sweeper:     sweeper,
		gracePeriod: gracePeriod,
		now:         time.Now,
	}
}

// CreateParams are the inputs to Create.
type CreateParams struct {
	Slug       string
	Name       string
	AdminEmail string
	Settings   model.JSONMap
	Theme      model.JSONMap
	PluginIDs  []string
}

// Create validates the slug, inserts the tenant in the provisioning state and
// runs the full provisioning pipeline. On success the tenant becomes active.
// On failure the tenant stays in provisioning with the error recorded for
// operator visibility; a later retry re-runs the idempotent pipeline.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.Tenant, error) {
	log := logger.FromContext(ctx).With(zap.String("tenant_slug", params.Slug))

	if err := slug.Validate(params.Slug); err != nil {
		return nil, &ValidationError{Err: err}
	}

	settings := params.Settings
	if settings == nil {
		settings = model.JSONMap{}
	}
	if len(params.PluginIDs) > 0 {
		settings["plugin_ids"] = params.PluginIDs
	}
	theme := params.Theme
	if theme == nil {
		theme = model.JSONMap{}
	}

	t := &model.Tenant{
		ID:         uuid.New(),
		Slug:       params.Slug,
		Name:       params.Name,
		Status:     model.StatusProvisioning,
		AdminEmail: params.AdminEmail,
		Settings:   settings,
		Theme:      theme,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	pctx := &provisioning.Context{
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		TenantName: t.Name,
		AdminEmail: t.AdminEmail,
		PluginIDs:  params.PluginIDs,
	}
	result := s.provisioner.Provision(ctx, pctx, s.steps)
	if !result.Success {
		log.Error("tenant provisioning failed, tenant remains in provisioning state",
			zap.Strings("completed_steps", result.CompletedSteps),
			zap.Error(result.Err))
		if recErr := s.store.RecordProvisioningError(ctx, t.ID, result.Err.Error()); recErr != nil {
			log.Error("failed to record provisioning error", zap.Error(recErr))
		}
		return nil, result.Err
	}

	swapped, err := s.store.CompareAndSwapStatus(ctx, t.ID,
		[]model.TenantStatus{model.StatusProvisioning}, model.StatusActive,
		map[string]any{"last_provisioning_error": ""})
	if err != nil {
		return nil, err
	}
	if swapped {
		prometheus.RecordTenantTransition(string(model.StatusProvisioning), string(model.StatusActive))
	}

	log.Info("tenant provisioned", zap.String("tenant_id", t.ID.String()))
	return s.store.GetByID(ctx, t.ID)
}

// Suspend moves an active tenant to suspended.
func (s *Service) Suspend(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, id,
		[]model.TenantStatus{model.StatusActive}, model.StatusSuspended, nil)
}

// Activate reactivates a tenant: suspended tenants become active again, and
// tenants pending deletion inside the grace window return to suspended with
// the scheduled deletion cleared.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	// Reactivation from the deletion queue first; CAS keeps both attempts
	// race-safe.
	swapped, err := s.store.CompareAndSwapStatus(ctx, id,
		[]model.TenantStatus{model.StatusPendingDeletion}, model.StatusSuspended,
		map[string]any{"deletion_scheduled_at": nil})
	if err != nil {
		return err
	}
	if swapped {
		prometheus.RecordTenantTransition(string(model.StatusPendingDeletion), string(model.StatusSuspended))
		return nil
	}

	return s.transition(ctx, id,
		[]model.TenantStatus{model.StatusSuspended}, model.StatusActive, nil)
}

// Delete schedules the tenant for hard deletion after the grace period and
// returns the scheduled time.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (time.Time, error) {
	scheduled := s.now().Add(s.gracePeriod)

	err := s.transition(ctx, id,
		[]model.TenantStatus{model.StatusActive, model.StatusSuspended},
		model.StatusPendingDeletion,
		map[string]any{"deletion_scheduled_at": scheduled})
	if err != nil {
		return time.Time{}, err
	}
	return scheduled, nil
}

// transition CASes the status and translates a failed swap into either
// not-found or a guard violation.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from []model.TenantStatus, to model.TenantStatus, updates map[string]any) error {
	swapped, err := s.store.CompareAndSwapStatus(ctx, id, from, to, updates)
	if err != nil {
		return err
	}
	if swapped {
		if len(from) == 1 {
			prometheus.RecordTenantTransition(string(from[0]), string(to))
		} else {
			prometheus.RecordTenantTransition("any", string(to))
		}
		return nil
	}

	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &StateTransitionError{From: current.Status, To: to}
}

// HardDelete removes every trace of the tenant. External resources go first,
// hardest to reclaim leading: realm, bucket and cache failures are logged and
// skipped, but the schema drop and record delete are authoritative and abort
// on failure so a crash mid-cleanup leaves a retryable source of truth.
func (s *Service) HardDelete(ctx context.Context, id uuid.UUID) error {
	t, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx).With(
		zap.String("tenant_slug", t.Slug),
		zap.String("tenant_id", t.ID.String()),
	)

	if err := s.realms.DeleteRealm(ctx, t.Slug); err != nil {
		log.Warn("realm deletion failed, continuing cleanup", zap.Error(err))
		prometheus.RecordHardDeleteCleanup("realm", "failure")
	} else {
		prometheus.RecordHardDeleteCleanup("realm", "success")
	}

	if err := s.buckets.RemoveBucket(ctx, t.Slug); err != nil {
		log.Warn("bucket removal failed, continuing cleanup", zap.Error(err))
		prometheus.RecordHardDeleteCleanup("bucket", "failure")
	} else {
		prometheus.RecordHardDeleteCleanup("bucket", "success")
	}

	if _, err := s.sweeper.SweepNamespace(ctx, t.Slug); err != nil {
		log.Warn("cache sweep failed, continuing cleanup", zap.Error(err))
		prometheus.RecordHardDeleteCleanup("cache", "failure")
	} else {
		prometheus.RecordHardDeleteCleanup("cache", "success")
	}

	if err := s.store.DropSchema(ctx, slug.SchemaName(t.Slug)); err != nil {
		log.Error("schema drop failed, aborting hard delete", zap.Error(err))
		return err
	}

	if err := s.store.Delete(ctx, t.ID); err != nil {
		return err
	}

	prometheus.RecordTenantTransition(string(t.Status), string(model.StatusDeleted))
	log.Info("tenant hard deleted")
	return nil
}

// ReapExpired hard-deletes every tenant whose scheduled deletion time has
// passed. Failures are logged and the sweep continues.
func (s *Service) ReapExpired(ctx context.Context) (int, error) {
	due, err := s.store.ListDeletionDue(ctx, s.now())
	if err != nil {
		return 0, err
	}

	log := logger.FromContext(ctx)
	reaped := 0
	for _, t := range due {
		if err := s.HardDelete(ctx, t.ID); err != nil {
			log.Error("failed to reap tenant",
				zap.String("tenant_slug", t.Slug),
				zap.Error(err))
			continue
		}
		prometheus.RecordTenantReaped()
		reaped++
	}
	return reaped, nil
}

// GetByID returns a visible tenant by id.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	return s.store.GetByID(ctx, id)
}

// GetBySlug returns a visible tenant by slug.
func (s *Service) GetBySlug(ctx context.Context, slugStr string) (*model.Tenant, error) {
	return s.store.GetBySlug(ctx, slugStr)
}

// GetSchemaName validates the slug and derives its schema name. Pure: no
// store access.
func (s *Service) GetSchemaName(slugStr string) (string, error) {
	if err := slug.Validate(slugStr); err != nil {
		return "", &ValidationError{Err: err}
	}
	return slug.SchemaName(slugStr), nil
}
