package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/plexica/tenantd/internal/model"
	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/prometheus"
	"gorm.io/gorm"
)

// Store is the persistence boundary of the tenant service. All lookups
// exclude tenants in the deleted state, even when the row briefly persists.
type Store interface {
	Create(ctx context.Context, t *model.Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetBySlug(ctx context.Context, s string) (*model.Tenant, error)

	// CompareAndSwapStatus atomically moves the tenant from one of the
	// given states to the target state, applying extra column updates in
	// the same statement. It reports false when the row is missing or not
	// in any of the from states. Guards are enforced at update time, never
	// read-then-write.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from []model.TenantStatus, to model.TenantStatus, updates map[string]any) (bool, error)

	RecordProvisioningError(ctx context.Context, id uuid.UUID, msg string) error

	// Delete marks the tenant deleted and removes the row.
	Delete(ctx context.Context, id uuid.UUID) error

	// DropSchema drops the tenant schema with CASCADE.
	DropSchema(ctx context.Context, schemaName string) error

	// ListDeletionDue returns tenants pending deletion whose scheduled
	// time has passed.
	ListDeletionDue(ctx context.Context, now time.Time) ([]model.Tenant, error)
}

// GormStore is the PostgreSQL-backed store.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a store over the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, t *model.Tenant) error {
	defer prometheus.TrackDBOperation("tenant_create")(time.Now())

	err := s.db.WithContext(ctx).Create(t).Error
	if err != nil && isUniqueViolation(err) {
		return ErrSlugTaken
	}
	return err
}

func (s *GormStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("tenant_get")(time.Now())

	var t model.Tenant
	err := s.db.WithContext(ctx).
		Where("id = ? AND status <> ?", id, model.StatusDeleted).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) GetBySlug(ctx context.Context, slugStr string) (*model.Tenant, error) {
	defer prometheus.TrackDBOperation("tenant_get")(time.Now())

	var t model.Tenant
	err := s.db.WithContext(ctx).
		Where("slug = ? AND status <> ?", slugStr, model.StatusDeleted).
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *GormStore) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, from []model.TenantStatus, to model.TenantStatus, updates map[string]any) (bool, error) {
	defer prometheus.TrackDBOperation("tenant_transition")(time.Now())

	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}

	res := s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) RecordProvisioningError(ctx context.Context, id uuid.UUID, msg string) error {
	defer prometheus.TrackDBOperation("tenant_update")(time.Now())

	return s.db.WithContext(ctx).
		Model(&model.Tenant{}).
		Where("id = ?", id).
		Update("last_provisioning_error", msg).Error
}

func (s *GormStore) Delete(ctx context.Context, id uuid.UUID) error {
	defer prometheus.TrackDBOperation("tenant_delete")(time.Now())

	// The row is marked deleted before removal so concurrent lookups
	// already exclude it, then removed as the authoritative last action.
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Tenant{}).
			Where("id = ?", id).
			Update("status", model.StatusDeleted).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Tenant{}).Error
	})
}

func (s *GormStore) DropSchema(ctx context.Context, schemaName string) error {
	defer prometheus.TrackDBOperation("schema_drop")(time.Now())

	// Closed character class check immediately before identifier use.
	if err := slug.ValidateSchemaName(schemaName); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schemaName)).Error
}

func (s *GormStore) ListDeletionDue(ctx context.Context, now time.Time) ([]model.Tenant, error) {
	defer prometheus.TrackDBOperation("tenant_list")(time.Now())

	var tenants []model.Tenant
	err := s.db.WithContext(ctx).
		Where("status = ? AND deletion_scheduled_at <= ?", model.StatusPendingDeletion, now).
		Find(&tenants).Error
	return tenants, err
}

// isUniqueViolation matches the PostgreSQL unique_violation SQLSTATE.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var pgErr coder
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
