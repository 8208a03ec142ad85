package provisioning

import (
	"context"
	"fmt"

	"github.com/plexica/tenantd/internal/directory"
	"github.com/plexica/tenantd/internal/objectstore"
	"github.com/plexica/tenantd/internal/slug"
	"github.com/plexica/tenantd/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultSteps returns the fixed tenant provisioning pipeline in order.
func DefaultSteps(db *gorm.DB, gw *directory.Gateway, store *objectstore.Store) []Step {
	return []Step{
		&SchemaStep{db: db},
		&RealmStep{gw: gw},
		&ClientsStep{gw: gw},
		&RolesStep{gw: gw},
		&BucketStep{store: store},
		&AdminAccountStep{gw: gw},
		&InvitationStep{gw: gw},
	}
}

// SchemaStep creates the tenant's private schema and its base tables. All DDL
// is IF NOT EXISTS, so re-running after a partial failure is safe.
type SchemaStep struct {
	db *gorm.DB
}

func (s *SchemaStep) Name() string { return StepSchema }

func (s *SchemaStep) Execute(ctx context.Context, pctx *Context) error {
	schemaName := slug.SchemaName(pctx.TenantSlug)
	// Closed character class check immediately before identifier use.
	if err := slug.ValidateSchemaName(schemaName); err != nil {
		return err
	}

	statements := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, schemaName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.users (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			email VARCHAR(255) NOT NULL UNIQUE,
			first_name VARCHAR(100),
			last_name VARCHAR(100),
			directory_id VARCHAR(36),
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schemaName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.roles (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			name VARCHAR(100) NOT NULL UNIQUE,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, schemaName),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q.user_roles (
			user_id UUID NOT NULL REFERENCES %q.users (id) ON DELETE CASCADE,
			role_id UUID NOT NULL REFERENCES %q.roles (id) ON DELETE CASCADE,
			PRIMARY KEY (user_id, role_id)
		)`, schemaName, schemaName, schemaName),
	}

	for _, stmt := range statements {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("schema DDL: %w", err)
		}
	}
	return nil
}

func (s *SchemaStep) Rollback(ctx context.Context, pctx *Context) error {
	schemaName := slug.SchemaName(pctx.TenantSlug)
	if err := slug.ValidateSchemaName(schemaName); err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Exec(fmt.Sprintf(`DROP SCHEMA IF EXISTS %q CASCADE`, schemaName)).Error
}

// RealmStep creates the tenant's identity realm.
type RealmStep struct {
	gw *directory.Gateway
}

func (s *RealmStep) Name() string { return StepIdentityRealm }

func (s *RealmStep) Execute(ctx context.Context, pctx *Context) error {
	return s.gw.EnsureRealm(ctx, pctx.TenantSlug)
}

func (s *RealmStep) Rollback(ctx context.Context, pctx *Context) error {
	return s.gw.DeleteRealm(ctx, pctx.TenantSlug)
}

// ClientsStep provisions the realm's browser and service clients.
type ClientsStep struct {
	gw *directory.Gateway
}

func (s *ClientsStep) Name() string { return StepIdentityClients }

func (s *ClientsStep) Execute(ctx context.Context, pctx *Context) error {
	return s.gw.ProvisionRealmClients(ctx, pctx.TenantSlug, nil, nil)
}

func (s *ClientsStep) Rollback(ctx context.Context, pctx *Context) error {
	realm := pctx.TenantSlug
	if err := s.gw.DeleteClient(ctx, realm, directory.WebClientID(realm)); err != nil {
		return err
	}
	return s.gw.DeleteClient(ctx, realm, directory.ServiceClientID(realm))
}

// RolesStep provisions the realm's two standard roles.
type RolesStep struct {
	gw *directory.Gateway
}

func (s *RolesStep) Name() string { return StepIdentityRoles }

func (s *RolesStep) Execute(ctx context.Context, pctx *Context) error {
	return s.gw.ProvisionRealmRoles(ctx, pctx.TenantSlug)
}

func (s *RolesStep) Rollback(ctx context.Context, pctx *Context) error {
	realm := pctx.TenantSlug
	if err := s.gw.DeleteRole(ctx, realm, directory.RoleTenantAdministrator); err != nil {
		return err
	}
	return s.gw.DeleteRole(ctx, realm, directory.RoleStandardUser)
}

// BucketStep creates the tenant's object store bucket.
type BucketStep struct {
	store *objectstore.Store
}

func (s *BucketStep) Name() string { return StepObjectStoreBucket }

func (s *BucketStep) Execute(ctx context.Context, pctx *Context) error {
	return s.store.EnsureBucket(ctx, pctx.TenantSlug)
}

func (s *BucketStep) Rollback(ctx context.Context, pctx *Context) error {
	return s.store.RemoveBucket(ctx, pctx.TenantSlug)
}

// AdminAccountStep creates the tenant's first administrator in the realm and
// grants the tenant-administrator role.
type AdminAccountStep struct {
	gw *directory.Gateway
}

func (s *AdminAccountStep) Name() string { return StepAdminAccount }

func (s *AdminAccountStep) Execute(ctx context.Context, pctx *Context) error {
	realm := pctx.TenantSlug
	userID, err := s.gw.CreateUser(ctx, realm, pctx.AdminEmail)
	if err != nil {
		return err
	}
	return s.gw.AssignRealmRole(ctx, realm, userID, directory.RoleTenantAdministrator)
}

func (s *AdminAccountStep) Rollback(ctx context.Context, pctx *Context) error {
	realm := pctx.TenantSlug
	userID, err := s.gw.FindUserByEmail(ctx, realm, pctx.AdminEmail)
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	return s.gw.DeleteUser(ctx, realm, userID)
}

// InvitationStep emails the admin an invitation to set a password. There is
// nothing to compensate: a dangling invitation dies with its realm.
type InvitationStep struct {
	gw *directory.Gateway
}

func (s *InvitationStep) Name() string { return StepInvitation }

func (s *InvitationStep) Execute(ctx context.Context, pctx *Context) error {
	realm := pctx.TenantSlug
	userID, err := s.gw.FindUserByEmail(ctx, realm, pctx.AdminEmail)
	if err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("admin account %q missing in realm %q", pctx.AdminEmail, realm)
	}

	if err := s.gw.SendInvitation(ctx, realm, userID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("sent tenant admin invitation",
		zap.String("realm", realm))
	return nil
}

func (s *InvitationStep) Rollback(ctx context.Context, pctx *Context) error {
	return nil
}
