package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

// Lifecycle states. Transitions are guarded in the tenant service; rows are
// only ever moved between states with a compare-and-swap on the stored value.
const (
	StatusProvisioning    TenantStatus = "provisioning"
	StatusActive          TenantStatus = "active"
	StatusSuspended       TenantStatus = "suspended"
	StatusPendingDeletion TenantStatus = "pending_deletion"
	StatusDeleted         TenantStatus = "deleted"
)

// JSONMap stores a free-form JSON object in a jsonb column.
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", value)
	}
	return json.Unmarshal(b, m)
}

// GormDataType tells gorm which column type to use
func (JSONMap) GormDataType() string {
	return "jsonb"
}

// Tenant represents an isolated customer account with its own schema, realm
// and storage namespace. The slug is globally unique and immutable; the
// schema name is derived from it and never stored independently of it.
type Tenant struct {
	ID                    uuid.UUID    `json:"id" gorm:"type:uuid;primaryKey"`
	Slug                  string       `json:"slug" gorm:"type:varchar(64);uniqueIndex;not null"`
	Name                  string       `json:"name" gorm:"type:varchar(100);not null"`
	Status                TenantStatus `json:"status" gorm:"type:varchar(20);index;not null"`
	AdminEmail            string       `json:"admin_email" gorm:"type:varchar(255);not null"`
	DeletionScheduledAt   *time.Time   `json:"deletion_scheduled_at,omitempty"`
	LastProvisioningError string       `json:"last_provisioning_error,omitempty" gorm:"type:text"`
	Settings              JSONMap      `json:"settings" gorm:"type:jsonb"`
	Theme                 JSONMap      `json:"theme" gorm:"type:jsonb"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// BeforeCreate hook assigns an ID when none is set
func (t *Tenant) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = StatusProvisioning
	}
	return nil
}
