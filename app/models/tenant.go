package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Tenant status values. Tenants are never hard-deleted; offboarding is a status change.
const (
	TenantStatusTrial     = "trial"
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
	TenantStatusCancelled = "cancelled"
)

// Plan tiers.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

var subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

type Tenant struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Subdomain           string    `gorm:"type:varchar(63);uniqueIndex;not null" json:"subdomain" validate:"required,max=63"`
	Name                string    `gorm:"type:varchar(255);not null" json:"name" validate:"required,min=1,max=255"`
	Plan                string    `gorm:"type:varchar(32);not null;default:free" json:"plan" validate:"required,oneof=free pro enterprise"`
	DataResidencyRegion *string   `gorm:"type:varchar(32)" json:"data_residency_region,omitempty"`
	Status              string    `gorm:"type:varchar(32);not null;default:trial" json:"status" validate:"required,oneof=trial active suspended cancelled"`
	SubscriptionStatus  string    `gorm:"type:varchar(32)" json:"subscription_status"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tenant) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return err
	}
	if !subdomainPattern.MatchString(t.Subdomain) {
		return fmt.Errorf("invalid subdomain %q", t.Subdomain)
	}
	return nil
}

// SchemaName is the logical schema holding the tenant's data.
func (t *Tenant) SchemaName() string {
	return TenantSchemaName(t.ID)
}

// Region returns the normalised residency region, or "" for the default deployment.
func (t *Tenant) Region() string {
	if t.DataResidencyRegion == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(*t.DataResidencyRegion))
}

// IsServing reports whether requests for this tenant should be answered.
func (t *Tenant) IsServing() bool {
	return t.Status == TenantStatusActive || t.Status == TenantStatusTrial
}

func TenantSchemaName(id uint) string {
	return fmt.Sprintf("tenant_%d", id)
}

// NormalizePlan maps unknown plan names to the free tier.
func NormalizePlan(plan string) string {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case PlanPro:
		return PlanPro
	case PlanEnterprise:
		return PlanEnterprise
	default:
		return PlanFree
	}
}

// IsValidTenantStatus checks a status value against the known lifecycle states.
func IsValidTenantStatus(status string) bool {
	switch status {
	case TenantStatusTrial, TenantStatusActive, TenantStatusSuspended, TenantStatusCancelled:
		return true
	}
	return false
}
