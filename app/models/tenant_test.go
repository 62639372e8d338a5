package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTenantValidate(t *testing.T) {
	valid := Tenant{Subdomain: "acme", Name: "Acme", Plan: PlanPro, Status: TenantStatusActive}
	assert.NoError(t, valid.Validate())

	badSubdomain := valid
	badSubdomain.Subdomain = "Acme_Shop"
	assert.Error(t, badSubdomain.Validate())

	badPlan := valid
	badPlan.Plan = "gold"
	assert.Error(t, badPlan.Validate())
}

func TestTenantRegionAndSchema(t *testing.T) {
	region := " EU "
	tenant := Tenant{ID: 42, DataResidencyRegion: &region}
	assert.Equal(t, "eu", tenant.Region())
	assert.Equal(t, "tenant_42", tenant.SchemaName())

	tenant.DataResidencyRegion = nil
	assert.Equal(t, "", tenant.Region())
}

func TestTenantIsServing(t *testing.T) {
	for status, want := range map[string]bool{
		TenantStatusTrial:     true,
		TenantStatusActive:    true,
		TenantStatusSuspended: false,
		TenantStatusCancelled: false,
	} {
		tenant := Tenant{Status: status}
		assert.Equal(t, want, tenant.IsServing(), status)
	}
}

func TestNormalizePlan(t *testing.T) {
	assert.Equal(t, PlanPro, NormalizePlan("PRO"))
	assert.Equal(t, PlanEnterprise, NormalizePlan(" enterprise "))
	assert.Equal(t, PlanFree, NormalizePlan("gold"))
}

func TestPluginDependencyList(t *testing.T) {
	p := AvailablePlugin{}
	assert.Nil(t, p.DependencyList())
	p.SetDependencyList([]string{"payments", "loyalty"})
	assert.Equal(t, []string{"payments", "loyalty"}, p.DependencyList())
	p.SetDependencyList(nil)
	assert.Equal(t, "", p.Dependencies)
}

func TestCartTotal(t *testing.T) {
	cart := Cart{Items: []CartItem{
		{Quantity: 2, UnitPriceCents: 1500},
		{Quantity: 1, UnitPriceCents: 999},
	}}
	assert.Equal(t, int64(3999), cart.TotalCents())
}
