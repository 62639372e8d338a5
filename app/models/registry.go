package models

// PlatformModels are migrated into the primary database (public schema).
func PlatformModels() []interface{} {
	return []interface{}{
		&Tenant{},
		&AvailablePlugin{},
		&TenantPlugin{},
		&PluginLog{},
		&WebhookEndpoint{},
		&WebhookLog{},
		&AnalyticsLog{},
	}
}

// TenantModels live in each tenant schema. Production schemas are created by
// the provisioning migrations; this list backs tests and local development.
func TenantModels() []interface{} {
	return []interface{}{
		&Page{},
		&Product{},
		&Cart{},
		&CartItem{},
		&Order{},
		&AnalyticsEvent{},
	}
}
