package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaProperties = `
CREATE TABLE IF NOT EXISTS properties (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    address TEXT,
    property_type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_properties_tenant ON properties(tenant_id);
`

const schemaCameras = `
CREATE TABLE IF NOT EXISTS cameras (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    property_id TEXT NOT NULL REFERENCES properties(id),
    name TEXT NOT NULL,
    location TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cameras_tenant ON cameras(tenant_id);
CREATE INDEX IF NOT EXISTS idx_cameras_property ON cameras(tenant_id, property_id);
`

const schemaAlertTypes = `
CREATE TABLE IF NOT EXISTS alert_types (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    severity TEXT NOT NULL,
    auto_create_ticket INTEGER NOT NULL DEFAULT 0,
    auto_create_checklist INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alert_types_tenant ON alert_types(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alert_types_enabled ON alert_types(tenant_id, enabled);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    camera_id TEXT NOT NULL REFERENCES cameras(id),
    alert_type_id TEXT NOT NULL REFERENCES alert_types(id),
    status TEXT NOT NULL DEFAULT 'active',
    confidence REAL NOT NULL DEFAULT 0,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT,
    resolution_notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_alerts_tenant ON alerts(tenant_id);
CREATE INDEX IF NOT EXISTS idx_alerts_camera ON alerts(tenant_id, camera_id);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(tenant_id, status);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(tenant_id, created_at);
`

const schemaServiceTickets = `
CREATE TABLE IF NOT EXISTS service_tickets (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    property_id TEXT NOT NULL REFERENCES properties(id),
    alert_id TEXT REFERENCES alerts(id),
    title TEXT NOT NULL,
    description TEXT,
    priority TEXT NOT NULL DEFAULT 'medium',
    status TEXT NOT NULL DEFAULT 'open',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tickets_tenant ON service_tickets(tenant_id);
CREATE INDEX IF NOT EXISTS idx_tickets_property ON service_tickets(tenant_id, property_id);
CREATE INDEX IF NOT EXISTS idx_tickets_alert ON service_tickets(tenant_id, alert_id);
`

const schemaChecklistTemplates = `
CREATE TABLE IF NOT EXISTS checklist_templates (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    category TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_templates_tenant ON checklist_templates(tenant_id);
CREATE INDEX IF NOT EXISTS idx_templates_category ON checklist_templates(tenant_id, category);

CREATE TABLE IF NOT EXISTS checklist_template_property_types (
    template_id TEXT NOT NULL REFERENCES checklist_templates(id),
    property_type TEXT NOT NULL,
    PRIMARY KEY (template_id, property_type)
);
`

const schemaChecklists = `
CREATE TABLE IF NOT EXISTS checklists (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    property_id TEXT NOT NULL REFERENCES properties(id),
    template_id TEXT NOT NULL REFERENCES checklist_templates(id),
    assignee TEXT,
    status TEXT NOT NULL DEFAULT 'pending',
    due_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checklists_tenant ON checklists(tenant_id);
CREATE INDEX IF NOT EXISTS idx_checklists_property ON checklists(tenant_id, property_id);
`

// The unique alert_id constraint backs the at-most-one-auto-checklist-
// per-alert invariant as defense in depth; the creator only ever inserts
// one link row per invocation.
const schemaChecklistLinks = `
CREATE TABLE IF NOT EXISTS alert_generated_checklists (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    alert_id TEXT NOT NULL UNIQUE REFERENCES alerts(id),
    checklist_id TEXT NOT NULL REFERENCES checklists(id),
    auto_generated INTEGER NOT NULL DEFAULT 1,
    trigger_reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_tenant ON alert_generated_checklists(tenant_id);
`

const schemaFilterRules = `
CREATE TABLE IF NOT EXISTS filter_rules (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    expression TEXT NOT NULL,
    action TEXT NOT NULL,
    severity TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_filter_rules_tenant ON filter_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_filter_rules_enabled ON filter_rules(tenant_id, enabled);
`

// AllSchemas returns all schema statements in dependency order.
func AllSchemas() []string {
	return []string{
		schemaProperties,
		schemaCameras,
		schemaAlertTypes,
		schemaAlerts,
		schemaServiceTickets,
		schemaChecklistTemplates,
		schemaChecklists,
		schemaChecklistLinks,
		schemaFilterRules,
	}
}
