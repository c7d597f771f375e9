// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Property and camera provisioning
	SaveProperty(ctx context.Context, tenantID string, p *Property) error
	GetProperty(ctx context.Context, tenantID string, propertyID string) (*Property, error)
	SaveCamera(ctx context.Context, tenantID string, c *Camera) error
	GetCamera(ctx context.Context, tenantID string, cameraID string) (*Camera, error)

	// GetCameraContext resolves camera -> property in a single joined read.
	// Only active cameras are returned.
	GetCameraContext(ctx context.Context, tenantID string, cameraID string) (*Camera, *Property, error)

	// Alert type configuration
	SaveAlertType(ctx context.Context, tenantID string, at *AlertType) error
	GetAlertType(ctx context.Context, tenantID string, alertTypeID string) (*AlertType, error)
	ListAlertTypes(ctx context.Context, tenantID string) ([]*AlertType, error)

	// Checklist templates
	SaveTemplate(ctx context.Context, tenantID string, t *ChecklistTemplate) error
	GetTemplate(ctx context.Context, tenantID string, templateID string) (*ChecklistTemplate, error)
	FindTemplate(ctx context.Context, tenantID string, category string, propertyType string) (*ChecklistTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*ChecklistTemplate, error)

	// Alert creation and lifecycle
	CreateAlertBundle(ctx context.Context, tenantID string, bundle *AlertBundle) error
	GetAlert(ctx context.Context, tenantID string, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, tenantID string, filter AlertFilter) ([]*Alert, error)
	ResolveAlert(ctx context.Context, tenantID string, alertID string, resolverID string, notes string) (*Alert, error)

	// Derived entity reads (reporting surface)
	GetTicket(ctx context.Context, tenantID string, ticketID string) (*ServiceTicket, error)
	GetChecklist(ctx context.Context, tenantID string, checklistID string) (*Checklist, error)
	GetLinkByAlert(ctx context.Context, tenantID string, alertID string) (*ChecklistLink, error)

	// Statistics (computed on demand, read-committed)
	AlertStats(ctx context.Context, tenantID string, propertyID string) (*AlertStats, error)

	// Filter rule configuration
	SaveFilterRule(ctx context.Context, tenantID string, rule *FilterRule) error
	ListFilterRules(ctx context.Context, tenantID string) ([]*FilterRule, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertBundle is the unit of work for one automation run: the alert plus
// the derived entities the plan calls for. Nil members are skipped. All
// inserts commit or roll back together.
type AlertBundle struct {
	Alert     *Alert
	Ticket    *ServiceTicket
	Checklist *Checklist
	Link      *ChecklistLink
}

// AlertFilter narrows ListAlerts queries.
type AlertFilter struct {
	PropertyID string
	Status     string
	Limit      int
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
