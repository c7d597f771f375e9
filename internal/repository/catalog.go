package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
)

// Read-mostly configuration data: alert types, checklist templates and
// filter rules. Provisioned by the admin surface, read by the engine.

// SaveAlertType stores an alert type with tenant isolation.
func (r *SQLRepository) SaveAlertType(ctx context.Context, tenantID string, at *domain.AlertType) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if _, err := domain.ParseSeverity(string(at.Severity)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	now := time.Now().UTC()
	if at.CreatedAt.IsZero() {
		at.CreatedAt = now
	}
	at.UpdatedAt = now

	query := `
		INSERT INTO alert_types (
			id, tenant_id, name, severity, auto_create_ticket, auto_create_checklist,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			severity = excluded.severity,
			auto_create_ticket = excluded.auto_create_ticket,
			auto_create_checklist = excluded.auto_create_checklist,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		at.ID, tenantID, at.Name, string(at.Severity),
		boolToInt(at.AutoCreateTicket), boolToInt(at.AutoCreateChecklist),
		boolToInt(at.Enabled), at.CreatedAt, at.UpdatedAt,
	)
	return err
}

// GetAlertType retrieves an enabled alert type with tenant isolation.
func (r *SQLRepository) GetAlertType(ctx context.Context, tenantID string, alertTypeID string) (*domain.AlertType, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, severity, auto_create_ticket, auto_create_checklist,
		       enabled, created_at, updated_at
		FROM alert_types
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	at, err := scanAlertType(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertTypeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return at, err
}

// ListAlertTypes retrieves all enabled alert types for a tenant.
func (r *SQLRepository) ListAlertTypes(ctx context.Context, tenantID string) ([]*domain.AlertType, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, severity, auto_create_ticket, auto_create_checklist,
		       enabled, created_at, updated_at
		FROM alert_types
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*domain.AlertType
	for rows.Next() {
		at, err := scanAlertType(rows)
		if err != nil {
			return nil, err
		}
		types = append(types, at)
	}

	return types, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlertType(row rowScanner) (*domain.AlertType, error) {
	var at domain.AlertType
	var severity string
	var ticket, checklist, enabled int

	err := row.Scan(
		&at.ID, &at.TenantID, &at.Name, &severity, &ticket, &checklist,
		&enabled, &at.CreatedAt, &at.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	at.Severity = domain.Severity(severity)
	at.AutoCreateTicket = ticket == 1
	at.AutoCreateChecklist = checklist == 1
	at.Enabled = enabled == 1
	return &at, nil
}

// SaveTemplate stores a checklist template and its property-type
// associations. The association set is replaced wholesale.
func (r *SQLRepository) SaveTemplate(ctx context.Context, tenantID string, t *domain.ChecklistTemplate) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO checklist_templates (id, tenant_id, name, category, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			enabled = excluded.enabled
	`
	if _, err := tx.ExecContext(ctx, r.rebind(insert),
		t.ID, tenantID, t.Name, t.Category, boolToInt(t.Enabled), t.CreatedAt,
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		r.rebind(`DELETE FROM checklist_template_property_types WHERE template_id = ?`), t.ID,
	); err != nil {
		return err
	}

	assoc := `INSERT INTO checklist_template_property_types (template_id, property_type) VALUES (?, ?)`
	for _, pt := range t.PropertyTypes {
		if _, err := tx.ExecContext(ctx, r.rebind(assoc), t.ID, pt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetTemplate retrieves a template and its property types by ID.
func (r *SQLRepository) GetTemplate(ctx context.Context, tenantID string, templateID string) (*domain.ChecklistTemplate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, category, enabled, created_at
		FROM checklist_templates
		WHERE tenant_id = ? AND id = ?
	`

	var t domain.ChecklistTemplate
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, templateID).Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Category, &enabled, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled == 1

	t.PropertyTypes, err = r.templatePropertyTypes(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindTemplate retrieves the single enabled template bound to both the
// category and the property type. The engine treats ErrNotFound as a
// planning skip, not a failure.
func (r *SQLRepository) FindTemplate(ctx context.Context, tenantID string, category string, propertyType string) (*domain.ChecklistTemplate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT t.id, t.tenant_id, t.name, t.category, t.enabled, t.created_at
		FROM checklist_templates t
		JOIN checklist_template_property_types pt ON pt.template_id = t.id
		WHERE t.tenant_id = ? AND t.category = ? AND pt.property_type = ? AND t.enabled = 1
		ORDER BY t.created_at
		LIMIT 1
	`

	var t domain.ChecklistTemplate
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, category, propertyType).Scan(
		&t.ID, &t.TenantID, &t.Name, &t.Category, &enabled, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled == 1

	t.PropertyTypes, err = r.templatePropertyTypes(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTemplates retrieves all templates for a tenant.
func (r *SQLRepository) ListTemplates(ctx context.Context, tenantID string) ([]*domain.ChecklistTemplate, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, category, enabled, created_at
		FROM checklist_templates
		WHERE tenant_id = ?
		ORDER BY category, name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*domain.ChecklistTemplate
	for rows.Next() {
		var t domain.ChecklistTemplate
		var enabled int
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Category, &enabled, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled == 1
		templates = append(templates, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range templates {
		if t.PropertyTypes, err = r.templatePropertyTypes(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return templates, nil
}

func (r *SQLRepository) templatePropertyTypes(ctx context.Context, templateID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT property_type FROM checklist_template_property_types WHERE template_id = ? ORDER BY property_type`),
		templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var pt string
		if err := rows.Scan(&pt); err != nil {
			return nil, err
		}
		types = append(types, pt)
	}
	return types, rows.Err()
}

// SaveFilterRule stores a filter rule with tenant isolation.
func (r *SQLRepository) SaveFilterRule(ctx context.Context, tenantID string, rule *domain.FilterRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	query := `
		INSERT INTO filter_rules (id, tenant_id, name, expression, action, severity, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			expression = excluded.expression,
			action = excluded.action,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Expression, string(rule.Action),
		string(rule.Severity), boolToInt(rule.Enabled), rule.CreatedAt, rule.UpdatedAt,
	)
	return err
}

// ListFilterRules retrieves all enabled filter rules for a tenant.
func (r *SQLRepository) ListFilterRules(ctx context.Context, tenantID string) ([]*domain.FilterRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, expression, action, severity, enabled, created_at, updated_at
		FROM filter_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ruleList []*domain.FilterRule
	for rows.Next() {
		var rule domain.FilterRule
		var action string
		var severity sql.NullString
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Expression, &action,
			&severity, &enabled, &rule.CreatedAt, &rule.UpdatedAt,
		); err != nil {
			return nil, err
		}

		rule.Action = domain.FilterAction(action)
		rule.Severity = domain.Severity(severity.String)
		rule.Enabled = enabled == 1
		ruleList = append(ruleList, &rule)
	}

	return ruleList, rows.Err()
}
