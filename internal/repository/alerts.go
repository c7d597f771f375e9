package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
)

// ErrAlertNotActive is returned when resolving an alert that exists but
// has already left the active state. Resolution is a one-shot
// transition; re-resolving is a terminal error, not a no-op.
var ErrAlertNotActive = errors.New("alert is not active")

// CreateAlertBundle executes one automation run as a single transaction:
// the alert insert plus any derived-entity inserts the plan produced.
// Any failure rolls the whole unit back; callers never observe a
// partially created alert.
func (r *SQLRepository) CreateAlertBundle(ctx context.Context, tenantID string, bundle *domain.AlertBundle) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if bundle == nil || bundle.Alert == nil {
		return fmt.Errorf("%w: bundle requires an alert", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.insertAlert(ctx, tx, tenantID, bundle.Alert); err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}

	if bundle.Ticket != nil {
		if err := r.insertTicket(ctx, tx, tenantID, bundle.Ticket); err != nil {
			return fmt.Errorf("insert ticket: %w", err)
		}
	}

	if bundle.Checklist != nil {
		if err := r.insertChecklist(ctx, tx, tenantID, bundle.Checklist); err != nil {
			return fmt.Errorf("insert checklist: %w", err)
		}
		if bundle.Link != nil {
			if err := r.insertLink(ctx, tx, tenantID, bundle.Link); err != nil {
				return fmt.Errorf("insert checklist link: %w", err)
			}
		}
	}

	return tx.Commit()
}

func (r *SQLRepository) insertAlert(ctx context.Context, tx *sql.Tx, tenantID string, a *domain.Alert) error {
	metadata, _ := json.Marshal(a.Metadata)

	query := `
		INSERT INTO alerts (id, tenant_id, camera_id, alert_type_id, status, confidence, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.CameraID, a.AlertTypeID, a.Status, a.Confidence,
		string(metadata), a.CreatedAt,
	)
	return err
}

func (r *SQLRepository) insertTicket(ctx context.Context, tx *sql.Tx, tenantID string, t *domain.ServiceTicket) error {
	query := `
		INSERT INTO service_tickets (id, tenant_id, property_id, alert_id, title, description, priority, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var alertID any
	if t.AlertID != "" {
		alertID = t.AlertID
	}
	_, err := tx.ExecContext(ctx, r.rebind(query),
		t.ID, tenantID, t.PropertyID, alertID, t.Title, t.Description,
		string(t.Priority), t.Status, t.CreatedAt,
	)
	return err
}

func (r *SQLRepository) insertChecklist(ctx context.Context, tx *sql.Tx, tenantID string, c *domain.Checklist) error {
	query := `
		INSERT INTO checklists (id, tenant_id, property_id, template_id, assignee, status, due_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	var assignee any
	if c.Assignee != "" {
		assignee = c.Assignee
	}
	_, err := tx.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.PropertyID, c.TemplateID, assignee, c.Status, c.DueAt, c.CreatedAt,
	)
	return err
}

func (r *SQLRepository) insertLink(ctx context.Context, tx *sql.Tx, tenantID string, l *domain.ChecklistLink) error {
	query := `
		INSERT INTO alert_generated_checklists (id, tenant_id, alert_id, checklist_id, auto_generated, trigger_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, r.rebind(query),
		l.ID, tenantID, l.AlertID, l.ChecklistID, boolToInt(l.AutoGenerated), l.TriggerReason, l.CreatedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID with tenant isolation.
func (r *SQLRepository) GetAlert(ctx context.Context, tenantID string, alertID string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, camera_id, alert_type_id, status, confidence, metadata,
		       created_at, resolved_at, resolved_by, resolution_notes
		FROM alerts
		WHERE tenant_id = ? AND id = ?
	`

	a, err := scanAlert(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, filter domain.AlertFilter) ([]*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT a.id, a.tenant_id, a.camera_id, a.alert_type_id, a.status, a.confidence, a.metadata,
		       a.created_at, a.resolved_at, a.resolved_by, a.resolution_notes
		FROM alerts a
	`
	args := []any{}
	where := " WHERE a.tenant_id = ?"
	args = append(args, tenantID)

	if filter.PropertyID != "" {
		query += " JOIN cameras c ON c.id = a.camera_id AND c.tenant_id = a.tenant_id"
		where += " AND c.property_id = ?"
		args = append(args, filter.PropertyID)
	}
	if filter.Status != "" {
		where += " AND a.status = ?"
		args = append(args, filter.Status)
	}

	query += where + " ORDER BY a.created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var metadata sql.NullString
	var resolvedAt sql.NullTime
	var resolvedBy, notes sql.NullString

	err := row.Scan(
		&a.ID, &a.TenantID, &a.CameraID, &a.AlertTypeID, &a.Status, &a.Confidence,
		&metadata, &a.CreatedAt, &resolvedAt, &resolvedBy, &notes,
	)
	if err != nil {
		return nil, err
	}

	if metadata.String != "" {
		json.Unmarshal([]byte(metadata.String), &a.Metadata)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		a.ResolvedAt = &t
	}
	a.ResolvedBy = resolvedBy.String
	a.ResolutionNotes = notes.String
	return &a, nil
}

// ResolveAlert transitions an alert from active to resolved, stamping
// the resolver identity and timestamp. The guarded UPDATE makes the
// transition race-safe under concurrent resolvers: exactly one wins.
func (r *SQLRepository) ResolveAlert(ctx context.Context, tenantID string, alertID string, resolverID string, notes string) (*domain.Alert, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	now := time.Now().UTC()

	query := `
		UPDATE alerts
		SET status = ?, resolved_at = ?, resolved_by = ?, resolution_notes = ?
		WHERE tenant_id = ? AND id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query),
		domain.AlertResolved, now, resolverID, notes,
		tenantID, alertID, domain.AlertActive,
	)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// Distinguish a missing alert from one already resolved.
		if _, err := r.GetAlert(ctx, tenantID, alertID); err != nil {
			return nil, err
		}
		return nil, ErrAlertNotActive
	}

	return r.GetAlert(ctx, tenantID, alertID)
}

// GetTicket retrieves a service ticket by ID with tenant isolation.
func (r *SQLRepository) GetTicket(ctx context.Context, tenantID string, ticketID string) (*domain.ServiceTicket, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, property_id, alert_id, title, description, priority, status, created_at
		FROM service_tickets
		WHERE tenant_id = ? AND id = ?
	`

	var t domain.ServiceTicket
	var alertID, description sql.NullString
	var priority string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ticketID).Scan(
		&t.ID, &t.TenantID, &t.PropertyID, &alertID, &t.Title, &description,
		&priority, &t.Status, &t.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.AlertID = alertID.String
	t.Description = description.String
	t.Priority = domain.TicketPriority(priority)
	return &t, nil
}

// GetChecklist retrieves a checklist by ID with tenant isolation.
func (r *SQLRepository) GetChecklist(ctx context.Context, tenantID string, checklistID string) (*domain.Checklist, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, property_id, template_id, assignee, status, due_at, created_at
		FROM checklists
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Checklist
	var assignee sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, checklistID).Scan(
		&c.ID, &c.TenantID, &c.PropertyID, &c.TemplateID, &assignee, &c.Status,
		&c.DueAt, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Assignee = assignee.String
	return &c, nil
}

// GetLinkByAlert retrieves the checklist link for an alert, if any.
// The unique constraint on alert_id guarantees at most one row.
func (r *SQLRepository) GetLinkByAlert(ctx context.Context, tenantID string, alertID string) (*domain.ChecklistLink, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, alert_id, checklist_id, auto_generated, trigger_reason, created_at
		FROM alert_generated_checklists
		WHERE tenant_id = ? AND alert_id = ?
	`

	var l domain.ChecklistLink
	var autoGenerated int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, alertID).Scan(
		&l.ID, &l.TenantID, &l.AlertID, &l.ChecklistID, &autoGenerated,
		&l.TriggerReason, &l.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	l.AutoGenerated = autoGenerated == 1
	return &l, nil
}

// AlertStats computes aggregate counts over the alert table on demand.
// Today is bounded at UTC midnight. Read-committed semantics suffice;
// these are advisory dashboard counts.
func (r *SQLRepository) AlertStats(ctx context.Context, tenantID string, propertyID string) (*domain.AlertStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)

	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN a.status = 'active' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.status = 'resolved' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN a.created_at >= ? THEN 1 ELSE 0 END), 0)
		FROM alerts a
	`
	args := []any{midnight}

	if propertyID != "" {
		query += `
		JOIN cameras c ON c.id = a.camera_id AND c.tenant_id = a.tenant_id
		WHERE a.tenant_id = ? AND c.property_id = ?`
		args = append(args, tenantID, propertyID)
	} else {
		query += `
		WHERE a.tenant_id = ?`
		args = append(args, tenantID)
	}

	var stats domain.AlertStats
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&stats.Total, &stats.Active, &stats.Resolved, &stats.Today,
	)
	if err != nil {
		return nil, err
	}

	return &stats, nil
}
