// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveProperty stores a property with tenant isolation.
func (r *SQLRepository) SaveProperty(ctx context.Context, tenantID string, p *domain.Property) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO properties (id, tenant_id, name, address, property_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		p.ID, tenantID, p.Name, p.Address, p.PropertyType, p.CreatedAt,
	)
	return err
}

// GetProperty retrieves a property by ID with tenant isolation.
func (r *SQLRepository) GetProperty(ctx context.Context, tenantID string, propertyID string) (*domain.Property, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, address, property_type, created_at
		FROM properties
		WHERE tenant_id = ? AND id = ?
	`

	var p domain.Property
	var address sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, propertyID).Scan(
		&p.ID, &p.TenantID, &p.Name, &address, &p.PropertyType, &p.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Address = address.String
	return &p, nil
}

// SaveCamera stores a camera with tenant isolation.
func (r *SQLRepository) SaveCamera(ctx context.Context, tenantID string, c *domain.Camera) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if c.PropertyID == "" {
		return fmt.Errorf("%w: camera requires a property", ErrInvalidInput)
	}

	if c.Status == "" {
		c.Status = domain.CameraActive
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO cameras (id, tenant_id, property_id, name, location, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, tenantID, c.PropertyID, c.Name, c.Location, c.Status, c.CreatedAt,
	)
	return err
}

// GetCamera retrieves a camera by ID with tenant isolation.
func (r *SQLRepository) GetCamera(ctx context.Context, tenantID string, cameraID string) (*domain.Camera, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, property_id, name, location, status, created_at
		FROM cameras
		WHERE tenant_id = ? AND id = ?
	`

	var c domain.Camera
	var location sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, cameraID).Scan(
		&c.ID, &c.TenantID, &c.PropertyID, &c.Name, &location, &c.Status, &c.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Location = location.String
	return &c, nil
}

// GetCameraContext resolves camera -> property in one joined read.
// Inactive cameras are treated as not found.
func (r *SQLRepository) GetCameraContext(ctx context.Context, tenantID string, cameraID string) (*domain.Camera, *domain.Property, error) {
	if tenantID == "" {
		return nil, nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT c.id, c.tenant_id, c.property_id, c.name, c.location, c.status, c.created_at,
		       p.id, p.tenant_id, p.name, p.address, p.property_type, p.created_at
		FROM cameras c
		JOIN properties p ON p.id = c.property_id AND p.tenant_id = c.tenant_id
		WHERE c.tenant_id = ? AND c.id = ? AND c.status = ?
	`

	var c domain.Camera
	var p domain.Property
	var location, address sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, cameraID, domain.CameraActive).Scan(
		&c.ID, &c.TenantID, &c.PropertyID, &c.Name, &location, &c.Status, &c.CreatedAt,
		&p.ID, &p.TenantID, &p.Name, &address, &p.PropertyType, &p.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	c.Location = location.String
	p.Address = address.String
	return &c, &p, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
