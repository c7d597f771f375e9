package templates

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sitewatch/kestrel/internal/cache"
	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/repository"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "templates-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestTemplateService(t *testing.T) {
	repo := newTestRepo(t)

	lruCache := cache.NewLRUCache(100)
	defer lruCache.Close()

	svc := NewService(repo, lruCache, 5*time.Minute)

	ctx := context.Background()
	tenantID := "tenant-001"

	tmpl := &domain.ChecklistTemplate{
		ID:            "tpl-001",
		TenantID:      tenantID,
		Name:          "Fire Safety Inspection",
		Category:      "Emergency Response",
		PropertyTypes: []string{"warehouse", "office"},
		Enabled:       true,
	}
	if err := svc.Save(ctx, tenantID, tmpl); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}

	t.Run("FindMatch", func(t *testing.T) {
		got, err := svc.Find(ctx, tenantID, "Emergency Response", "warehouse")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != "tpl-001" {
			t.Errorf("expected tpl-001, got %s", got.ID)
		}
	})

	t.Run("FindCachedMatch", func(t *testing.T) {
		// Second lookup is served from cache.
		got, err := svc.Find(ctx, tenantID, "Emergency Response", "warehouse")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Name != "Fire Safety Inspection" {
			t.Errorf("unexpected template: %s", got.Name)
		}
	})

	t.Run("NoMatchForPropertyType", func(t *testing.T) {
		_, err := svc.Find(ctx, tenantID, "Emergency Response", "retail")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("NoMatchForCategory", func(t *testing.T) {
		_, err := svc.Find(ctx, tenantID, "Maintenance Response", "warehouse")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := svc.Find(ctx, "tenant-002", "Emergency Response", "warehouse")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got: %v", err)
		}
	})

	t.Run("SaveInvalidatesCache", func(t *testing.T) {
		// Prime the cache, then disable the template.
		if _, err := svc.Find(ctx, tenantID, "Emergency Response", "office"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		tmpl.Enabled = false
		if err := svc.Save(ctx, tenantID, tmpl); err != nil {
			t.Fatalf("failed to update template: %v", err)
		}

		_, err := svc.Find(ctx, tenantID, "Emergency Response", "office")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound after disable, got: %v", err)
		}
	})

	t.Run("Exists", func(t *testing.T) {
		ok, err := svc.Exists(ctx, tenantID, "Emergency Response", "retail")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			t.Error("expected no match for retail")
		}
	})

	t.Run("MissingTenant", func(t *testing.T) {
		_, err := svc.Find(ctx, "", "Emergency Response", "warehouse")
		if err == nil {
			t.Error("expected error for missing tenant")
		}
	})
}

func TestTemplateServiceWithoutCache(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, 0)

	ctx := context.Background()
	tenantID := "tenant-001"

	tmpl := &domain.ChecklistTemplate{
		ID:            "tpl-002",
		TenantID:      tenantID,
		Name:          "Security Sweep",
		Category:      "Security Response",
		PropertyTypes: []string{"office"},
		Enabled:       true,
	}
	if err := svc.Save(ctx, tenantID, tmpl); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}

	got, err := svc.Find(ctx, tenantID, "Security Response", "office")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != "tpl-002" {
		t.Errorf("expected tpl-002, got %s", got.ID)
	}
}
