package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/sitewatch/kestrel/internal/audit"
	"github.com/sitewatch/kestrel/internal/bus"
	"github.com/sitewatch/kestrel/internal/cache"
	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/engine"
	"github.com/sitewatch/kestrel/internal/repository"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
)

const testTenant = "tenant-001"

func newTestWorker(t *testing.T) (*Worker, *bus.ChannelBus, domain.Repository) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "worker-test-*.db")
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

	lru := cache.NewLRUCache(100)
	t.Cleanup(func() { lru.Close() })

	channelBus := bus.NewChannelBus(100)
	t.Cleanup(func() { channelBus.Close() })

	filters, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create filter engine: %v", err)
	}
	t.Cleanup(func() { filters.Close() })

	tmpl := templates.NewService(repo, lru, time.Minute)
	emitter := audit.NewEmitter(channelBus, time.Second)

	eng := engine.New(repo, tmpl, filters, lru, channelBus, emitter, domain.AutomationConfig{
		ChecklistDueIn: 24 * time.Hour,
		CreateTimeout:  5 * time.Second,
		AuditTimeout:   time.Second,
	})

	return NewWorker(channelBus, eng), channelBus, repo
}

func seed(t *testing.T, repo domain.Repository) {
	t.Helper()
	ctx := context.Background()

	if err := repo.SaveProperty(ctx, testTenant, &domain.Property{
		ID:           "prop-001",
		TenantID:     testTenant,
		Name:         "Mill Street Plant",
		PropertyType: "industrial",
	}); err != nil {
		t.Fatalf("failed to save property: %v", err)
	}

	if err := repo.SaveCamera(ctx, testTenant, &domain.Camera{
		ID:         "cam-001",
		TenantID:   testTenant,
		PropertyID: "prop-001",
		Name:       "Turbine Hall",
		Status:     domain.CameraActive,
	}); err != nil {
		t.Fatalf("failed to save camera: %v", err)
	}

	if err := repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
		ID:               "at-equipment",
		TenantID:         testTenant,
		Name:             "Equipment Malfunction",
		Severity:         domain.SeverityHigh,
		AutoCreateTicket: true,
		Enabled:          true,
	}); err != nil {
		t.Fatalf("failed to save alert type: %v", err)
	}
}

func TestWorkerProcessesDetection(t *testing.T) {
	w, channelBus, repo := newTestWorker(t)
	seed(t, repo)

	ctx := context.Background()

	if err := w.Start(Config{TenantIDs: []string{testTenant}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(DetectionMessage{
		CameraID:    "cam-001",
		AlertTypeID: "at-equipment",
		Confidence:  0.85,
	})
	if err := channelBus.Publish(ctx, testTenant, domain.TopicDetectionReceived, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	// Poll for the committed alert.
	deadline := time.Now().Add(2 * time.Second)
	for {
		alerts, err := repo.ListAlerts(ctx, testTenant, domain.AlertFilter{})
		if err != nil {
			t.Fatalf("list alerts failed: %v", err)
		}
		if len(alerts) == 1 {
			if alerts[0].CameraID != "cam-001" {
				t.Errorf("expected camera cam-001, got %s", alerts[0].CameraID)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for async alert, have %d", len(alerts))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestWorkerDropsInvalidDetection(t *testing.T) {
	w, channelBus, repo := newTestWorker(t)
	seed(t, repo)

	ctx := context.Background()

	if err := w.Start(Config{TenantIDs: []string{testTenant}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(DetectionMessage{
		CameraID:    "cam-ghost",
		AlertTypeID: "at-equipment",
	})
	channelBus.Publish(ctx, testTenant, domain.TopicDetectionReceived, payload)

	// Invalid detections are dropped, not retried.
	time.Sleep(100 * time.Millisecond)

	alerts, err := repo.ListAlerts(ctx, testTenant, domain.AlertFilter{})
	if err != nil {
		t.Fatalf("list alerts failed: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no alerts for invalid detection, got %d", len(alerts))
	}
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if err := w.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerStop(t *testing.T) {
	w, channelBus, repo := newTestWorker(t)
	seed(t, repo)

	ctx := context.Background()

	if err := w.Start(Config{TenantIDs: []string{testTenant}}); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if w.GetStats().SubscriptionCount != 0 {
		t.Error("expected no subscriptions after stop")
	}

	payload, _ := json.Marshal(DetectionMessage{
		CameraID:    "cam-001",
		AlertTypeID: "at-equipment",
	})
	channelBus.Publish(ctx, testTenant, domain.TopicDetectionReceived, payload)
	time.Sleep(50 * time.Millisecond)

	alerts, _ := repo.ListAlerts(ctx, testTenant, domain.AlertFilter{})
	if len(alerts) != 0 {
		t.Errorf("expected no processing after stop, got %d alerts", len(alerts))
	}
}
