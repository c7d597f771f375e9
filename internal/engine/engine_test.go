package engine

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sitewatch/kestrel/internal/audit"
	"github.com/sitewatch/kestrel/internal/bus"
	"github.com/sitewatch/kestrel/internal/cache"
	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/repository"
	"github.com/sitewatch/kestrel/internal/rules"
	"github.com/sitewatch/kestrel/internal/templates"
)

const testTenant = "tenant-001"

type testEnv struct {
	repo    domain.Repository
	engine  *Engine
	filters *rules.Engine
	bus     *bus.ChannelBus
	cache   *cache.LRUCache
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "engine-test-*.db")
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

	eng := New(repo, tmpl, filters, lru, channelBus, emitter, domain.AutomationConfig{
		ChecklistDueIn: 24 * time.Hour,
		CreateTimeout:  5 * time.Second,
		AuditTimeout:   time.Second,
	})

	return &testEnv{repo: repo, engine: eng, filters: filters, bus: channelBus, cache: lru}
}

// seed provisions a property, an active camera and a fire alert type
// with both automation flags, plus an emergency checklist template.
func (env *testEnv) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if err := env.repo.SaveProperty(ctx, testTenant, &domain.Property{
		ID:           "prop-001",
		TenantID:     testTenant,
		Name:         "Riverside Warehouse",
		PropertyType: "warehouse",
	}); err != nil {
		t.Fatalf("failed to save property: %v", err)
	}

	if err := env.repo.SaveCamera(ctx, testTenant, &domain.Camera{
		ID:         "cam-001",
		TenantID:   testTenant,
		PropertyID: "prop-001",
		Name:       "Loading Dock",
		Location:   "north entrance",
		Status:     domain.CameraActive,
	}); err != nil {
		t.Fatalf("failed to save camera: %v", err)
	}

	if err := env.repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
		ID:                  "at-fire",
		TenantID:            testTenant,
		Name:                "Fire/Smoke Detection",
		Severity:            domain.SeverityCritical,
		AutoCreateTicket:    true,
		AutoCreateChecklist: true,
		Enabled:             true,
	}); err != nil {
		t.Fatalf("failed to save alert type: %v", err)
	}

	if err := env.repo.SaveTemplate(ctx, testTenant, &domain.ChecklistTemplate{
		ID:            "tpl-emergency",
		TenantID:      testTenant,
		Name:          "Emergency Walkthrough",
		Category:      "Emergency Response",
		PropertyTypes: []string{"warehouse"},
		Enabled:       true,
	}); err != nil {
		t.Fatalf("failed to save template: %v", err)
	}
}

func TestIngestFullPipeline(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.95,
		Metadata:    map[string]any{"zone": "dock-3"},
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if created.Alert.Status != domain.AlertActive {
		t.Errorf("expected active alert, got %s", created.Alert.Status)
	}
	if created.TicketID == "" {
		t.Error("expected auto-created ticket")
	}
	if created.ChecklistID == "" {
		t.Error("expected auto-created checklist")
	}
	if created.LinkID == "" {
		t.Error("expected alert-checklist link")
	}
	if len(created.Skips) != 0 {
		t.Errorf("expected no skips, got %v", created.Skips)
	}

	// Snapshot metadata survives on the alert.
	if created.Alert.Metadata["property_name"] != "Riverside Warehouse" {
		t.Errorf("expected property snapshot in metadata, got %v", created.Alert.Metadata)
	}
	if created.Alert.Metadata["zone"] != "dock-3" {
		t.Error("expected producer metadata to be preserved")
	}

	// Derived entities are committed and readable.
	ticket, err := env.repo.GetTicket(ctx, testTenant, created.TicketID)
	if err != nil {
		t.Fatalf("failed to read ticket: %v", err)
	}
	if ticket.Priority != domain.PriorityUrgent {
		t.Errorf("expected urgent priority for critical severity, got %s", ticket.Priority)
	}
	if ticket.AlertID != created.Alert.ID {
		t.Errorf("expected ticket bound to alert %s, got %s", created.Alert.ID, ticket.AlertID)
	}
	if ticket.Status != domain.TicketOpen {
		t.Errorf("expected open ticket, got %s", ticket.Status)
	}

	checklist, err := env.repo.GetChecklist(ctx, testTenant, created.ChecklistID)
	if err != nil {
		t.Fatalf("failed to read checklist: %v", err)
	}
	if checklist.TemplateID != "tpl-emergency" {
		t.Errorf("expected emergency template, got %s", checklist.TemplateID)
	}
	if checklist.Status != domain.ChecklistPending {
		t.Errorf("expected pending checklist, got %s", checklist.Status)
	}

	wantDue := created.Alert.CreatedAt.Add(24 * time.Hour)
	if !checklist.DueAt.Equal(wantDue) {
		t.Errorf("expected due at %v, got %v", wantDue, checklist.DueAt)
	}

	link, err := env.repo.GetLinkByAlert(ctx, testTenant, created.Alert.ID)
	if err != nil {
		t.Fatalf("failed to read link: %v", err)
	}
	if !link.AutoGenerated {
		t.Error("expected auto-generated link")
	}
	if link.TriggerReason != "Auto-generated from Fire/Smoke Detection alert" {
		t.Errorf("unexpected trigger reason: %s", link.TriggerReason)
	}
}

func TestIngestMissingTemplateSkipsChecklist(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	// Security alert type has no matching template seeded.
	if err := env.repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
		ID:                  "at-intrusion",
		TenantID:            testTenant,
		Name:                "Unauthorized Access",
		Severity:            domain.SeverityHigh,
		AutoCreateTicket:    true,
		AutoCreateChecklist: true,
		Enabled:             true,
	}); err != nil {
		t.Fatalf("failed to save alert type: %v", err)
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-intrusion",
		Confidence:  0.8,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if created.TicketID == "" {
		t.Error("expected ticket despite missing template")
	}
	if created.ChecklistID != "" {
		t.Error("expected no checklist without template")
	}
	if len(created.Skips) != 1 {
		t.Fatalf("expected 1 skip, got %v", created.Skips)
	}

	// Alert and ticket still committed.
	if _, err := env.repo.GetAlert(ctx, testTenant, created.Alert.ID); err != nil {
		t.Errorf("expected alert committed: %v", err)
	}

	ticket, err := env.repo.GetTicket(ctx, testTenant, created.TicketID)
	if err != nil {
		t.Fatalf("failed to read ticket: %v", err)
	}
	if ticket.Priority != domain.PriorityHigh {
		t.Errorf("expected high priority for high severity, got %s", ticket.Priority)
	}
}

func TestIngestNoAutomation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	if err := env.repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
		ID:       "at-loiter",
		TenantID: testTenant,
		Name:     "Loitering",
		Severity: domain.SeverityLow,
		Enabled:  true,
	}); err != nil {
		t.Fatalf("failed to save alert type: %v", err)
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-loiter",
		Confidence:  0.6,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if created.TicketID != "" || created.ChecklistID != "" {
		t.Error("expected bare alert with no derived entities")
	}
	if created.Alert.Status != domain.AlertActive {
		t.Errorf("expected active alert, got %s", created.Alert.Status)
	}
}

func TestIngestClassificationFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	t.Run("UnknownCamera", func(t *testing.T) {
		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-missing",
			AlertTypeID: "at-fire",
		})
		if !errors.Is(err, ErrCameraNotFound) {
			t.Errorf("expected ErrCameraNotFound, got: %v", err)
		}
	})

	t.Run("InactiveCamera", func(t *testing.T) {
		if err := env.repo.SaveCamera(ctx, testTenant, &domain.Camera{
			ID:         "cam-off",
			TenantID:   testTenant,
			PropertyID: "prop-001",
			Name:       "Decommissioned",
			Status:     domain.CameraInactive,
		}); err != nil {
			t.Fatalf("failed to save camera: %v", err)
		}

		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-off",
			AlertTypeID: "at-fire",
		})
		if !errors.Is(err, ErrCameraNotFound) {
			t.Errorf("expected ErrCameraNotFound for inactive camera, got: %v", err)
		}
	})

	t.Run("UnknownAlertType", func(t *testing.T) {
		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-missing",
		})
		if !errors.Is(err, ErrAlertTypeNotFound) {
			t.Errorf("expected ErrAlertTypeNotFound, got: %v", err)
		}
	})

	t.Run("DisabledAlertType", func(t *testing.T) {
		if err := env.repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
			ID:       "at-disabled",
			TenantID: testTenant,
			Name:     "Disabled Type",
			Severity: domain.SeverityLow,
			Enabled:  false,
		}); err != nil {
			t.Fatalf("failed to save alert type: %v", err)
		}

		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-disabled",
		})
		if !errors.Is(err, ErrAlertTypeNotFound) {
			t.Errorf("expected ErrAlertTypeNotFound for disabled type, got: %v", err)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{})
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("ConfidenceOutOfRange", func(t *testing.T) {
		_, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-fire",
			Confidence:  1.5,
		})
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := env.engine.Ingest(ctx, "tenant-other", &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-fire",
		})
		if !errors.Is(err, ErrCameraNotFound) {
			t.Errorf("expected ErrCameraNotFound across tenants, got: %v", err)
		}
	})
}

func TestIngestSuppressFilter(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	if err := env.filters.LoadRule(&domain.FilterRule{
		ID:         "low-confidence",
		TenantID:   testTenant,
		Expression: "confidence < 0.5",
		Action:     domain.FilterSuppress,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load filter rule: %v", err)
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.2,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// A suppressed detection still records the alert but skips all
	// automation.
	if created.TicketID != "" || created.ChecklistID != "" {
		t.Error("expected no derived entities for suppressed detection")
	}
	if len(created.Skips) == 0 {
		t.Error("expected suppression skip to be recorded")
	}
	if _, err := env.repo.GetAlert(ctx, testTenant, created.Alert.ID); err != nil {
		t.Errorf("expected suppressed alert committed: %v", err)
	}
}

func TestIngestEscalateFilter(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	if err := env.repo.SaveAlertType(ctx, testTenant, &domain.AlertType{
		ID:               "at-equipment",
		TenantID:         testTenant,
		Name:             "Equipment Malfunction",
		Severity:         domain.SeverityMedium,
		AutoCreateTicket: true,
		Enabled:          true,
	}); err != nil {
		t.Fatalf("failed to save alert type: %v", err)
	}

	if err := env.filters.LoadRule(&domain.FilterRule{
		ID:         "after-hours",
		TenantID:   testTenant,
		Expression: `metadata.after_hours == true`,
		Action:     domain.FilterEscalate,
		Severity:   domain.SeverityCritical,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load filter rule: %v", err)
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-equipment",
		Confidence:  0.9,
		Metadata:    map[string]any{"after_hours": true},
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	ticket, err := env.repo.GetTicket(ctx, testTenant, created.TicketID)
	if err != nil {
		t.Fatalf("failed to read ticket: %v", err)
	}
	if ticket.Priority != domain.PriorityUrgent {
		t.Errorf("expected escalated urgent priority, got %s", ticket.Priority)
	}
}

func TestIngestFilterTenantScoping(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	// Another tenant's suppress rule must never touch this tenant's
	// automation, even though both live in the same engine process.
	if err := env.filters.LoadRule(&domain.FilterRule{
		ID:         "other-tenant-mute",
		TenantID:   "tenant-002",
		Expression: "true",
		Action:     domain.FilterSuppress,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load filter rule: %v", err)
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.95,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if created.TicketID == "" || created.ChecklistID == "" {
		t.Errorf("another tenant's rule suppressed this tenant's automation: %+v", created)
	}
	if len(created.Skips) != 0 {
		t.Errorf("expected no skips, got %v", created.Skips)
	}

	// A global rule applies to every tenant.
	if err := env.filters.LoadRule(&domain.FilterRule{
		ID:         "global-mute",
		TenantID:   domain.GlobalTenant,
		Expression: "true",
		Action:     domain.FilterSuppress,
		Enabled:    true,
	}); err != nil {
		t.Fatalf("failed to load filter rule: %v", err)
	}

	created, err = env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.95,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if created.TicketID != "" || created.ChecklistID != "" {
		t.Error("expected global rule to suppress automation")
	}
}

func TestIngestRateAccounting(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-fire",
			Confidence:  0.9,
		}); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	// Each ingest bumps the per-camera counter, so the next increment
	// observes the two pipeline runs.
	count, err := env.cache.IncrementCounter(ctx, testTenant, "ingest:cam-001", time.Minute)
	if err != nil {
		t.Fatalf("counter read failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected counter at 3 after two ingests, got %d", count)
	}
}

func TestResolveLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	resolved, err := env.engine.Resolve(ctx, testTenant, created.Alert.ID, &domain.ResolveRequest{
		ResolverID: "user-007",
		Notes:      "false alarm, steam from kitchen vent",
	})
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if resolved.Status != domain.AlertResolved {
		t.Errorf("expected resolved status, got %s", resolved.Status)
	}
	if resolved.ResolvedBy != "user-007" {
		t.Errorf("expected resolver user-007, got %s", resolved.ResolvedBy)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected resolved timestamp")
	}
	if resolved.ResolutionNotes != "false alarm, steam from kitchen vent" {
		t.Errorf("unexpected notes: %s", resolved.ResolutionNotes)
	}

	t.Run("AlreadyResolved", func(t *testing.T) {
		_, err := env.engine.Resolve(ctx, testTenant, created.Alert.ID, &domain.ResolveRequest{
			ResolverID: "user-008",
		})
		if !errors.Is(err, repository.ErrAlertNotActive) {
			t.Errorf("expected ErrAlertNotActive, got: %v", err)
		}

		// First resolution is untouched.
		alert, err := env.repo.GetAlert(ctx, testTenant, created.Alert.ID)
		if err != nil {
			t.Fatalf("failed to read alert: %v", err)
		}
		if alert.ResolvedBy != "user-007" {
			t.Errorf("expected original resolver preserved, got %s", alert.ResolvedBy)
		}
	})

	t.Run("MissingAlert", func(t *testing.T) {
		_, err := env.engine.Resolve(ctx, testTenant, "alert-missing", &domain.ResolveRequest{
			ResolverID: "user-007",
		})
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("MissingResolver", func(t *testing.T) {
		_, err := env.engine.Resolve(ctx, testTenant, created.Alert.ID, &domain.ResolveRequest{})
		if !errors.Is(err, repository.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
			CameraID:    "cam-001",
			AlertTypeID: "at-fire",
			Confidence:  0.9,
		}); err != nil {
			t.Fatalf("ingest failed: %v", err)
		}
	}

	created, err := env.engine.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if _, err := env.engine.Resolve(ctx, testTenant, created.Alert.ID, &domain.ResolveRequest{ResolverID: "user-001"}); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	stats, err := env.engine.Stats(ctx, testTenant, "")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("expected 4 total, got %d", stats.Total)
	}
	if stats.Active != 3 {
		t.Errorf("expected 3 active, got %d", stats.Active)
	}
	if stats.Resolved != 1 {
		t.Errorf("expected 1 resolved, got %d", stats.Resolved)
	}
	if stats.Today != 4 {
		t.Errorf("expected 4 today, got %d", stats.Today)
	}

	t.Run("PropertyScoped", func(t *testing.T) {
		stats, err := env.engine.Stats(ctx, testTenant, "prop-001")
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.Total != 4 {
			t.Errorf("expected 4 total for property, got %d", stats.Total)
		}

		stats, err = env.engine.Stats(ctx, testTenant, "prop-other")
		if err != nil {
			t.Fatalf("stats failed: %v", err)
		}
		if stats.Total != 0 {
			t.Errorf("expected 0 for unknown property, got %d", stats.Total)
		}
	})
}

func TestZeroConfigDefaults(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)
	ctx := context.Background()

	// An engine built with a zero config must still publish events:
	// every timeout gets a working default.
	tmpl := templates.NewService(env.repo, env.cache, time.Minute)
	emitter := audit.NewEmitter(env.bus, time.Second)
	eng := New(env.repo, tmpl, env.filters, env.cache, env.bus, emitter, domain.AutomationConfig{})

	received := make(chan *domain.Message, 1)
	sub, err := env.bus.Subscribe(ctx, testTenant, domain.TopicAlertCreated, func(_ context.Context, msg *domain.Message) error {
		select {
		case received <- msg:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	created, err := eng.Ingest(ctx, testTenant, &domain.DetectionRequest{
		CameraID:    "cam-001",
		AlertTypeID: "at-fire",
		Confidence:  0.9,
	})
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if created.ChecklistID == "" {
		t.Error("expected auto-created checklist with default due-in")
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("alert created event was not published")
	}
}
