// Package worker provides async detection processing from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sitewatch/kestrel/internal/domain"
	"github.com/sitewatch/kestrel/internal/engine"
)

// Worker consumes detections published to the bus and runs them through
// the automation pipeline. It serves producers that cannot wait on the
// synchronous HTTP path, such as NVR gateways batching detections.
type Worker struct {
	bus    domain.EventBus
	engine *engine.Engine

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string
}

// NewWorker creates a new async detection worker.
func NewWorker(bus domain.EventBus, eng *engine.Engine) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		engine: eng,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing detections for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicDetectionReceived, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts a worker for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicDetectionReceived, func(ctx context.Context, msg *domain.Message) error {
		return w.processDetection(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicDetectionReceived,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processDetection(ctx, msg.TenantID, msg)
}

// DetectionMessage is the message payload for async detection ingest.
type DetectionMessage struct {
	TenantID    string         `json:"tenantId,omitempty"`
	CameraID    string         `json:"camera_id"`
	AlertTypeID string         `json:"alert_type_id"`
	Confidence  float64        `json:"confidence_score,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// processDetection runs one bus-delivered detection through the engine.
// Classification failures are logged and dropped, not retried: a
// detection naming an unknown camera will never become valid.
func (w *Worker) processDetection(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var det DetectionMessage
	if err := json.Unmarshal(msg.Payload, &det); err != nil {
		slog.Error("failed to parse detection message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if det.TenantID != "" {
		tenantID = det.TenantID
	}

	created, err := w.engine.Ingest(ctx, tenantID, &domain.DetectionRequest{
		CameraID:    det.CameraID,
		AlertTypeID: det.AlertTypeID,
		Confidence:  det.Confidence,
		Metadata:    det.Metadata,
	})
	if err != nil {
		slog.Error("async detection failed",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"camera_id", det.CameraID,
			"error", err,
		)
		return err
	}

	slog.Info("detection processed",
		"alert_id", created.Alert.ID,
		"tenant_id", tenantID,
		"ticket_id", created.TicketID,
		"checklist_id", created.ChecklistID,
		"skips", len(created.Skips),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
