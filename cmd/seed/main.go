// Seed tool for loading demo data into Kestrel and firing detections.
//
// Usage:
//   go run cmd/seed/main.go -url http://localhost:8080
//   go run cmd/seed/main.go -url http://localhost:8080 -detections 5000 -workers 20
//
// This tool:
//   1. Provisions demo properties, cameras, alert types and templates
//   2. Installs a suppress rule for low-confidence parking detections
//   3. Fires synthetic detections at the ingest endpoint
//   4. Reports throughput and automation outcome counts
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DetectionRequest is the Kestrel ingest request format.
type DetectionRequest struct {
	CameraID    string         `json:"camera_id"`
	AlertTypeID string         `json:"alert_type_id"`
	Confidence  float64        `json:"confidence_score"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DetectionResponse is the Kestrel ingest response format.
type DetectionResponse struct {
	AlertID     string   `json:"alertId"`
	Status      string   `json:"status"`
	TicketID    string   `json:"ticketId,omitempty"`
	ChecklistID string   `json:"checklistId,omitempty"`
	Skips       []string `json:"skips,omitempty"`
}

// Metrics tracks seeding results.
type Metrics struct {
	TotalSent      int64
	AlertsCreated  int64
	TicketsCreated int64
	ChecklistsMade int64
	Skips          int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

type site struct {
	propertyID   string
	propertyType string
	cameras      []string
}

var sites = []site{
	{"prop-harborview", "commercial", []string{"cam-hv-lobby", "cam-hv-garage", "cam-hv-roof"}},
	{"prop-granite", "industrial", []string{"cam-gr-gate", "cam-gr-yard"}},
	{"prop-elmwood", "residential", []string{"cam-el-entrance"}},
}

var alertTypes = []string{"at-intrusion", "at-fire", "at-loiter", "at-vehicle"}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "demo-tenant", "Tenant ID for requests")
	detections := flag.Int("detections", 1000, "Number of detections to fire (0 = provision only)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each detection result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL SEED - Demo Data Loader                  ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Detections:  %d\n", *detections)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	client := &http.Client{Timeout: 10 * time.Second}

	fmt.Println("\nProvisioning demo catalog...")
	if err := provision(client, *baseURL, *tenantID); err != nil {
		fmt.Printf("ERROR: Provisioning failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Provisioned %d properties, %d alert types, 2 templates, 1 filter rule\n",
		len(sites), len(alertTypes))

	if *detections <= 0 {
		fmt.Println("\nDone (provision only).")
		return
	}

	fmt.Printf("\nFiring %d detections with %d workers...\n", *detections, *workers)
	startTime := time.Now()
	metrics := fireDetections(*detections, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func post(client *http.Client, baseURL, tenantID, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", tenantID)
	return client.Do(req)
}

func postOK(client *http.Client, baseURL, tenantID, path string, body any) error {
	resp, err := post(client, baseURL, tenantID, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	return nil
}

func provision(client *http.Client, baseURL, tenantID string) error {
	propertyNames := map[string]string{
		"prop-harborview": "Harborview Offices",
		"prop-granite":    "Granite Park Depot",
		"prop-elmwood":    "Elmwood Residences",
	}

	for _, s := range sites {
		err := postOK(client, baseURL, tenantID, "/properties", map[string]any{
			"id":           s.propertyID,
			"name":         propertyNames[s.propertyID],
			"propertyType": s.propertyType,
		})
		if err != nil {
			return err
		}

		for i, camID := range s.cameras {
			err := postOK(client, baseURL, tenantID, "/cameras", map[string]any{
				"id":         camID,
				"propertyId": s.propertyID,
				"name":       fmt.Sprintf("Camera %d", i+1),
				"status":     "active",
			})
			if err != nil {
				return err
			}
		}
	}

	types := []map[string]any{
		{"id": "at-intrusion", "name": "Unauthorized Access", "severity": "high",
			"autoCreateTicket": true, "autoCreateChecklist": true, "enabled": true},
		{"id": "at-fire", "name": "Fire/Smoke Detection", "severity": "critical",
			"autoCreateTicket": true, "autoCreateChecklist": true, "enabled": true},
		{"id": "at-loiter", "name": "Loitering", "severity": "low",
			"autoCreateTicket": false, "autoCreateChecklist": false, "enabled": true},
		{"id": "at-vehicle", "name": "Vehicle in Restricted Zone", "severity": "medium",
			"autoCreateTicket": true, "autoCreateChecklist": false, "enabled": true},
	}
	for _, at := range types {
		if err := postOK(client, baseURL, tenantID, "/alert-types", at); err != nil {
			return err
		}
	}

	templates := []map[string]any{
		{"id": "tpl-security", "name": "Security Response", "category": "security",
			"propertyTypes": []string{"commercial", "industrial"}, "enabled": true},
		{"id": "tpl-emergency", "name": "Emergency Response", "category": "emergency",
			"propertyTypes": []string{"commercial", "industrial", "residential"}, "enabled": true},
	}
	for _, tpl := range templates {
		if err := postOK(client, baseURL, tenantID, "/templates", tpl); err != nil {
			return err
		}
	}

	return postOK(client, baseURL, tenantID, "/filter-rules", map[string]any{
		"id":         "fr-garage-noise",
		"name":       "mute low-confidence garage detections",
		"expression": `camera_id == "cam-hv-garage" && confidence < 0.6`,
		"action":     "suppress",
		"enabled":    true,
	})
}

func randomDetection(rng *rand.Rand) DetectionRequest {
	s := sites[rng.Intn(len(sites))]
	return DetectionRequest{
		CameraID:    s.cameras[rng.Intn(len(s.cameras))],
		AlertTypeID: alertTypes[rng.Intn(len(alertTypes))],
		Confidence:  0.4 + rng.Float64()*0.6,
		Metadata: map[string]any{
			"frame":  rng.Intn(100000),
			"source": "seed",
		},
	}
}

func fireDetections(count int, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan DetectionRequest, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for det := range work {
				start := time.Now()
				result, err := sendDetection(client, baseURL, tenantID, det)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalSent, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s/%s -> %v\n", det.CameraID, det.AlertTypeID, err)
					}
					continue
				}

				atomic.AddInt64(&metrics.AlertsCreated, 1)
				if result.TicketID != "" {
					atomic.AddInt64(&metrics.TicketsCreated, 1)
				}
				if result.ChecklistID != "" {
					atomic.AddInt64(&metrics.ChecklistsMade, 1)
				}
				atomic.AddInt64(&metrics.Skips, int64(len(result.Skips)))

				if verbose {
					fmt.Printf("✓ %s %s -> alert %s (ticket=%q checklist=%q skips=%d)\n",
						det.CameraID, det.AlertTypeID, result.AlertID,
						result.TicketID, result.ChecklistID, len(result.Skips))
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < count; i++ {
		work <- randomDetection(rng)
	}
	close(work)
	wg.Wait()

	return metrics
}

func sendDetection(client *http.Client, baseURL, tenantID string, det DetectionRequest) (*DetectionResponse, error) {
	resp, err := post(client, baseURL, tenantID, "/detections", det)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DetectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	avgMs := float64(0)
	if m.TotalSent > 0 {
		avgMs = float64(m.ProcessingTimeMs) / float64(m.TotalSent)
	}
	throughput := float64(m.TotalSent) / duration.Seconds()

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                         RESULTS                               ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nDetections sent:     %d\n", m.TotalSent)
	fmt.Printf("Alerts created:      %d\n", m.AlertsCreated)
	fmt.Printf("Tickets created:     %d\n", m.TicketsCreated)
	fmt.Printf("Checklists created:  %d\n", m.ChecklistsMade)
	fmt.Printf("Automation skips:    %d\n", m.Skips)
	fmt.Printf("Errors:              %d\n", m.TotalErrors)
	fmt.Printf("\nDuration:            %s\n", duration.Round(time.Millisecond))
	fmt.Printf("Throughput:          %.1f detections/sec\n", throughput)
	fmt.Printf("Avg latency:         %.1f ms\n", avgMs)
	fmt.Println()
}
