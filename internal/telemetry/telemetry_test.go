package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCollectorBuffersMetrics(t *testing.T) {
	c := NewCollector(true, "")
	defer c.Shutdown()

	c.Counter("jobs_total", 1, map[string]string{"status": "completed"})
	c.Gauge("queue_depth", 4, nil)
	c.Timer("inference_duration", 1200*time.Millisecond, nil)

	metrics := c.GetMetrics()
	if len(metrics) != 3 {
		t.Fatalf("Expected 3 metrics, got %d", len(metrics))
	}
	if metrics[0].Type != Counter || metrics[1].Type != Gauge || metrics[2].Type != Timer {
		t.Errorf("Unexpected metric types: %v %v %v", metrics[0].Type, metrics[1].Type, metrics[2].Type)
	}
	if metrics[2].Value != 1200 || metrics[2].Unit != "ms" {
		t.Errorf("Expected timer value 1200ms, got %v %s", metrics[2].Value, metrics[2].Unit)
	}
}

func TestCollectorDisabled(t *testing.T) {
	c := NewCollector(false, "")
	c.Counter("jobs_total", 1, nil)
	if got := c.GetMetrics(); len(got) != 0 {
		t.Errorf("Expected no metrics when disabled, got %d", len(got))
	}
}

func TestFlushClearsBuffer(t *testing.T) {
	c := NewCollector(true, "")
	defer c.Shutdown()

	c.Counter("jobs_total", 1, nil)
	if err := c.FlushMetrics(); err != nil {
		t.Fatalf("FlushMetrics failed: %v", err)
	}
	if got := c.GetMetrics(); len(got) != 0 {
		t.Errorf("Expected empty buffer after flush, got %d", len(got))
	}
}

func TestOTLPExport(t *testing.T) {
	var received bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received = true
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Unexpected content type %s", r.Header.Get("Content-Type"))
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("Decode payload failed: %v", err)
		}
		if _, ok := payload["resourceMetrics"]; !ok {
			t.Error("Expected resourceMetrics in OTLP payload")
		}
	}))
	defer ts.Close()

	c := NewCollector(true, ts.URL)
	defer c.Shutdown()
	c.Counter("jobs_total", 2, map[string]string{"status": "failed"})
	if err := c.FlushMetrics(); err != nil {
		t.Fatalf("FlushMetrics failed: %v", err)
	}
	if !received {
		t.Error("Expected OTLP endpoint to receive metrics")
	}
}

func TestMonitoringServerHealth(t *testing.T) {
	ms := NewMonitoringServer(":0", NewCollector(false, ""))
	ms.RegisterHealthCheck("backend", func() HealthCheck {
		return HealthCheck{Name: "backend", Status: HealthStatusHealthy}
	})

	rec := httptest.NewRecorder()
	ms.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for healthy checks, got %d", rec.Code)
	}

	ms.RegisterHealthCheck("broker", func() HealthCheck {
		return HealthCheck{Name: "broker", Status: HealthStatusUnhealthy, Message: "connection refused"}
	})
	rec = httptest.NewRecorder()
	ms.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for unhealthy check, got %d", rec.Code)
	}
}

func TestMonitoringServerMetrics(t *testing.T) {
	c := NewCollector(true, "")
	defer c.Shutdown()
	c.Counter("jobs_total", 1, nil)

	ms := NewMonitoringServer(":0", c)
	rec := httptest.NewRecorder()
	ms.metricsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var metrics []Metric
	if err := json.NewDecoder(rec.Body).Decode(&metrics); err != nil {
		t.Fatalf("Decode metrics failed: %v", err)
	}
	if len(metrics) != 1 || metrics[0].Name != "jobs_total" {
		t.Errorf("Unexpected metrics dump: %+v", metrics)
	}
}
