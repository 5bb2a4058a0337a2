package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a health check result
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration"`
}

// MonitoringServer exposes the handler's health and metric state over HTTP.
// Checks are registered by the handler main for the backend API, the job
// journal, and the broker connection.
type MonitoringServer struct {
	collector    *Collector
	healthChecks map[string]func() HealthCheck
	server       *http.Server
}

// NewMonitoringServer creates a new monitoring server
func NewMonitoringServer(addr string, collector *Collector) *MonitoringServer {
	ms := &MonitoringServer{
		collector:    collector,
		healthChecks: make(map[string]func() HealthCheck),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", ms.healthHandler)
	mux.HandleFunc("/api/metrics", ms.metricsHandler)
	ms.server = &http.Server{Addr: addr, Handler: mux}
	return ms
}

// RegisterHealthCheck registers a health check function
func (ms *MonitoringServer) RegisterHealthCheck(name string, checkFn func() HealthCheck) {
	ms.healthChecks[name] = checkFn
}

// healthHandler aggregates registered checks; any unhealthy check makes the
// endpoint answer 503.
func (ms *MonitoringServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	checks := ms.runHealthChecks()

	overall := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			overall = HealthStatusUnhealthy
			break
		} else if check.Status == HealthStatusDegraded {
			overall = HealthStatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if overall != HealthStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now(),
		"checks":    checks,
	})
}

// metricsHandler provides a JSON dump of buffered metrics
func (ms *MonitoringServer) metricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ms.collector.GetMetrics())
}

// runHealthChecks executes all registered health checks
func (ms *MonitoringServer) runHealthChecks() []HealthCheck {
	var checks []HealthCheck
	for _, checkFn := range ms.healthChecks {
		start := time.Now()
		check := checkFn()
		check.Duration = time.Since(start)
		check.LastChecked = time.Now()
		checks = append(checks, check)
	}
	return checks
}

// Start starts the monitoring server
func (ms *MonitoringServer) Start() error {
	log.Info().Str("addr", ms.server.Addr).Msg("Starting monitoring server")
	return ms.server.ListenAndServe()
}

// Shutdown gracefully shuts down the monitoring server
func (ms *MonitoringServer) Shutdown() error {
	if ms.server != nil {
		return ms.server.Close()
	}
	return nil
}
