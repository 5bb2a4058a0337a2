package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// OTLPExporter sends metrics in OpenTelemetry Protocol JSON format.
type OTLPExporter struct {
	endpoint string
	client   *http.Client
}

// NewOTLPExporter creates a new OTLP exporter
func NewOTLPExporter(endpoint string) *OTLPExporter {
	return &OTLPExporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Simplified OTLP JSON representation. Counters map to monotonic sums,
// gauges and timers map to gauges.
type otlpMetricsPayload struct {
	ResourceMetrics []otlpResourceMetrics `json:"resourceMetrics"`
}

type otlpResourceMetrics struct {
	Resource     otlpResource       `json:"resource"`
	ScopeMetrics []otlpScopeMetrics `json:"scopeMetrics"`
}

type otlpResource struct {
	Attributes []otlpAttribute `json:"attributes"`
}

type otlpScopeMetrics struct {
	Scope   otlpScope    `json:"scope"`
	Metrics []otlpMetric `json:"metrics"`
}

type otlpScope struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type otlpMetric struct {
	Name  string     `json:"name"`
	Unit  string     `json:"unit,omitempty"`
	Sum   *otlpSum   `json:"sum,omitempty"`
	Gauge *otlpGauge `json:"gauge,omitempty"`
}

type otlpSum struct {
	DataPoints             []otlpNumberDataPoint `json:"dataPoints"`
	AggregationTemporality int                   `json:"aggregationTemporality"`
	IsMonotonic            bool                  `json:"isMonotonic"`
}

type otlpGauge struct {
	DataPoints []otlpNumberDataPoint `json:"dataPoints"`
}

type otlpNumberDataPoint struct {
	Attributes   []otlpAttribute `json:"attributes,omitempty"`
	TimeUnixNano int64           `json:"timeUnixNano"`
	AsDouble     float64         `json:"asDouble"`
}

type otlpAttribute struct {
	Key   string    `json:"key"`
	Value otlpValue `json:"value"`
}

type otlpValue struct {
	StringValue string `json:"stringValue,omitempty"`
}

// Export sends metrics to the OTLP endpoint.
func (e *OTLPExporter) Export(metrics []Metric) error {
	if len(metrics) == 0 {
		return nil
	}

	data, err := json.Marshal(e.convert(metrics))
	if err != nil {
		return fmt.Errorf("marshal OTLP payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("OTLP endpoint returned status %d", resp.StatusCode)
	}

	log.Debug().
		Str("endpoint", e.endpoint).
		Int("metric_count", len(metrics)).
		Msg("Exported metrics via OTLP")
	return nil
}

// convert maps internal metrics to the OTLP payload shape.
func (e *OTLPExporter) convert(metrics []Metric) otlpMetricsPayload {
	otlpMetrics := make([]otlpMetric, 0, len(metrics))
	for _, metric := range metrics {
		var attributes []otlpAttribute
		for k, v := range metric.Labels {
			attributes = append(attributes, otlpAttribute{Key: k, Value: otlpValue{StringValue: v}})
		}
		dp := otlpNumberDataPoint{
			Attributes:   attributes,
			TimeUnixNano: metric.Timestamp.UnixNano(),
			AsDouble:     metric.Value,
		}
		m := otlpMetric{Name: metric.Name, Unit: metric.Unit}
		if metric.Type == Counter {
			m.Sum = &otlpSum{
				DataPoints:             []otlpNumberDataPoint{dp},
				AggregationTemporality: 2, // CUMULATIVE
				IsMonotonic:            true,
			}
		} else {
			m.Gauge = &otlpGauge{DataPoints: []otlpNumberDataPoint{dp}}
		}
		otlpMetrics = append(otlpMetrics, m)
	}

	return otlpMetricsPayload{
		ResourceMetrics: []otlpResourceMetrics{{
			Resource: otlpResource{
				Attributes: []otlpAttribute{
					{Key: "service.name", Value: otlpValue{StringValue: "auto-worker-a1111"}},
				},
			},
			ScopeMetrics: []otlpScopeMetrics{{
				Scope:   otlpScope{Name: "a1111-telemetry", Version: "1.0.0"},
				Metrics: otlpMetrics,
			}},
		}},
	}
}
