package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_nilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("full", time.Second)
	m.IncTooltipRender()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTPRequest(http.MethodGet, "/health", http.StatusOK, 3*time.Millisecond)
	m.ObserveTransition("full", 200*time.Millisecond)
	m.ObserveTransition("light", 0)
	m.ObserveRouting("cache_hit", 0)
	m.SetMeasurementRecords(2)
	m.IncTooltipRender()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	m.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	body := rr.Body.String()
	for _, want := range []string{
		`platmap_http_requests_total{method="GET",path="/health",status="200"} 1`,
		`platmap_style_transitions_total{path="full"} 1`,
		`platmap_style_transitions_total{path="light"} 1`,
		`platmap_style_transition_duration_seconds_count 1`,
		`platmap_routing_requests_total{result="cache_hit"} 1`,
		`platmap_measurement_records 2`,
		`platmap_tooltip_renders_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in body", want)
		}
	}
}
