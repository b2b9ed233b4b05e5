package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.GateStage("type", "rejected", time.Millisecond)
	m.QuotaDegraded()
	m.JobEnqueued("welcome")
	m.JobProcessed("welcome", "completed", time.Second)
	m.FanOutItems("event-update", 1, 1)
	m.RecurringResult("created")
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.GateStage("signature", "rejected", 2*time.Millisecond)
	m.GateStage("signature", "rejected", time.Millisecond)
	m.QuotaDegraded()

	if got := testutil.ToFloat64(m.gateDecisions.WithLabelValues("signature", "rejected")); got != 2 {
		t.Fatalf("gate decisions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.quotaDegraded); got != 1 {
		t.Fatalf("quota degraded = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "eventsphere_upload_gate_decisions_total") {
		t.Fatal("metrics output is missing gate decisions")
	}
}
