package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordStale()
	if got := testutil.ToFloat64(a.StaleResponses); got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
	if got := testutil.ToFloat64(b.StaleResponses); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
}

func TestMetrics_RecordQuery(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(0, 1, OutcomeOK, 100*time.Millisecond)
	m.RecordQuery(2, 100, OutcomeTransport, time.Second)
	m.RecordQuery(2, 50, OutcomeTransport, time.Second)

	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("2", OutcomeTransport)); got != 2 {
		t.Fatalf("expected 2 transport errors at depth 2, got %f", got)
	}
	if got := testutil.ToFloat64(m.QueriesTotal.WithLabelValues("0", OutcomeOK)); got != 1 {
		t.Fatalf("expected 1 ok at depth 0, got %f", got)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()
	m.RecordNodes(5)
	m.RecordNodes(0)
	m.RecordFlip()
	m.RecordCycle("done", 3*time.Second)
	m.SetProgress(2, 40)
	m.SetSSEClients(3)

	if got := testutil.ToFloat64(m.NodesStoredTotal); got != 5 {
		t.Fatalf("expected 5 nodes, got %f", got)
	}
	if got := testutil.ToFloat64(m.ReachabilityFlips); got != 1 {
		t.Fatalf("expected 1 flip, got %f", got)
	}
	if got := testutil.ToFloat64(m.CyclesTotal.WithLabelValues("done")); got != 1 {
		t.Fatalf("expected 1 done cycle, got %f", got)
	}
	if got := testutil.ToFloat64(m.Pending); got != 40 {
		t.Fatalf("expected 40 pending, got %f", got)
	}
	if got := testutil.ToFloat64(m.SSEClients); got != 3 {
		t.Fatalf("expected 3 clients, got %f", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordQuery(0, 1, OutcomeOK, time.Millisecond)
	m.RecordStale()
	m.RecordNodes(1)
	m.RecordFlip()
	m.RecordCycle("done", time.Second)
	m.SetProgress(1, 1)
	m.SetSSEClients(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("expected 404 from nil metrics, got %d", rec.Code)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordQuery(1, 3, OutcomeMalformed, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `bugtracker_fetch_queries_total{depth="1",outcome="malformed"} 1`) {
		t.Fatalf("expected query counter in output:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatal("expected go collector output")
	}
}
