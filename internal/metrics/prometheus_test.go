package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := New()
	m.Inc("joins")
	m.Inc("joins")
	m.Add("chat_messages", 3)

	if got := m.Get("joins"); got != 2 {
		t.Fatalf("joins: got %d", got)
	}
	if got := m.Get("chat_messages"); got != 3 {
		t.Fatalf("chat_messages: got %d", got)
	}
	if got := m.Get("missing"); got != 0 {
		t.Fatalf("missing counter: got %d", got)
	}

	snap := m.Snapshot()
	snap["joins"] = 99
	if m.Get("joins") != 2 {
		t.Fatalf("Snapshot must be a copy")
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc("rooms_created")
	m.Inc("signals_relayed")
	m.Inc("signals_relayed")

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type: got %q", ct)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE pairpad_hub_events_total counter",
		`pairpad_hub_events_total{event="rooms_created"} 1`,
		`pairpad_hub_events_total{event="signals_relayed"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestPrometheusHandlerNilMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 500 {
		t.Fatalf("status: got %d", rec.Code)
	}
}
