package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric returns the first series of the named family whose labels
// include every pair in labels.
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			matched := 0
			for _, lp := range m.GetLabel() {
				if v, ok := labels[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(labels) {
				return m
			}
		}
	}
	return nil
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, nil)

	w := env.do(t, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, nil)

	if w := env.do(t, http.MethodPost, "/api/chat", `{"message":"what is margin?"}`, ""); w.Code != http.StatusOK {
		t.Fatalf("chat status = %d, body %s", w.Code, w.Body.String())
	}

	m := findMetric(t, env.reg, "kbai_chat_requests_total", map[string]string{"outcome": "ok"})
	if m == nil {
		t.Fatal(`kbai_chat_requests_total{outcome="ok"} not found in gathered metrics`)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Errorf("want counter=1, got %v", got)
	}
	if findMetric(t, env.reg, "kbai_chat_duration_seconds", map[string]string{"outcome": "ok"}) == nil {
		t.Error("kbai_chat_duration_seconds not observed")
	}
}

func Test_Metrics_HTTPRequestsByPattern(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, nil)

	env.do(t, http.MethodGet, "/api/health", "", "")
	env.do(t, http.MethodGet, "/api/health", "", "")
	env.do(t, http.MethodGet, "/no/such/route", "", "")

	health := findMetric(t, env.reg, "kbai_http_requests_total",
		map[string]string{"method": "GET", "handler": "GET /api/health", "code": "200"})
	if health == nil || health.GetCounter().GetValue() != 2 {
		t.Errorf("health request counter = %v, want 2", health)
	}
	if findMetric(t, env.reg, "kbai_http_requests_total",
		map[string]string{"handler": "unmatched", "code": "404"}) == nil {
		t.Error("unmatched route not counted")
	}
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, nil, nil)

	env.srv.metrics.chatActiveStreams.Inc()
	env.srv.metrics.chatActiveStreams.Inc()

	m := findMetric(t, env.reg, "kbai_chat_active_streams", nil)
	if m == nil {
		t.Fatal("kbai_chat_active_streams not found in gathered metrics")
	}
	if v := m.GetGauge().GetValue(); v != 2 {
		t.Errorf("want active_streams=2, got %v", v)
	}
}
