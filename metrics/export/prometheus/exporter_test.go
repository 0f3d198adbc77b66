package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	promclient "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/MrEthical07/tabsync"
)

type fakeSource struct {
	snapshot tabsync.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() tabsync.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AlertDropped() uint64                     { return f.dropped }

func sampleSource() fakeSource {
	return fakeSource{
		snapshot: tabsync.MetricsSnapshot{
			Counters: map[tabsync.MetricID]uint64{
				tabsync.MetricLoginSuccess: 7,
				tabsync.MetricRelaySent:    3,
			},
			Histograms: map[tabsync.MetricID][]uint64{
				tabsync.MetricRelayHandleLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: tabsync.MetricsSnapshot{
			Counters:   map[tabsync.MetricID]uint64{},
			Histograms: map[tabsync.MetricID][]uint64{},
		},
	})

	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderDeterministicIncludesCounterAndHistogram(t *testing.T) {
	exp := NewPrometheusExporterFromSource(sampleSource())

	out := exp.Render()
	for _, want := range []string{
		"tabsync_login_success_total 7",
		"tabsync_relay_sent_total 3",
		"tabsync_relay_handle_latency_seconds_bucket{le=\"0.00005\"} 1",
		"tabsync_relay_handle_latency_seconds_bucket{le=\"+Inf\"} 36",
		"tabsync_alert_dropped_total 2",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if out != exp.Render() {
		t.Fatal("render must be deterministic")
	}
}

func TestHandlerWritesPrometheusContentType(t *testing.T) {
	exp := NewPrometheusExporterFromSource(sampleSource())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCollectorGathersSnapshot(t *testing.T) {
	reg := promclient.NewRegistry()
	if err := reg.Register(NewPrometheusExporterFromSource(sampleSource()).Collector()); err != nil {
		t.Fatalf("register: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	login := byName["tabsync_login_success_total"]
	if login == nil || login.GetMetric()[0].GetCounter().GetValue() != 7 {
		t.Fatalf("login counter missing or wrong: %v", login)
	}

	hist := byName["tabsync_relay_handle_latency_seconds"]
	if hist == nil {
		t.Fatal("histogram missing")
	}
	h := hist.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 36 {
		t.Fatalf("expected 36 samples, got %d", h.GetSampleCount())
	}
	if first := h.GetBucket()[0]; first.GetUpperBound() != 0.00005 || first.GetCumulativeCount() != 1 {
		t.Fatalf("unexpected first bucket %v", first)
	}

	if dropped := byName["tabsync_alert_dropped_total"]; dropped == nil || dropped.GetMetric()[0].GetCounter().GetValue() != 2 {
		t.Fatalf("alert dropped counter missing or wrong: %v", dropped)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewPrometheusExporterFromSource(sampleSource())

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
