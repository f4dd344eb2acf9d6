package prometheus

import (
	"net/http/httptest"
	"strings"
	"testing"

	trustgate "github.com/trustgate/trustgate"
)

type fakeSource struct {
	snapshot trustgate.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() trustgate.MetricsSnapshot { return f.snapshot }
func (f *fakeSource) AuditDropped() uint64                       { return f.dropped }

func populatedSource() *fakeSource {
	return &fakeSource{
		snapshot: trustgate.MetricsSnapshot{
			Counters: map[trustgate.MetricID]uint64{
				trustgate.MetricLoginSuccess: 7,
				trustgate.MetricLoginFailure: 3,
			},
			Histograms: map[trustgate.MetricID][]uint64{
				trustgate.MetricAuthenticateLatency: {2, 0, 1, 0, 0, 0, 0, 1},
			},
		},
		dropped: 4,
	}
}

func TestRender_Counters(t *testing.T) {
	out := NewPrometheusExporterFromSource(populatedSource()).Render()

	for _, want := range []string{
		"# TYPE trustgate_login_success_total counter",
		"trustgate_login_success_total 7",
		"trustgate_login_failure_total 3",
		"trustgate_session_issued_total 0",
		"trustgate_audit_dropped_total 4",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRender_HistogramIsCumulative(t *testing.T) {
	out := NewPrometheusExporterFromSource(populatedSource()).Render()

	for _, want := range []string{
		"# TYPE trustgate_authenticate_latency_seconds histogram",
		`trustgate_authenticate_latency_seconds_bucket{le="0.005"} 2`,
		`trustgate_authenticate_latency_seconds_bucket{le="0.025"} 3`,
		`trustgate_authenticate_latency_seconds_bucket{le="+Inf"} 4`,
		"trustgate_authenticate_latency_seconds_count 4",
		"trustgate_authenticate_latency_seconds_sum 0",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRender_EmptySource(t *testing.T) {
	src := &fakeSource{snapshot: trustgate.MetricsSnapshot{
		Counters:   map[trustgate.MetricID]uint64{},
		Histograms: map[trustgate.MetricID][]uint64{},
	}}
	if out := NewPrometheusExporterFromSource(src).Render(); out != "" {
		t.Fatalf("empty source should render nothing, got:\n%s", out)
	}

	var nilExporter *PrometheusExporter
	if out := nilExporter.Render(); out != "" {
		t.Fatalf("nil exporter should render nothing, got %q", out)
	}
}

func TestHandler(t *testing.T) {
	exporter := NewPrometheusExporterFromSource(populatedSource())

	rec := httptest.NewRecorder()
	exporter.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "trustgate_login_success_total 7") {
		t.Fatalf("handler body missing counters:\n%s", rec.Body.String())
	}
}
