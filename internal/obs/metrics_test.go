package obs

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                 UnmatchedPath,
		"/":                                UnmatchedPath,
		"/metrics":                         "/metrics",
		"/api/resources":                   "/api/resources",
		"/api/admin/resources":             "/api/admin/resources",
		"/api/admin/resources/01HX":        "/api/admin/resources/:id",
		"/api/admin/resources/01HX/":       UnmatchedPath,
		"/api/admin/resources/01HX/extra":  UnmatchedPath,
		"/api/admin/audit-logs?day=latest": "/api/admin/audit-logs",
		"/wp-login.php":                    UnmatchedPath,
		"/api/resources/../../etc/passwd":  UnmatchedPath,
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func seriesCount(c prometheus.Collector) int {
	ch := make(chan prometheus.Metric, 256)
	c.Collect(ch)
	close(ch)
	return len(ch)
}

func TestInstrumentBoundsLabelsForUnknownPaths(t *testing.T) {
	handler := Instrument(http.NotFoundHandler())
	before := seriesCount(httpRequestsTotal)

	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/random-%d", i), nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if got := seriesCount(httpRequestsTotal); got > before+1 {
		t.Fatalf("expected at most one new series, got %d new", got-before)
	}
	var m dto.Metric
	if err := httpRequestsTotal.WithLabelValues(http.MethodGet, UnmatchedPath, "404").Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	if v := m.GetCounter().GetValue(); v < 50 {
		t.Fatalf("unmatched counter = %v, want >= 50", v)
	}
}
