package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, p.Path(), nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	return rr.Code, rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Enabled: true, Build: BuildInfo{Version: "test", Revision: "r", BuildDate: "now"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	code, body := scrape(t, p)
	if code != http.StatusOK {
		t.Fatalf("status=%d want 200", code)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `streamer_build_info{`) || !strings.Contains(body, `version="test"`) {
		t.Fatalf("expected streamer_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_Disabled(t *testing.T) {
	p := Init(Config{Path: "/m"})
	if p.Path() != "/m" {
		t.Fatalf("path=%q", p.Path())
	}
	if code, _ := scrape(t, p); code != http.StatusNotFound {
		t.Fatalf("status=%d want 404 when disabled", code)
	}
}
