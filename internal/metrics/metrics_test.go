package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_exposesRegisteredMetrics(t *testing.T) {
	ChecksTotal.WithLabelValues("no_new_version").Inc()
	RollbacksTotal.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "updater_checks_total") {
		t.Error("expected updater_checks_total in exposition output")
	}
	if !strings.Contains(body, "updater_rollbacks_total") {
		t.Error("expected updater_rollbacks_total in exposition output")
	}
}
