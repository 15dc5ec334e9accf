package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
	if m.registry == nil {
		t.Error("registry is nil")
	}

	if m.SessionsCreatedTotal == nil {
		t.Error("SessionsCreatedTotal is nil")
	}
	if m.SessionsActive == nil {
		t.Error("SessionsActive is nil")
	}
	if m.SessionTransitionsTotal == nil {
		t.Error("SessionTransitionsTotal is nil")
	}
	if m.SessionFailuresTotal == nil {
		t.Error("SessionFailuresTotal is nil")
	}
	if m.SessionDuration == nil {
		t.Error("SessionDuration is nil")
	}

	if m.ProviderCallsTotal == nil {
		t.Error("ProviderCallsTotal is nil")
	}
	if m.StoreWritesTotal == nil {
		t.Error("StoreWritesTotal is nil")
	}
	if m.BreakerState == nil {
		t.Error("BreakerState is nil")
	}
	if m.EventsPublishedTotal == nil {
		t.Error("EventsPublishedTotal is nil")
	}
	if m.TimeoutFailuresTotal == nil {
		t.Error("TimeoutFailuresTotal is nil")
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	m := NewMetrics()
	m.SessionsCreatedTotal.WithLabelValues("echo", "active").Inc()
	m.SessionsActive.Set(2)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "jelmore_sessions_created_total") {
		t.Error("missing jelmore_sessions_created_total")
	}
	if !strings.Contains(body, "jelmore_sessions_active 2") {
		t.Error("missing jelmore_sessions_active gauge value")
	}
}

func TestRegistryIsIsolated(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	if a.Registry() == b.Registry() {
		t.Error("expected independent registries")
	}
}
