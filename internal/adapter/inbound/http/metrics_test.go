package http

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m.DispatchTotal == nil || m.DispatchDuration == nil {
		t.Error("dispatch metrics not initialized")
	}
	if m.EventsPublished == nil || m.SubscriberFailures == nil {
		t.Error("event metrics not initialized")
	}
	if m.AuditDropsTotal == nil {
		t.Error("AuditDropsTotal not initialized")
	}
}

func TestMetrics_Observers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveDispatch("note.create", "success", 20*time.Millisecond)
	m.ObserveDispatch("note.create", "success", 30*time.Millisecond)
	m.ObserveDispatch("note.create", "permission", time.Millisecond)
	m.ObservePublish("note.created", 2)
	m.ObserveSubscriberFailure("mailer", "note.created")
	m.ObserveAuditDrop()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"dispatch success", testutil.ToFloat64(m.DispatchTotal.WithLabelValues("note.create", "success")), 2},
		{"dispatch permission", testutil.ToFloat64(m.DispatchTotal.WithLabelValues("note.create", "permission")), 1},
		{"events published", testutil.ToFloat64(m.EventsPublished.WithLabelValues("note.created")), 1},
		{"subscriber failures", testutil.ToFloat64(m.SubscriberFailures.WithLabelValues("mailer", "note.created")), 1},
		{"audit drops", testutil.ToFloat64(m.AuditDropsTotal), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}

	if n := testutil.CollectAndCount(m.DispatchDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

func TestMetrics_ExpositionNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveDispatch("system.ping", "success", time.Millisecond)
	m.ObservePublish("system.pinged", 0)
	m.ObserveSubscriberFailure("x", "y")
	m.ObserveAuditDrop()

	gathered, err := reg.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	names := make(map[string]bool)
	for _, mf := range gathered {
		names[mf.GetName()] = true
	}
	for _, want := range []string{
		"appshell_dispatch_total",
		"appshell_dispatch_duration_seconds",
		"appshell_events_published_total",
		"appshell_subscriber_failures_total",
		"appshell_audit_drops_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not found", want)
		}
	}
	for name := range names {
		if !strings.HasPrefix(name, "appshell_") {
			t.Errorf("unexpected metric %s", name)
		}
	}
}
