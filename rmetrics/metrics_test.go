package rmetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	c := New()
	return c, c.Registry
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	g.Write(m)
	return m.GetGauge().GetValue()
}

func TestUpdatePoolStats_ReplacesNotAccumulates(t *testing.T) {
	c, _ := newTestCollector(t)

	c.UpdatePoolStats("main", 3, 5, 8, 1)
	if v := getGaugeValue(c.connectionsActive.WithLabelValues("main")); v != 3 {
		t.Fatalf("expected active=3, got %v", v)
	}

	c.UpdatePoolStats("main", 2, 4, 6, 0)
	if v := getGaugeValue(c.connectionsActive.WithLabelValues("main")); v != 2 {
		t.Fatalf("expected active=2 after update, got %v", v)
	}
}

func TestCommandDuration_Observed(t *testing.T) {
	c, reg := newTestCollector(t)
	c.CommandCompleted("main", "GET", 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range families {
		if f.GetName() == "redicore_command_duration_seconds" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected redicore_command_duration_seconds in registry")
	}
}

func TestRemovePool_ClearsGauges(t *testing.T) {
	c, _ := newTestCollector(t)
	c.UpdatePoolStats("main", 1, 1, 2, 0)
	c.RemovePool("main")
	if v := getGaugeValue(c.connectionsActive.WithLabelValues("main")); v != 0 {
		t.Fatalf("expected gauge reset after RemovePool, got %v", v)
	}
}
