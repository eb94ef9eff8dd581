package metrics

import (
	"strings"
	"testing"
)

func TestCounterAndGauge(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("test_total", "a counter")
	g := r.Gauge("test_value", "a gauge")

	c.Inc()
	c.Add(4)
	g.Set(2.5)

	if c.Value() != 5 {
		t.Errorf("counter = %d, want 5", c.Value())
	}
	if g.Value() != 2.5 {
		t.Errorf("gauge = %g, want 2.5", g.Value())
	}
}

func TestRegisterTwiceReturnsSameMetric(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("dup_total", "")
	b := r.Counter("dup_total", "")
	if a != b {
		t.Error("registering the same name returned a different counter")
	}
}

func TestWritePrometheus(t *testing.T) {
	r := NewRegistry()
	r.Counter("zz_total", "last").Add(3)
	r.Gauge("aa_value", "first").Set(1)

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus() = %v", err)
	}
	out := sb.String()

	wantLines := []string{
		"# HELP aa_value first",
		"# TYPE aa_value gauge",
		"aa_value 1",
		"# HELP zz_total last",
		"# TYPE zz_total counter",
		"zz_total 3",
	}
	for _, line := range wantLines {
		if !strings.Contains(out, line) {
			t.Errorf("output missing %q:\n%s", line, out)
		}
	}
	if strings.Index(out, "aa_value") > strings.Index(out, "zz_total") {
		t.Error("metrics not sorted by name")
	}
}

func TestBusAndSurfaceSets(t *testing.T) {
	r := NewRegistry()
	bm := NewBusMetrics(r)
	sm := NewSurfaceMetrics(r)

	bm.Timeouts.Inc()
	sm.Active.Set(3)

	var sb strings.Builder
	if err := r.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus() = %v", err)
	}
	out := sb.String()
	if !strings.Contains(out, "surface_bus_timeouts_total 1") {
		t.Errorf("missing bus timeout count:\n%s", out)
	}
	if !strings.Contains(out, "surface_controllers_active 3") {
		t.Errorf("missing active gauge:\n%s", out)
	}
}
