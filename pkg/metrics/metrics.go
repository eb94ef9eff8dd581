// Bus and bring-up metrics
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package metrics collects counters and gauges for the surface driver
// and renders them in Prometheus text exposition format. The set of
// metrics is fixed at construction; collection is lock-free.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Counter is a monotonically increasing value. A nil Counter discards
// updates, so collection points need no nil checks.
type Counter struct {
	v uint64
}

// Inc adds one to the counter.
func (c *Counter) Inc() {
	if c != nil {
		atomic.AddUint64(&c.v, 1)
	}
}

// Add adds n to the counter.
func (c *Counter) Add(n uint64) {
	if c != nil {
		atomic.AddUint64(&c.v, n)
	}
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	if c == nil {
		return 0
	}
	return atomic.LoadUint64(&c.v)
}

// Gauge is a value that can move in both directions. A nil Gauge
// discards updates.
type Gauge struct {
	bits uint64
}

// Set stores a new value.
func (g *Gauge) Set(v float64) {
	if g != nil {
		atomic.StoreUint64(&g.bits, math.Float64bits(v))
	}
}

// Value returns the current value.
func (g *Gauge) Value() float64 {
	if g == nil {
		return 0
	}
	return math.Float64frombits(atomic.LoadUint64(&g.bits))
}

type metric struct {
	name    string
	help    string
	counter *Counter
	gauge   *Gauge
}

// Registry holds named metrics for exposition.
type Registry struct {
	mu      sync.Mutex
	metrics map[string]*metric
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]*metric)}
}

// Counter registers and returns a counter. Registering the same name
// twice returns the original.
func (r *Registry) Counter(name, help string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m.counter
	}
	c := &Counter{}
	r.metrics[name] = &metric{name: name, help: help, counter: c}
	return c
}

// Gauge registers and returns a gauge.
func (r *Registry) Gauge(name, help string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[name]; ok {
		return m.gauge
	}
	g := &Gauge{}
	r.metrics[name] = &metric{name: name, help: help, gauge: g}
	return g
}

// WritePrometheus renders every registered metric in Prometheus text
// exposition format, sorted by name.
func (r *Registry) WritePrometheus(w io.Writer) error {
	r.mu.Lock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	ordered := make([]*metric, len(names))
	for i, name := range names {
		ordered[i] = r.metrics[name]
	}
	r.mu.Unlock()

	for _, m := range ordered {
		kind := "gauge"
		if m.counter != nil {
			kind = "counter"
		}
		if m.help != "" {
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n", m.name, m.help); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# TYPE %s %s\n", m.name, kind); err != nil {
			return err
		}
		var err error
		if m.counter != nil {
			_, err = fmt.Fprintf(w, "%s %d\n", m.name, m.counter.Value())
		} else {
			_, err = fmt.Fprintf(w, "%s %g\n", m.name, m.gauge.Value())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// BusMetrics are the transfer-level counters recorded by the bus
// device.
type BusMetrics struct {
	WriteRetries  *Counter
	ReadRetries   *Counter
	Timeouts      *Counter
	RobustRetries *Counter
	VerifyFails   *Counter
}

// NewBusMetrics registers the bus metric set.
func NewBusMetrics(r *Registry) *BusMetrics {
	return &BusMetrics{
		WriteRetries:  r.Counter("surface_bus_write_retries_total", "Failed bus write attempts"),
		ReadRetries:   r.Counter("surface_bus_read_retries_total", "Failed bus read attempts"),
		Timeouts:      r.Counter("surface_bus_timeouts_total", "Bus transfers aborted by device timeout"),
		RobustRetries: r.Counter("surface_bus_robust_retries_total", "Failed robust write attempts"),
		VerifyFails:   r.Counter("surface_bus_verify_failures_total", "Robust writes that exhausted read-back verification"),
	}
}

// SurfaceMetrics are the bring-up gauges recorded by the driver.
type SurfaceMetrics struct {
	Discovered  *Gauge
	Active      *Gauge
	CalFailures *Counter
	Bootstraps  *Counter
}

// NewSurfaceMetrics registers the driver metric set.
func NewSurfaceMetrics(r *Registry) *SurfaceMetrics {
	return &SurfaceMetrics{
		Discovered:  r.Gauge("surface_controllers_discovered", "Motor controllers found during discovery"),
		Active:      r.Gauge("surface_controllers_active", "Motor controllers that completed calibration"),
		CalFailures: r.Counter("surface_calibration_failures_total", "Controllers reporting an explicit calibration failure"),
		Bootstraps:  r.Counter("surface_bootstraps_total", "Bootstrap runs, including reinitializations"),
	}
}
