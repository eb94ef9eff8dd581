// Surface control driver - motorised knob and switch hardware
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package surface drives the physical control surface: motor-driven
// haptic knobs and illuminated switches sharing one serial control
// bus. It owns controller addressing, the bring-up/calibration state
// machine and the runtime knob/switch/LED operations. Conversion
// between logical and raw knob positions lives in pkg/position.
//
// The driver is synchronous: every operation is a blocking bus
// transaction on the calling goroutine. One mutex guards controller
// selection, transactions and the LED/calibration state. Callers pair
// RequestKnobStates/ReadKnobStates under Lock/Unlock since the two
// transactions must not interleave with traffic for another
// controller.
package surface

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/bus"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/haptics"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/log"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/metrics"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/panel"
)

// Bus is the control bus consumed by the driver. *bus.Device
// implements it; tests substitute fakes.
type Bus interface {
	Select(addr int) error
	Write(p []byte) error
	Read(p []byte) error
	RobustWrite(p []byte, verify *byte) error
	Close() error
}

// Config holds driver configuration. The timing fields default to the
// hardware values; tests shrink them.
type Config struct {
	// Device is the bus character device path (e.g. /dev/i2c-1).
	Device string

	// Modes is the haptic mode registry. A registry with only the
	// default modes is created when nil.
	Modes *haptics.Registry

	// Logger for driver events. Defaults to a "surface" logger.
	Logger *log.Logger

	// Metrics receives bus and bring-up metrics when non-nil.
	Metrics *metrics.Registry

	// RebootDelay is the wait after rebooting a mid-session
	// controller back to the default address (default: 1ms).
	RebootDelay time.Duration

	// RequestStagger is the delay between calibration requests to
	// successive controllers (default: 50ms).
	RequestStagger time.Duration

	// PollInterval is the delay between calibration status polls
	// (default: 50ms).
	PollInterval time.Duration

	// PollLimit is the poll count per calibration phase
	// (default: 20).
	PollLimit int

	// CalRounds is the outer retry budget for the encoder
	// calibration + datum search pair (default: 3).
	CalRounds int
}

// DefaultConfig returns a Config with the hardware timing defaults.
func DefaultConfig() Config {
	return Config{
		RebootDelay:    1 * time.Millisecond,
		RequestStagger: 50 * time.Millisecond,
		PollInterval:   50 * time.Millisecond,
		PollLimit:      20,
		CalRounds:      3,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.RebootDelay == 0 {
		c.RebootDelay = def.RebootDelay
	}
	if c.RequestStagger == 0 {
		c.RequestStagger = def.RequestStagger
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.PollLimit == 0 {
		c.PollLimit = def.PollLimit
	}
	if c.CalRounds == 0 {
		c.CalRounds = def.CalRounds
	}
	if c.Modes == nil {
		c.Modes = haptics.NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = log.New("surface")
	}
}

// KnobState is one motor controller's position response.
type KnobState struct {
	// Position in raw hardware units (0..=32767).
	Position uint16

	MovingToTarget bool
	TapDetected    bool
}

// controller is the per-knob bring-up and haptic state. The active
// flag is set once per bootstrap and only cleared by Reinit.
type controller struct {
	present        bool
	active         bool
	stateRequested bool
	hapticApplied  bool
	hapticMode     string
	calDone        bool
	calFailed      bool
	firmware       string
}

// Driver is the surface control hardware driver. All shared mutable
// state (selected controller, LED cache, per-controller flags) is
// owned exclusively by the Driver.
type Driver struct {
	mu     sync.Mutex
	bus    Bus
	cfg    Config
	log    *log.Logger
	stats  *metrics.SurfaceMetrics
	open   bool
	knobs  [NumKnobs]controller
	leds   panel.LedCache
	states [NumKnobs]KnobState
}

// Open opens the bus device and runs the controller bootstrap. A
// bootstrap where no controller comes up is not an error: the driver
// stays usable and reports no active knobs.
func Open(cfg Config) (*Driver, error) {
	cfg.applyDefaults()
	busCfg := bus.Config{Device: cfg.Device}
	if cfg.Metrics != nil {
		busCfg.Metrics = metrics.NewBusMetrics(cfg.Metrics)
	}
	dev, err := bus.Open(busCfg)
	if err != nil {
		return nil, err
	}
	return OpenBus(dev, cfg)
}

// OpenBus runs the bootstrap against an already-open bus.
func OpenBus(b Bus, cfg Config) (*Driver, error) {
	cfg.applyDefaults()
	d := &Driver{
		bus: b,
		cfg: cfg,
		log: cfg.Logger,
	}
	if cfg.Metrics != nil {
		d.stats = metrics.NewSurfaceMetrics(cfg.Metrics)
	} else {
		d.stats = &metrics.SurfaceMetrics{}
	}

	d.mu.Lock()
	d.open = true
	d.bootstrap()
	d.mu.Unlock()
	return d, nil
}

// Close disables haptics on every active controller (best-effort) and
// releases the bus.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false

	// Without a supervising process the hardware must not keep
	// resistive/detent behaviour.
	for i := range d.knobs {
		if !d.knobs[i].active {
			continue
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			continue
		}
		_ = d.bus.Write([]byte{cmdHapticMode, 0x00})
	}

	return d.bus.Close()
}

// Reinit resets all per-controller state and re-runs the bootstrap,
// e.g. after a hot-swap signal.
func (d *Driver) Reinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return notOpenError()
	}

	d.knobs = [NumKnobs]controller{}
	d.states = [NumKnobs]KnobState{}
	d.bootstrap()
	return nil
}

// Lock acquires the driver's transaction lock. Callers bracket a
// RequestKnobStates/ReadKnobStates pair with Lock/Unlock.
func (d *Driver) Lock() {
	d.mu.Lock()
}

// Unlock releases the driver's transaction lock.
func (d *Driver) Unlock() {
	d.mu.Unlock()
}

// KnobIsActive reports whether a knob controller finished bring-up
// and accepts runtime operations.
func (d *Driver) KnobIsActive(knob int) bool {
	if knob < 0 || knob >= NumKnobs {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open && d.knobs[knob].active
}

// ActiveKnobs returns the indices of all active knob controllers.
func (d *Driver) ActiveKnobs() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []int
	for i := range d.knobs {
		if d.knobs[i].active {
			out = append(out, i)
		}
	}
	return out
}

// FirmwareVersion returns the firmware version string read from a
// discovered controller during bootstrap.
func (d *Driver) FirmwareVersion(knob int) (string, error) {
	if knob < 0 || knob >= NumKnobs {
		return "", badKnobError(knob)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return "", notOpenError()
	}
	if !d.knobs[knob].present {
		return "", knobInactiveError(knob)
	}
	return d.knobs[knob].firmware, nil
}

// RequestKnobStates asks every active controller to latch its current
// position. The caller must hold Lock: the matching ReadKnobStates is
// a separate set of bus transactions that must not interleave with
// traffic for other controllers.
func (d *Driver) RequestKnobStates() error {
	if !d.open {
		return notOpenError()
	}
	for i := range d.knobs {
		if !d.knobs[i].active {
			continue
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			return knobBusError(i, "select for state request", err)
		}
		if err := d.bus.Write([]byte{cmdPosition}); err != nil {
			return knobBusError(i, "state request", err)
		}
		d.knobs[i].stateRequested = true
	}
	return nil
}

// ReadKnobStates collects the position responses latched by
// RequestKnobStates. The caller must hold Lock. The returned array is
// indexed by knob; entries for inactive or unrequested knobs keep
// their previous value.
func (d *Driver) ReadKnobStates() ([NumKnobs]KnobState, error) {
	if !d.open {
		return d.states, notOpenError()
	}
	var firstErr error
	for i := range d.knobs {
		if !d.knobs[i].stateRequested {
			continue
		}
		d.knobs[i].stateRequested = false

		if err := d.bus.Select(MotorAddr(i)); err != nil {
			if firstErr == nil {
				firstErr = knobBusError(i, "select for state read", err)
			}
			continue
		}
		var resp [4]byte
		if err := d.bus.Read(resp[:]); err != nil {
			if firstErr == nil {
				firstErr = knobBusError(i, "state read", err)
			}
			continue
		}
		pos := binary.LittleEndian.Uint16(resp[0:2])
		flags := binary.LittleEndian.Uint16(resp[2:4])
		if pos > haptics.HwMax {
			pos = haptics.HwMax
		}
		d.states[i] = KnobState{
			Position:       pos,
			TapDetected:    flags&flagTapDetected != 0,
			MovingToTarget: flags&flagMovingToTarget != 0,
		}
	}
	return d.states, firstErr
}

// SetKnobPosition commands a motor to move to a raw hardware
// position. With robust set the write is retried with read-back
// verification against the command byte.
func (d *Driver) SetKnobPosition(knob int, position uint16, robust bool) error {
	if knob < 0 || knob >= NumKnobs {
		return badKnobError(knob)
	}
	if position > haptics.HwMax {
		position = haptics.HwMax
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return notOpenError()
	}
	if !d.knobs[knob].active {
		return knobInactiveError(knob)
	}

	if err := d.bus.Select(MotorAddr(knob)); err != nil {
		return knobBusError(knob, "select for position", err)
	}
	payload := make([]byte, 3)
	payload[0] = cmdPosition
	binary.LittleEndian.PutUint16(payload[1:], position)

	if robust {
		verify := byte(cmdPosition)
		if err := d.bus.RobustWrite(payload, &verify); err != nil {
			d.log.WithField("knob", knob).WithError(err).
				Error("robust position write failed (addr 0x%02x cmd 0x%02x)", MotorAddr(knob), cmdPosition)
			return knobBusError(knob, "robust position write", err)
		}
		return nil
	}
	if err := d.bus.Write(payload); err != nil {
		return knobBusError(knob, "position write", err)
	}
	return nil
}

// SetKnobHapticMode looks up a haptic mode by name and applies it to
// a knob controller. Re-applying the mode already on the controller
// is a no-op.
func (d *Driver) SetKnobHapticMode(knob int, modeName string) error {
	if knob < 0 || knob >= NumKnobs {
		return badKnobError(knob)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return notOpenError()
	}
	if !d.knobs[knob].active {
		return knobInactiveError(knob)
	}
	if d.knobs[knob].hapticApplied && d.knobs[knob].hapticMode == modeName {
		return nil
	}

	mode := d.cfg.Modes.Lookup(haptics.TypeKnob, modeName)
	if err := d.bus.Select(MotorAddr(knob)); err != nil {
		return knobBusError(knob, "select for haptic config", err)
	}
	payload := append([]byte{cmdHapticConfig}, mode.Encode()...)
	if err := d.bus.RobustWrite(payload, nil); err != nil {
		d.log.WithField("knob", knob).WithError(err).
			Error("haptic config write failed (addr 0x%02x cmd 0x%02x)", MotorAddr(knob), cmdHapticConfig)
		return knobBusError(knob, "haptic config write", err)
	}
	if err := d.bus.Write([]byte{cmdHapticMode, 0x01}); err != nil {
		return knobBusError(knob, "haptic enable", err)
	}

	d.knobs[knob].hapticApplied = true
	d.knobs[knob].hapticMode = mode.Name
	return nil
}

// KnobHapticMode returns the name of the haptic mode applied to a
// knob, or "" when none has been applied.
func (d *Driver) KnobHapticMode(knob int) string {
	if knob < 0 || knob >= NumKnobs {
		return ""
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.knobs[knob].hapticApplied {
		return ""
	}
	return d.knobs[knob].hapticMode
}

// ReadSwitchStates reads the panel's packed switch states.
func (d *Driver) ReadSwitchStates() ([panel.NumSwitches]bool, error) {
	var none [panel.NumSwitches]bool

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return none, notOpenError()
	}

	if err := d.bus.Select(PanelAddr); err != nil {
		return none, busError("select panel", err)
	}
	if err := d.bus.Write([]byte{regSwitchState}); err != nil {
		return none, busError("switch state request", err)
	}
	var wire [panel.NumBytes]byte
	if err := d.bus.Read(wire[:]); err != nil {
		return none, busError("switch state read", err)
	}
	return panel.UnpackSwitches(wire), nil
}

// SetSwitchLedState records the desired state of one switch LED. The
// change reaches the hardware on the next CommitLedStates.
func (d *Driver) SetSwitchLedState(n int, on bool) error {
	if !d.leds.Set(n, on) {
		return badSwitchError(n)
	}
	return nil
}

// SetAllSwitchLedStates records the desired state of every LED.
func (d *Driver) SetAllSwitchLedStates(on bool) {
	d.leds.SetAll(on)
}

// CommitLedStates transmits all pending LED changes in one bus
// transaction. A commit with no pending changes is a no-op.
func (d *Driver) CommitLedStates() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return notOpenError()
	}
	if !d.leds.Dirty() {
		return nil
	}

	wire := d.leds.Snapshot()
	if err := d.bus.Select(PanelAddr); err != nil {
		d.leds.MarkDirty()
		return busError("select panel", err)
	}
	payload := append([]byte{regLedState}, wire[:]...)
	if err := d.bus.Write(payload); err != nil {
		d.leds.MarkDirty()
		return busError("led state write", err)
	}
	return nil
}

// trimVersion strips NUL padding from a firmware version response.
func trimVersion(raw []byte) string {
	return strings.TrimRight(string(raw), "\x00")
}
