package surface

import (
	"testing"
	"time"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/haptics"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/panel"
)

// testConfig returns a driver config with timing shrunk to keep the
// bootstrap fast under test.
func testConfig() Config {
	return Config{
		RebootDelay:    time.Nanosecond,
		RequestStagger: time.Nanosecond,
		PollInterval:   time.Nanosecond,
		PollLimit:      2,
		CalRounds:      3,
	}
}

func openDriver(t *testing.T, b *fakeBus, cfg Config) *Driver {
	t.Helper()
	d, err := OpenBus(b, cfg)
	if err != nil {
		t.Fatalf("OpenBus() = %v", err)
	}
	return d
}

func TestBootstrapHappyPath(t *testing.T) {
	motors := []*fakeMotor{
		newFakeMotor("mc-fw 1.2.0"),
		newFakeMotor("mc-fw 1.2.0"),
		newFakeMotor("mc-fw 1.1.7"),
	}
	b := newFakeBus(motors...)
	d := openDriver(t, b, testConfig())

	for i := 0; i < 3; i++ {
		if !d.KnobIsActive(i) {
			t.Errorf("KnobIsActive(%d) = false, want true", i)
		}
		if b.byAddr[MotorAddr(i)] != motors[i] {
			t.Errorf("motor %d not provisioned at 0x%02x", i, MotorAddr(i))
		}
		if !motors[i].started {
			t.Errorf("motor %d firmware not started", i)
		}
	}
	for i := 3; i < NumKnobs; i++ {
		if d.KnobIsActive(i) {
			t.Errorf("KnobIsActive(%d) = true for absent hardware", i)
		}
	}
	if !b.panel.started {
		t.Error("panel controller firmware not started")
	}

	fw, err := d.FirmwareVersion(2)
	if err != nil {
		t.Fatalf("FirmwareVersion(2) = %v", err)
	}
	if fw != "mc-fw 1.1.7" {
		t.Errorf("FirmwareVersion(2) = %q, want mc-fw 1.1.7", fw)
	}

	if got := d.ActiveKnobs(); len(got) != 3 {
		t.Errorf("ActiveKnobs() = %v, want 3 knobs", got)
	}
}

func TestBootstrapCalSucceedsOnThirdRound(t *testing.T) {
	m := newFakeMotor("fw")
	// Two poll rounds of 2 stay busy; the fifth status read (first
	// poll of round 3) reports done.
	m.calDoneOnRead = 5
	b := newFakeBus(m)
	d := openDriver(t, b, testConfig())

	if !d.KnobIsActive(0) {
		t.Error("KnobIsActive(0) = false, want true after third-round calibration")
	}
}

func TestBootstrapDatumNeverFoundIsolatesController(t *testing.T) {
	good := newFakeMotor("fw")
	bad := newFakeMotor("fw")
	bad.datumDoneOnRead = neverSucceed
	b := newFakeBus(good, bad)
	d := openDriver(t, b, testConfig())

	if !d.KnobIsActive(0) {
		t.Error("KnobIsActive(0) = false, want true")
	}
	if d.KnobIsActive(1) {
		t.Error("KnobIsActive(1) = true, want false for datum failure")
	}

	// Runtime operations on the failed controller are rejected.
	err := d.SetKnobPosition(1, 100, false)
	if !Is(err, ErrKnobInactive) {
		t.Errorf("SetKnobPosition(inactive) = %v, want KNOB_INACTIVE", err)
	}
}

func TestBootstrapExplicitCalFailureStopsRetries(t *testing.T) {
	m := newFakeMotor("fw")
	m.calExplicitFail = true
	b := newFakeBus(m)
	d := openDriver(t, b, testConfig())

	if d.KnobIsActive(0) {
		t.Error("KnobIsActive(0) = true, want false")
	}
	// The failure status removes the controller from later rounds:
	// one poll, not one per round.
	if m.calPolls != 1 {
		t.Errorf("calPolls = %d, want 1 (no retries after explicit failure)", m.calPolls)
	}
}

func TestBootstrapRebootsMidSessionController(t *testing.T) {
	m := newFakeMotor("fw")
	b := newFakeBus()
	// Controller already provisioned by a previous session.
	b.byAddr[MotorAddr(0)] = m

	d := openDriver(t, b, testConfig())

	if !m.rebooted {
		t.Error("mid-session controller was not rebooted before re-provisioning")
	}
	if !d.KnobIsActive(0) {
		t.Error("KnobIsActive(0) = false, want true after re-provisioning")
	}
}

func TestBootstrapStopsDiscoveryOnFirstFailure(t *testing.T) {
	b := newFakeBus(newFakeMotor("fw"), newFakeMotor("fw"))
	d := openDriver(t, b, testConfig())

	if !d.KnobIsActive(0) || !d.KnobIsActive(1) {
		t.Error("discovered controllers not active")
	}
	// The default slot emptied at index 2; everything after is
	// treated as absent.
	if d.KnobIsActive(2) {
		t.Error("KnobIsActive(2) = true, want false past end of hardware")
	}
	if _, err := d.FirmwareVersion(2); !Is(err, ErrKnobInactive) {
		t.Errorf("FirmwareVersion(absent) = %v, want KNOB_INACTIVE", err)
	}
}

func TestBootstrapZeroControllersStillUsable(t *testing.T) {
	b := newFakeBus()
	d := openDriver(t, b, testConfig())

	if got := d.ActiveKnobs(); got != nil {
		t.Errorf("ActiveKnobs() = %v, want none", got)
	}
	// The panel path still works with no motor hardware.
	b.panel.switchWire = [5]byte{0x01, 0x00, 0x00, 0x00, 0x00}
	states, err := d.ReadSwitchStates()
	if err != nil {
		t.Fatalf("ReadSwitchStates() = %v", err)
	}
	if !states[32] {
		t.Error("switch 32 = false, want true")
	}
}

func TestRequestReadKnobStates(t *testing.T) {
	m0 := newFakeMotor("fw")
	m1 := newFakeMotor("fw")
	b := newFakeBus(m0, m1)
	d := openDriver(t, b, testConfig())

	m0.position = 12345
	m0.statusFlags = flagTapDetected
	m1.position = 32000
	m1.statusFlags = flagMovingToTarget

	d.Lock()
	if err := d.RequestKnobStates(); err != nil {
		d.Unlock()
		t.Fatalf("RequestKnobStates() = %v", err)
	}
	states, err := d.ReadKnobStates()
	d.Unlock()
	if err != nil {
		t.Fatalf("ReadKnobStates() = %v", err)
	}

	if states[0].Position != 12345 || !states[0].TapDetected || states[0].MovingToTarget {
		t.Errorf("knob 0 state = %+v", states[0])
	}
	if states[1].Position != 32000 || states[1].TapDetected || !states[1].MovingToTarget {
		t.Errorf("knob 1 state = %+v", states[1])
	}
}

func TestSetKnobPosition(t *testing.T) {
	m := newFakeMotor("fw")
	b := newFakeBus(m)
	d := openDriver(t, b, testConfig())

	if err := d.SetKnobPosition(0, 20000, false); err != nil {
		t.Fatalf("SetKnobPosition() = %v", err)
	}
	if m.position != 20000 {
		t.Errorf("motor position = %d, want 20000", m.position)
	}

	robustBefore := b.robustWrites
	if err := d.SetKnobPosition(0, 40000, true); err != nil {
		t.Fatalf("SetKnobPosition(robust) = %v", err)
	}
	if m.position != 32767 {
		t.Errorf("motor position = %d, want clamp to 32767", m.position)
	}
	if b.robustWrites != robustBefore+1 {
		t.Errorf("robustWrites = %d, want %d", b.robustWrites, robustBefore+1)
	}

	if err := d.SetKnobPosition(NumKnobs, 0, false); !Is(err, ErrBadKnob) {
		t.Errorf("SetKnobPosition(bad index) = %v, want BAD_KNOB", err)
	}
}

func TestSetKnobHapticMode(t *testing.T) {
	reg := haptics.NewRegistry()
	custom := haptics.Mode{Type: haptics.TypeKnob, Name: "filter", KnobWidth: 300, Friction: 15}
	if err := reg.Add(custom); err != nil {
		t.Fatalf("Add() = %v", err)
	}

	m := newFakeMotor("fw")
	b := newFakeBus(m)
	cfg := testConfig()
	cfg.Modes = reg
	d := openDriver(t, b, cfg)

	if err := d.SetKnobHapticMode(0, "filter"); err != nil {
		t.Fatalf("SetKnobHapticMode() = %v", err)
	}
	wantPayload := custom.Encode()
	if string(m.hapticConfig) != string(wantPayload) {
		t.Errorf("haptic config = % x, want % x", m.hapticConfig, wantPayload)
	}
	if m.hapticMode != 0x01 {
		t.Errorf("haptic mode = %d, want enabled", m.hapticMode)
	}
	if got := d.KnobHapticMode(0); got != "filter" {
		t.Errorf("KnobHapticMode(0) = %q, want filter", got)
	}

	// Re-applying the same mode is a no-op.
	writes := b.robustWrites
	if err := d.SetKnobHapticMode(0, "filter"); err != nil {
		t.Fatalf("SetKnobHapticMode(again) = %v", err)
	}
	if b.robustWrites != writes {
		t.Error("re-applying the same haptic mode touched the bus")
	}

	// Unknown names fall back to the default mode.
	if err := d.SetKnobHapticMode(0, "no-such"); err != nil {
		t.Fatalf("SetKnobHapticMode(unknown) = %v", err)
	}
	if got := d.KnobHapticMode(0); got != haptics.DefaultName {
		t.Errorf("KnobHapticMode(0) = %q, want default", got)
	}
}

func TestLedCommitBatchesAndReversesBytes(t *testing.T) {
	b := newFakeBus()
	d := openDriver(t, b, testConfig())

	if err := d.SetSwitchLedState(0, true); err != nil {
		t.Fatalf("SetSwitchLedState(0) = %v", err)
	}
	if err := d.SetSwitchLedState(7, true); err != nil {
		t.Fatalf("SetSwitchLedState(7) = %v", err)
	}
	if len(b.panel.ledWrites) != 0 {
		t.Fatal("LED writes reached the bus before commit")
	}

	if err := d.CommitLedStates(); err != nil {
		t.Fatalf("CommitLedStates() = %v", err)
	}
	if len(b.panel.ledWrites) != 1 {
		t.Fatalf("ledWrites = %d transactions, want 1", len(b.panel.ledWrites))
	}
	got := b.panel.ledWrites[0]
	// Switches 0 and 7 pack into logical byte 0 which must travel
	// as the last wire byte.
	want := []byte{regLedState, 0x00, 0x00, 0x00, 0x00, 0x81}
	if string(got) != string(want) {
		t.Errorf("led payload = % x, want % x", got, want)
	}

	// Nothing pending: commit is a no-op.
	if err := d.CommitLedStates(); err != nil {
		t.Fatalf("CommitLedStates(clean) = %v", err)
	}
	if len(b.panel.ledWrites) != 1 {
		t.Error("clean commit produced a bus transaction")
	}

	if err := d.SetSwitchLedState(panel.NumSwitches, true); !Is(err, ErrBadSwitch) {
		t.Errorf("SetSwitchLedState(out of range) = %v, want BAD_SWITCH", err)
	}
}

func TestCloseDisablesHaptics(t *testing.T) {
	m := newFakeMotor("fw")
	b := newFakeBus(m)
	d := openDriver(t, b, testConfig())

	if err := d.SetKnobHapticMode(0, "default"); err != nil {
		t.Fatalf("SetKnobHapticMode() = %v", err)
	}
	if m.hapticMode != 0x01 {
		t.Fatalf("haptic mode = %d, want enabled before close", m.hapticMode)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	if m.hapticMode != 0x00 {
		t.Errorf("haptic mode = %d, want disabled after close", m.hapticMode)
	}
	if !b.closed {
		t.Error("bus not closed")
	}

	// Operations after close are rejected, not crashes.
	if err := d.SetKnobPosition(0, 1, false); !Is(err, ErrNotOpen) {
		t.Errorf("SetKnobPosition after close = %v, want NOT_OPEN", err)
	}
	if _, err := d.ReadSwitchStates(); !Is(err, ErrNotOpen) {
		t.Errorf("ReadSwitchStates after close = %v, want NOT_OPEN", err)
	}
}

func TestReinitRediscoversControllers(t *testing.T) {
	m := newFakeMotor("fw")
	b := newFakeBus(m)
	d := openDriver(t, b, testConfig())

	if !d.KnobIsActive(0) {
		t.Fatal("knob 0 not active after open")
	}

	// Hot-swap: a second controller appears behind the first.
	b.pending = append(b.pending, newFakeMotor("fw-new"))
	if err := d.Reinit(); err != nil {
		t.Fatalf("Reinit() = %v", err)
	}

	if !d.KnobIsActive(0) || !d.KnobIsActive(1) {
		t.Errorf("active after reinit: knob0=%v knob1=%v, want both true",
			d.KnobIsActive(0), d.KnobIsActive(1))
	}
}
