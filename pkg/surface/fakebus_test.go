package surface

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// neverSucceed keeps a fake controller busy past any poll budget.
const neverSucceed = 1 << 30

// fakeMotor simulates one motor knob controller on the bus.
type fakeMotor struct {
	firmware string
	started  bool
	rebooted bool
	lastCmd  byte

	// Calibration/datum status reads answer busy until the
	// cumulative read count reaches the threshold.
	calPolls        int
	calReads        int
	calDoneOnRead   int
	calExplicitFail bool
	datumReads      int
	datumDoneOnRead int

	position     uint16
	statusFlags  uint16
	hapticConfig []byte
	hapticMode   byte
	posWrites    int
}

func newFakeMotor(firmware string) *fakeMotor {
	return &fakeMotor{
		firmware:        firmware,
		calDoneOnRead:   1,
		datumDoneOnRead: 1,
	}
}

// fakePanel simulates the panel switch/LED controller.
type fakePanel struct {
	started    bool
	switchWire [5]byte
	ledWrites  [][]byte
}

// fakeBus simulates the shared control bus: unprovisioned motor
// controllers queue at the default address, provisioned ones answer
// at their assigned address.
type fakeBus struct {
	selected     int
	pending      []*fakeMotor
	byAddr       map[int]*fakeMotor
	panel        *fakePanel
	closed       bool
	robustWrites int
}

func newFakeBus(pending ...*fakeMotor) *fakeBus {
	return &fakeBus{
		selected: -1,
		pending:  pending,
		byAddr:   make(map[int]*fakeMotor),
		panel:    &fakePanel{},
	}
}

func (b *fakeBus) Select(addr int) error {
	b.selected = addr
	return nil
}

func (b *fakeBus) Write(p []byte) error {
	if len(p) == 0 {
		return errors.New("fake: empty write")
	}
	cmd := p[0]

	if b.selected == PanelAddr {
		switch cmd {
		case cmdStartFirmware:
			b.panel.started = true
		case regSwitchState:
			// Latch for the following read.
		case regLedState:
			b.panel.ledWrites = append(b.panel.ledWrites, append([]byte(nil), p...))
		}
		return nil
	}

	if b.selected == DefaultAddr {
		if cmd == cmdConfigDevice && len(p) == 2 {
			if len(b.pending) == 0 {
				return errors.New("fake: nothing at default address")
			}
			m := b.pending[0]
			b.pending = b.pending[1:]
			b.byAddr[int(p[1])] = m
			return nil
		}
		return errors.New("fake: no controller at default address")
	}

	m, ok := b.byAddr[b.selected]
	if !ok {
		return fmt.Errorf("fake: no controller at 0x%02x", b.selected)
	}
	m.lastCmd = cmd

	switch cmd {
	case cmdReboot:
		m.rebooted = true
		m.started = false
		delete(b.byAddr, b.selected)
		b.pending = append([]*fakeMotor{m}, b.pending...)
	case cmdStartFirmware:
		m.started = true
	case cmdHapticConfig:
		m.hapticConfig = append([]byte(nil), p[1:]...)
	case cmdHapticMode:
		if len(p) == 2 {
			m.hapticMode = p[1]
		}
	case cmdPosition:
		if len(p) == 3 {
			m.position = binary.LittleEndian.Uint16(p[1:])
			m.posWrites++
		}
	}
	return nil
}

func (b *fakeBus) Read(p []byte) error {
	if b.selected == PanelAddr {
		if len(p) != len(b.panel.switchWire) {
			return fmt.Errorf("fake: panel read of %d bytes", len(p))
		}
		copy(p, b.panel.switchWire[:])
		return nil
	}

	m, ok := b.byAddr[b.selected]
	if !ok {
		return fmt.Errorf("fake: no controller at 0x%02x", b.selected)
	}

	switch m.lastCmd {
	case cmdMotorStatus, cmdPosition:
		if len(p) != 4 {
			return fmt.Errorf("fake: status read of %d bytes", len(p))
		}
		binary.LittleEndian.PutUint16(p[0:2], m.position)
		binary.LittleEndian.PutUint16(p[2:4], m.statusFlags)
		return nil
	case cmdCheckFirmware:
		copy(p, make([]byte, len(p)))
		copy(p, m.firmware)
		return nil
	case cmdCalEncParams:
		m.calPolls++
		if m.calExplicitFail {
			p[0] = statusFailed
			return nil
		}
		m.calReads++
		if m.calReads >= m.calDoneOnRead {
			p[0] = statusDone
		} else {
			p[0] = statusBusy
		}
		return nil
	case cmdFindDatum:
		m.datumReads++
		if m.datumReads >= m.datumDoneOnRead {
			p[0] = statusDone
		} else {
			p[0] = statusBusy
		}
		return nil
	}
	return fmt.Errorf("fake: read with no pending command 0x%02x", m.lastCmd)
}

func (b *fakeBus) RobustWrite(p []byte, verify *byte) error {
	b.robustWrites++
	return b.Write(p)
}

func (b *fakeBus) Close() error {
	b.closed = true
	return nil
}
