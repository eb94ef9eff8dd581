// Controller discovery, bootstrap and calibration
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package surface

import (
	"time"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/retry"
)

// bootstrap brings every reachable controller online: discovery and
// address provisioning, firmware start, then bounded rounds of
// encoder-parameter calibration and datum search. A controller that
// never finds its datum stays inactive; the driver continues with the
// controllers that did succeed. Called with d.mu held; blocks the
// caller for the full duration (worst case tens of seconds), which is
// acceptable at open/reinit time only.
func (d *Driver) bootstrap() {
	d.stats.Bootstraps.Inc()
	d.discover()
	d.fetchFirmwareVersions()
	d.startFirmware()
	d.calibrate()

	active := 0
	for i := range d.knobs {
		if d.knobs[i].active {
			active++
		}
	}
	d.stats.Discovered.Set(float64(d.discoveredCount()))
	d.stats.Active.Set(float64(active))
	d.log.Info("bootstrap complete: %d of %d motor controllers active", active, d.discoveredCount())
}

// discover probes each knob index in turn and provisions its unique
// bus address from the shared default slot. A controller already
// answering at its unique address was provisioned in a previous
// session and is rebooted back to the default address first. The
// first failed assignment ends discovery: all later indices are
// treated as absent hardware.
func (d *Driver) discover() {
	for i := 0; i < NumKnobs; i++ {
		addr := MotorAddr(i)

		if d.probe(addr) {
			// Mid-session controller: force it back to the
			// default address before re-provisioning.
			if err := d.bus.Select(addr); err == nil {
				_ = d.bus.Write([]byte{cmdReboot})
			}
			time.Sleep(d.cfg.RebootDelay)
		}

		if err := d.provision(i); err != nil {
			d.log.Info("discovery stopped at knob %d: %v", i, err)
			return
		}
		d.knobs[i].present = true
	}
}

// probe checks whether a controller answers a status request at addr.
func (d *Driver) probe(addr int) bool {
	if err := d.bus.Select(addr); err != nil {
		return false
	}
	if err := d.bus.Write([]byte{cmdMotorStatus}); err != nil {
		return false
	}
	var resp [4]byte
	return d.bus.Read(resp[:]) == nil
}

// provision moves the controller waiting at the default address to
// knob i's unique address and confirms it answers there.
func (d *Driver) provision(i int) error {
	addr := MotorAddr(i)

	if err := d.bus.Select(DefaultAddr); err != nil {
		return err
	}
	if err := d.bus.RobustWrite([]byte{cmdConfigDevice, byte(addr)}, nil); err != nil {
		return err
	}
	if !d.probe(addr) {
		return knobBusError(i, "no response at assigned address", nil)
	}
	return nil
}

// fetchFirmwareVersions reads each discovered controller's firmware
// version string. Best-effort: a failure does not block startup.
func (d *Driver) fetchFirmwareVersions() {
	for i := range d.knobs {
		if !d.knobs[i].present {
			continue
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			continue
		}
		if err := d.bus.Write([]byte{cmdCheckFirmware}); err != nil {
			continue
		}
		var resp [firmwareVersionLen]byte
		if err := d.bus.Read(resp[:]); err != nil {
			continue
		}
		d.knobs[i].firmware = trimVersion(resp[:])
		d.log.Info("knob %d firmware: %s", i, d.knobs[i].firmware)
	}
}

// startFirmware starts the panel controller and every discovered
// motor controller. Starting an already-started controller is a
// protocol-level no-op.
func (d *Driver) startFirmware() {
	if err := d.bus.Select(PanelAddr); err == nil {
		if err := d.bus.Write([]byte{cmdStartFirmware}); err != nil {
			d.log.Warn("panel controller start failed: %v", err)
		}
	}
	for i := range d.knobs {
		if !d.knobs[i].present {
			continue
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			continue
		}
		if err := d.bus.Write([]byte{cmdStartFirmware}); err != nil {
			d.log.Warn("knob %d firmware start failed: %v", i, err)
		}
	}
}

// calibrate runs up to CalRounds rounds of the encoder-parameter
// calibration + datum search pair. Controllers that found their datum
// leave the retry set; a controller reporting an explicit calibration
// failure stops being retried. With no discovered controllers the
// bootstrap ends here.
func (d *Driver) calibrate() {
	for round := 0; round < d.cfg.CalRounds; round++ {
		if !d.anyPendingDatum() {
			return
		}

		d.runEncoderCal()
		d.runDatumSearch()
	}

	for i := range d.knobs {
		if d.knobs[i].present && !d.knobs[i].active {
			d.log.Warn("knob %d excluded: calibration/datum search never succeeded", i)
		}
	}
}

// anyPendingDatum reports whether any discovered controller still
// needs a datum and is worth retrying.
func (d *Driver) anyPendingDatum() bool {
	for i := range d.knobs {
		k := &d.knobs[i]
		if k.present && !k.active && !k.calFailed {
			return true
		}
	}
	return false
}

// runEncoderCal requests encoder-parameter calibration on every
// controller still in the retry set, staggering the requests, then
// polls each one's status. A failed read while polling counts as "not
// yet calibrated"; only an explicit failure status removes the
// controller from future rounds.
func (d *Driver) runEncoderCal() {
	requested := false
	for i := range d.knobs {
		k := &d.knobs[i]
		if !k.present || k.active || k.calFailed {
			continue
		}
		k.calDone = false

		if requested {
			time.Sleep(d.cfg.RequestStagger)
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			continue
		}
		if err := d.bus.Write([]byte{cmdCalEncParams}); err != nil {
			d.log.Warn("knob %d encoder calibration request failed: %v", i, err)
			continue
		}
		requested = true
	}

	for i := range d.knobs {
		k := &d.knobs[i]
		if !k.present || k.active || k.calFailed {
			continue
		}
		switch d.pollStatus(i, cmdCalEncParams) {
		case statusDone:
			k.calDone = true
		case statusFailed:
			k.calFailed = true
			d.stats.CalFailures.Inc()
			d.log.Warn("knob %d reported encoder calibration failure", i)
		}
	}
}

// runDatumSearch requests a datum search on every controller whose
// encoder calibration succeeded this round, then polls for the datum.
// A controller that finds its datum becomes active.
func (d *Driver) runDatumSearch() {
	requested := false
	for i := range d.knobs {
		k := &d.knobs[i]
		if !k.present || k.active || !k.calDone {
			continue
		}
		if requested {
			time.Sleep(d.cfg.RequestStagger)
		}
		if err := d.bus.Select(MotorAddr(i)); err != nil {
			continue
		}
		if err := d.bus.Write([]byte{cmdFindDatum}); err != nil {
			d.log.Warn("knob %d datum search request failed: %v", i, err)
			continue
		}
		requested = true
	}

	for i := range d.knobs {
		k := &d.knobs[i]
		if !k.present || k.active || !k.calDone {
			continue
		}
		if d.pollStatus(i, cmdFindDatum) == statusDone {
			k.active = true
			d.log.Info("knob %d found datum, controller active", i)
		}
	}
}

// pollStatus polls one controller's status byte for the given command
// until it reports done or failure, or the poll budget runs out.
// Returns the last status seen (statusBusy when the budget expires
// without an answer).
func (d *Driver) pollStatus(knob int, cmd byte) byte {
	status := byte(statusBusy)
	_ = retry.DoUntil(d.cfg.PollLimit, d.cfg.PollInterval, func() (bool, error) {
		if err := d.bus.Select(MotorAddr(knob)); err != nil {
			return false, err
		}
		if err := d.bus.Write([]byte{cmd}); err != nil {
			return false, err
		}
		var resp [1]byte
		if err := d.bus.Read(resp[:]); err != nil {
			// Treat a failed read as "still busy" and keep
			// polling.
			return false, err
		}
		switch resp[0] {
		case statusDone, statusFailed:
			status = resp[0]
			return true, nil
		default:
			return false, nil
		}
	})
	return status
}

// discoveredCount returns how many motor controllers discovery found.
func (d *Driver) discoveredCount() int {
	n := 0
	for i := range d.knobs {
		if d.knobs[i].present {
			n++
		}
	}
	return n
}
