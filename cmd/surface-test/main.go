// surface-test is a command-line tool for factory bring-up of the
// control surface hardware. It discovers and calibrates the motor and
// panel controllers over the control bus, then runs interactive
// exercises against them.
//
// Usage:
//
//	surface-test -device /dev/i2c-1 [options]
//
// Options:
//
//	-device string    Control bus character device (required)
//	-modes string     Haptic mode YAML file (optional)
//	-test string      Test to run: "discover", "sweep", "switches", "haptic", "all" (default: "discover")
//	-mode string      Haptic mode name for the haptic test (default: "default")
//	-monitor string   Serve diagnostics on this address (e.g. ":9120")
//	-duration         How long interactive tests run (default: 30s)
//
// Examples:
//
//	# Discover and calibrate, print what came up
//	surface-test -device /dev/i2c-1 -test discover
//
//	# Sweep every active knob across its travel
//	surface-test -device /dev/i2c-1 -test sweep
//
//	# Mirror switch presses onto the switch LEDs
//	surface-test -device /dev/i2c-1 -test switches -duration 2m
//
//	# Apply a haptic mode and stream positions while serving diagnostics
//	surface-test -device /dev/i2c-1 -test haptic -mode filter -monitor :9120
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/bus"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/haptics"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/log"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/metrics"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/monitor"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/position"
	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/surface"
)

func main() {
	device := flag.String("device", "", "Control bus character device (e.g. /dev/i2c-1)")
	modesFile := flag.String("modes", "", "Haptic mode YAML file")
	test := flag.String("test", "discover", "Test to run: discover, sweep, switches, haptic, all")
	modeName := flag.String("mode", haptics.DefaultName, "Haptic mode name for the haptic test")
	monitorAddr := flag.String("monitor", "", "Serve diagnostics on this address (e.g. :9120)")
	duration := flag.Duration("duration", 30*time.Second, "How long interactive tests run")

	flag.Parse()
	logger := log.New("surface-test")
	log.ConfigureFromEnv(logger)

	if *device == "" {
		fmt.Fprintf(os.Stderr, "Error: -device is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if !bus.IsDeviceAvailable(*device) {
		fmt.Fprintf(os.Stderr, "Error: %s is not an accessible bus device\n", *device)
		os.Exit(1)
	}

	cfg := surface.DefaultConfig()
	cfg.Device = *device
	cfg.Logger = logger.WithPrefix("surface")
	var reg *metrics.Registry
	if *monitorAddr != "" {
		reg = metrics.NewRegistry()
		cfg.Metrics = reg
	}
	if *modesFile != "" {
		reg := haptics.NewRegistry()
		if err := reg.LoadInto(*modesFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error loading haptic modes: %v\n", err)
			os.Exit(1)
		}
		cfg.Modes = reg
	}

	fmt.Printf("Opening %s and bootstrapping controllers...\n", *device)
	drv, err := surface.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer drv.Close()

	if *monitorAddr != "" {
		mon := monitor.New(monitor.Config{Addr: *monitorAddr, Source: drv, Metrics: reg})
		go func() {
			if err := mon.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Monitor server stopped: %v\n", err)
			}
		}()
		defer mon.Stop()
	}

	// Ctrl-C ends an interactive test early; the deferred Close still
	// disables haptics on the hardware.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	reportDiscovery(drv)

	var testErr error
	switch *test {
	case "discover":
		// Discovery already ran as part of Open.
	case "sweep":
		testErr = runSweep(drv)
	case "switches":
		testErr = runSwitchMirror(drv, *duration, stop)
	case "haptic":
		testErr = runHaptic(drv, *modeName, *duration, stop)
	case "all":
		if testErr = runSweep(drv); testErr == nil {
			testErr = runHaptic(drv, *modeName, *duration, stop)
		}
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown test %q\n", *test)
		os.Exit(1)
	}

	if testErr != nil {
		fmt.Fprintf(os.Stderr, "Test failed: %v\n", testErr)
		os.Exit(1)
	}
	fmt.Println("Done.")
}

// reportDiscovery prints which controllers came up and their firmware.
func reportDiscovery(drv *surface.Driver) {
	active := drv.ActiveKnobs()
	fmt.Printf("%d motor controllers active\n", len(active))
	for _, i := range active {
		fw, err := drv.FirmwareVersion(i)
		if err != nil {
			fw = "?"
		}
		fmt.Printf("  knob %2d  addr 0x%02x  firmware %s\n", i, surface.MotorAddr(i), fw)
	}
}

// runSweep drives every active knob to both rails and back to center.
func runSweep(drv *surface.Driver) error {
	targets := []uint16{0, haptics.HwMax, haptics.HwMax / 2}
	for _, i := range drv.ActiveKnobs() {
		fmt.Printf("Sweeping knob %d...\n", i)
		for _, target := range targets {
			if err := drv.SetKnobPosition(i, target, true); err != nil {
				return err
			}
			if err := waitSettled(drv, i, target, 5*time.Second); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitSettled polls one knob until its moving-to-target flag clears
// and it reports a position inside the target tolerance band.
func waitSettled(drv *surface.Driver, knob int, target uint16, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		drv.Lock()
		err := drv.RequestKnobStates()
		var states [surface.NumKnobs]surface.KnobState
		if err == nil {
			states, err = drv.ReadKnobStates()
		}
		drv.Unlock()
		if err != nil {
			return err
		}
		st := states[knob]
		if !st.MovingToTarget && position.WithinTargetThreshold(st.Position, target) {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	return fmt.Errorf("knob %d did not settle within %s", knob, timeout)
}

// runSwitchMirror lights each switch LED while its switch is held.
func runSwitchMirror(drv *surface.Driver, duration time.Duration, stop <-chan os.Signal) error {
	fmt.Println("Mirroring switches to LEDs; press switches to light them.")
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(duration)

	for {
		select {
		case <-stop:
			return nil
		case <-timeout:
			return nil
		case <-ticker.C:
			states, err := drv.ReadSwitchStates()
			if err != nil {
				return err
			}
			for n, on := range states {
				if err := drv.SetSwitchLedState(n, on); err != nil {
					return err
				}
			}
			if err := drv.CommitLedStates(); err != nil {
				return err
			}
		}
	}
}

// runHaptic applies a haptic mode to every active knob and streams
// their positions and tap events.
func runHaptic(drv *surface.Driver, modeName string, duration time.Duration, stop <-chan os.Signal) error {
	for _, i := range drv.ActiveKnobs() {
		if err := drv.SetKnobHapticMode(i, modeName); err != nil {
			return err
		}
	}
	fmt.Printf("Applied haptic mode %q; turn the knobs.\n", modeName)

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	timeout := time.After(duration)

	var last [surface.NumKnobs]uint16
	for {
		select {
		case <-stop:
			return nil
		case <-timeout:
			return nil
		case <-ticker.C:
			drv.Lock()
			err := drv.RequestKnobStates()
			var states [surface.NumKnobs]surface.KnobState
			if err == nil {
				states, err = drv.ReadKnobStates()
			}
			drv.Unlock()
			if err != nil {
				return err
			}
			for _, i := range drv.ActiveKnobs() {
				st := states[i]
				if st.TapDetected {
					fmt.Printf("knob %2d  tap\n", i)
				}
				if st.Position != last[i] {
					fmt.Printf("knob %2d  position %5d\n", i, st.Position)
					last[i] = st.Position
				}
			}
		}
	}
}
