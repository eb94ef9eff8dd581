// Package bus provides the shared control bus used by the surface
// control hardware. The bus is exposed by the kernel as an I2C-like
// character device: a target controller is selected with an ioctl and
// subsequent reads/writes address that controller until the next select.
package bus

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Melbourne-Instruments/nina-ui-sub000/pkg/metrics"
)

// Common errors
var (
	ErrNotConnected = errors.New("bus: not connected")
	ErrTimeout      = errors.New("bus: operation timed out")
	ErrClosed       = errors.New("bus: device closed")
	ErrVerify       = errors.New("bus: read-back verification failed")
)

// I2C_SLAVE selects the target address for subsequent transfers
// (linux/i2c-dev.h).
const ioctlSelectTarget = 0x0703

// invalidFd is the sentinel for a device that is not open.
const invalidFd = -1

// Syscall seams, swapped out by tests.
var (
	sysWrite       = unix.Write
	sysRead        = unix.Read
	sysIoctlSetInt = unix.IoctlSetInt
)

// Config holds bus device configuration.
type Config struct {
	// Device path (e.g., /dev/i2c-1)
	Device string

	// RetryLimit is the bounded retry count for transient errors
	// (default: 5)
	RetryLimit int

	// RetryDelay is the delay between robust write attempts
	// (default: 1ms)
	RetryDelay time.Duration

	// Metrics records transfer retry/timeout counters when non-nil.
	Metrics *metrics.BusMetrics
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		RetryLimit: 5,
		RetryDelay: 1 * time.Millisecond,
	}
}

// Device represents an open control bus device. A Device owns its file
// descriptor exclusively; Close invalidates it.
type Device struct {
	mu       sync.Mutex
	fd       int
	device   string
	config   Config
	selected int
	stats    *metrics.BusMetrics
}

var nopBusMetrics = &metrics.BusMetrics{}

// m returns the metric set, or a discarding one when none was
// configured.
func (d *Device) m() *metrics.BusMetrics {
	if d.stats == nil {
		return nopBusMetrics
	}
	return d.stats
}

// Open opens the control bus character device.
func Open(cfg Config) (*Device, error) {
	if cfg.Device == "" {
		return nil, errors.New("bus: device path required")
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = 5
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 1 * time.Millisecond
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("bus: open %s: %w", cfg.Device, err)
	}

	return &Device{
		fd:       fd,
		device:   cfg.Device,
		config:   cfg,
		selected: -1,
		stats:    cfg.Metrics,
	}, nil
}

// IsDeviceAvailable checks if a device path exists and is a character
// device we can open.
func IsDeviceAvailable(device string) bool {
	info, err := os.Stat(device)
	if err != nil {
		return false
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return false
	}
	fd, err := unix.Open(device, unix.O_RDWR, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

// Select makes addr the target of subsequent Read/Write calls. This is
// a mutating bus operation: it changes which physical controller the
// next transfer reaches.
func (d *Device) Select(addr int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd == invalidFd {
		return ErrClosed
	}

	if err := sysIoctlSetInt(d.fd, ioctlSelectTarget, addr); err != nil {
		return fmt.Errorf("bus: select 0x%02x: %w", addr, err)
	}
	d.selected = addr
	return nil
}

// Selected returns the currently selected address, or -1 if none.
func (d *Device) Selected() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.selected
}

// Write writes p to the selected controller. Transient errors are
// retried up to the configured limit with no delay; a timeout means no
// device is present and aborts immediately.
func (d *Device) Write(p []byte) error {
	d.mu.Lock()
	fd := d.fd
	limit := d.config.RetryLimit
	d.mu.Unlock()
	if fd == invalidFd {
		return ErrClosed
	}

	var lastErr error
	for attempt := 0; attempt < limit; attempt++ {
		_, err := sysWrite(fd, p)
		if err == nil {
			return nil
		}
		if isTimeout(err) {
			d.m().Timeouts.Inc()
			return fmt.Errorf("%w: write: %v", ErrTimeout, err)
		}
		d.m().WriteRetries.Inc()
		lastErr = err
	}
	return fmt.Errorf("bus: write: %w", lastErr)
}

// Read reads exactly len(p) bytes from the selected controller, with
// the same retry semantics as Write.
func (d *Device) Read(p []byte) error {
	d.mu.Lock()
	fd := d.fd
	limit := d.config.RetryLimit
	d.mu.Unlock()
	if fd == invalidFd {
		return ErrClosed
	}

	var lastErr error
	for attempt := 0; attempt < limit; attempt++ {
		n, err := sysRead(fd, p)
		if err == nil && n == len(p) {
			return nil
		}
		if err != nil && isTimeout(err) {
			d.m().Timeouts.Inc()
			return fmt.Errorf("%w: read: %v", ErrTimeout, err)
		}
		if err == nil {
			err = fmt.Errorf("short read: %d of %d bytes", n, len(p))
		}
		d.m().ReadRetries.Inc()
		lastErr = err
	}
	return fmt.Errorf("bus: read: %w", lastErr)
}

// RobustWrite writes p with the full transaction retried up to the
// configured limit, delaying between attempts and re-selecting the
// target address before each try. When verify is non-nil a one-byte
// read-back must match *verify before the write counts as successful;
// the read-back itself gets the same bounded retry budget. The caller
// is expected to log failures with the selected address and command
// byte.
func (d *Device) RobustWrite(p []byte, verify *byte) error {
	d.mu.Lock()
	fd := d.fd
	limit := d.config.RetryLimit
	delay := d.config.RetryDelay
	addr := d.selected
	d.mu.Unlock()
	if fd == invalidFd {
		return ErrClosed
	}

	cmd := byte(0)
	if len(p) > 0 {
		cmd = p[0]
	}

	var lastErr error
	for attempt := 0; attempt < limit; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
		}
		if addr >= 0 {
			if err := sysIoctlSetInt(fd, ioctlSelectTarget, addr); err != nil {
				lastErr = fmt.Errorf("bus: re-select 0x%02x: %w", addr, err)
				continue
			}
		}
		_, err := sysWrite(fd, p)
		if err != nil {
			if isTimeout(err) {
				d.m().Timeouts.Inc()
				return fmt.Errorf("%w: robust write addr 0x%02x cmd 0x%02x", ErrTimeout, addr, cmd)
			}
			d.m().RobustRetries.Inc()
			lastErr = err
			continue
		}
		if verify == nil {
			return nil
		}

		ok, err := d.verifyReadBack(fd, limit, delay, *verify)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		d.m().RobustRetries.Inc()
		lastErr = fmt.Errorf("%w: addr 0x%02x cmd 0x%02x expected 0x%02x", ErrVerify, addr, cmd, *verify)
	}
	if lastErr == nil {
		lastErr = ErrVerify
	}
	if errors.Is(lastErr, ErrVerify) {
		d.m().VerifyFails.Inc()
	}
	return lastErr
}

// verifyReadBack polls a single status byte until it matches expected
// or the retry budget runs out. A timeout is terminal.
func (d *Device) verifyReadBack(fd, limit int, delay time.Duration, expected byte) (bool, error) {
	buf := make([]byte, 1)
	for attempt := 0; attempt < limit; attempt++ {
		if attempt > 0 {
			time.Sleep(delay)
		}
		n, err := sysRead(fd, buf)
		if err != nil {
			if isTimeout(err) {
				return false, fmt.Errorf("%w: read-back", ErrTimeout)
			}
			continue
		}
		if n == 1 && buf[0] == expected {
			return true, nil
		}
	}
	return false, nil
}

// Close closes the bus device. Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fd == invalidFd {
		return nil
	}
	fd := d.fd
	d.fd = invalidFd
	d.selected = -1
	return unix.Close(fd)
}

// Device returns the device path.
func (d *Device) Path() string {
	return d.device
}

// Fd returns the underlying file descriptor, or -1 when closed. The
// caller must not close the fd directly.
func (d *Device) Fd() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fd
}

// isTimeout reports whether err indicates that no controller answered
// the transfer. The i2c core reports an absent or stuck device as
// ETIMEDOUT (or EREMOTEIO from some adapters).
func isTimeout(err error) bool {
	return errors.Is(err, unix.ETIMEDOUT) || errors.Is(err, unix.EREMOTEIO)
}
