// Package retry provides bounded retry combinators for bus
// transactions and calibration polling. The retry budget and delay are
// a single reusable unit so they can be tested independently of any
// specific transaction.
package retry

import (
	"errors"
	"time"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// abortError marks an error as terminal: no further attempts are made.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Abort wraps err so Do and DoUntil stop retrying immediately and
// return the wrapped error. Used for timeouts, where retrying a bus
// with no device present only wastes the budget.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// IsAbort reports whether err was marked terminal with Abort.
func IsAbort(err error) bool {
	var ae *abortError
	return errors.As(err, &ae)
}

// Do runs fn up to attempts times, sleeping delay between attempts
// (not before the first). It returns nil on the first success, the
// unwrapped error immediately if fn aborts, and the last error
// otherwise.
func Do(attempts int, delay time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && delay > 0 {
			time.Sleep(delay)
		}
		err := fn()
		if err == nil {
			return nil
		}
		var ae *abortError
		if errors.As(err, &ae) {
			return ae.err
		}
		lastErr = err
	}
	return lastErr
}

// DoUntil polls fn up to attempts times at interval until it reports
// done. An error from fn does not end the poll; the hardware may
// simply still be busy. Returns ErrExhausted when the budget runs out
// without fn reporting done, or the unwrapped error if fn aborts.
func DoUntil(attempts int, interval time.Duration, fn func() (done bool, err error)) error {
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}
		done, err := fn()
		if err != nil {
			var ae *abortError
			if errors.As(err, &ae) {
				return ae.err
			}
			continue
		}
		if done {
			return nil
		}
	}
	return ErrExhausted
}
