package retry

import (
	"errors"
	"testing"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(5, 0, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	failure := errors.New("transient")
	calls := 0
	err := Do(5, 0, func() error {
		calls++
		return failure
	})
	if !errors.Is(err, failure) {
		t.Errorf("Do() = %v, want %v", err, failure)
	}
	if calls != 5 {
		t.Errorf("calls = %d, want exactly 5", calls)
	}
}

func TestDoEventualSuccess(t *testing.T) {
	calls := 0
	err := Do(5, 0, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoAbortStopsImmediately(t *testing.T) {
	timeout := errors.New("timed out")
	calls := 0
	err := Do(5, 0, func() error {
		calls++
		return Abort(timeout)
	})
	if !errors.Is(err, timeout) {
		t.Errorf("Do() = %v, want %v", err, timeout)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on abort)", calls)
	}
}

func TestIsAbort(t *testing.T) {
	inner := errors.New("x")
	if !IsAbort(Abort(inner)) {
		t.Error("IsAbort(Abort(err)) = false, want true")
	}
	if IsAbort(inner) {
		t.Error("IsAbort(plain err) = true, want false")
	}
	if Abort(nil) != nil {
		t.Error("Abort(nil) != nil")
	}
}

func TestDoUntil(t *testing.T) {
	tests := []struct {
		name      string
		fn        func(call int) (bool, error)
		wantErr   error
		wantCalls int
	}{
		{
			name:      "done on third poll",
			fn:        func(c int) (bool, error) { return c == 3, nil },
			wantErr:   nil,
			wantCalls: 3,
		},
		{
			name:      "never done",
			fn:        func(c int) (bool, error) { return false, nil },
			wantErr:   ErrExhausted,
			wantCalls: 4,
		},
		{
			name: "poll errors are tolerated",
			fn: func(c int) (bool, error) {
				if c < 3 {
					return false, errors.New("read failed")
				}
				return true, nil
			},
			wantErr:   nil,
			wantCalls: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := DoUntil(4, 0, func() (bool, error) {
				calls++
				return tt.fn(calls)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("DoUntil() = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDoUntilAbort(t *testing.T) {
	timeout := errors.New("timed out")
	calls := 0
	err := DoUntil(10, 0, func() (bool, error) {
		calls++
		return false, Abort(timeout)
	})
	if !errors.Is(err, timeout) {
		t.Errorf("DoUntil() = %v, want %v", err, timeout)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
