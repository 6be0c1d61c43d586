package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/adforge/adsengine/internal/apierrors"
)

var errBoom = errors.New("boom")

func failing() error { return errBoom }

func TestBreaker_InitialState(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 3, Cooldown: time.Minute})

	if b.State() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", b.State())
	}
	if err := b.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected call to pass through, got %v", err)
	}
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		if err := b.Call(failing); !errors.Is(err, errBoom) {
			t.Fatalf("Expected wrapped call error, got %v", err)
		}
		if b.State() != StateClosed {
			t.Fatalf("Expected Closed before threshold, got %s", b.State())
		}
	}

	b.Call(failing)
	if b.State() != StateOpen {
		t.Errorf("Expected Open after 3 failures, got %s", b.State())
	}

	// The next call must be rejected without invoking the function.
	invoked := false
	err := b.Call(func() error {
		invoked = true
		return nil
	})
	if !errors.Is(err, apierrors.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if invoked {
		t.Error("Open circuit must not invoke the wrapped call")
	}
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 3, Cooldown: time.Minute})

	b.Call(failing)
	b.Call(failing)
	b.Call(func() error { return nil })
	b.Call(failing)
	b.Call(failing)

	if b.State() != StateClosed {
		t.Errorf("Expected Closed after counter reset, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeSuccess(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 2, Cooldown: 10 * time.Millisecond})

	b.Call(failing)
	b.Call(failing)
	if b.State() != StateOpen {
		t.Fatalf("Expected Open, got %s", b.State())
	}

	time.Sleep(15 * time.Millisecond)

	if err := b.Call(func() error { return nil }); err != nil {
		t.Fatalf("Expected probe to run, got %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected Closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbeFailure(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 2, Cooldown: 10 * time.Millisecond})

	b.Call(failing)
	b.Call(failing)

	time.Sleep(15 * time.Millisecond)

	if err := b.Call(failing); !errors.Is(err, errBoom) {
		t.Fatalf("Expected probe failure to propagate, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("Expected Open after failed probe, got %s", b.State())
	}

	// Fresh cooldown: an immediate follow-up is rejected again.
	if err := b.Call(failing); !errors.Is(err, apierrors.ErrCircuitOpen) {
		t.Errorf("Expected rejection during renewed cooldown, got %v", err)
	}
}

func TestBreaker_HalfOpenSingleProbe(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 1, Cooldown: 10 * time.Millisecond})

	b.Call(failing)
	time.Sleep(15 * time.Millisecond)

	if !b.allow() {
		t.Fatal("Expected first probe to be allowed")
	}
	if b.allow() {
		t.Error("Expected second concurrent probe to be rejected")
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("test", Config{FailureThreshold: 1, Cooldown: time.Hour})

	b.Call(failing)
	if b.State() != StateOpen {
		t.Fatalf("Expected Open, got %s", b.State())
	}

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("Expected Closed after reset, got %s", b.State())
	}
	if err := b.Call(func() error { return nil }); err != nil {
		t.Errorf("Expected call to pass after reset, got %v", err)
	}
}

func TestBreaker_OnTripFiresOncePerTrip(t *testing.T) {
	trips := make(chan error, 2)
	b := NewBreaker("test", Config{FailureThreshold: 2, Cooldown: time.Hour})
	b.SetOnTrip(func(err error) { trips <- err })

	b.Call(failing)
	b.Call(failing)
	b.Call(failing) // rejected, must not re-fire

	select {
	case err := <-trips:
		if !errors.Is(err, errBoom) {
			t.Errorf("Expected trip callback to carry the failure, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected trip callback to fire")
	}

	select {
	case <-trips:
		t.Error("Expected exactly one trip callback")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBreaker_StatusReporting(t *testing.T) {
	b := NewBreaker("platform", Config{FailureThreshold: 1, Cooldown: time.Hour})
	b.Call(failing)

	status := b.GetStatus()
	if status.State != "open" {
		t.Errorf("Expected open status, got %s", status.State)
	}
	if status.TotalTrips != 1 {
		t.Errorf("Expected 1 trip, got %d", status.TotalTrips)
	}
	if status.TimeUntilProbe <= 0 {
		t.Error("Expected a positive time until probe while open")
	}
	if status.LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}
