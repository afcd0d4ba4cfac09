package resilience

import (
	"errors"
	"testing"
	"time"
)

var errTest = errors.New("test error")

func failN(cb *CircuitBreaker, n int) {
	for range n {
		cb.Execute(func() error { return errTest })
	}
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.cooldown != 30*time.Second {
		t.Errorf("cooldown = %v, want 30s", cb.cooldown)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_ClosedAllowsCalls(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 3})
	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("after 2 failures: state = %v, want closed", got)
	}

	failN(cb, 1)
	if got := cb.State(); got != StateOpen {
		t.Fatalf("after 3 failures: state = %v, want open", got)
	}
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 3})

	failN(cb, 2)
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	failN(cb, 2)
	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed (run was reset)", got)
	}
}

func TestCircuitBreaker_OpenRejectsCalls(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 1, Cooldown: time.Hour})
	failN(cb, 1)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Fatal("fn was called while breaker open")
	}
}

func TestCircuitBreaker_SingleHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 1, Cooldown: 10 * time.Millisecond})
	failN(cb, 1)
	time.Sleep(15 * time.Millisecond)

	if got := cb.State(); got != StateHalfOpen {
		t.Fatalf("after cooldown: state = %v, want half-open", got)
	}

	// First Allow takes the probe slot.
	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	// While the probe is in flight, every other call is rejected.
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second Allow: err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ProbeSuccessCloses(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 1, Cooldown: 10 * time.Millisecond})
	failN(cb, 1)
	time.Sleep(15 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	cb.RecordSuccess()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if st := cb.Status(); st.ConsecutiveFailures != 0 {
		t.Fatalf("ConsecutiveFailures = %d, want 0", st.ConsecutiveFailures)
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 1, Cooldown: 25 * time.Millisecond})
	failN(cb, 1)
	time.Sleep(30 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("probe Allow: %v", err)
	}
	cb.RecordFailure()

	// Re-opened, cooldown clock restarted: immediate calls are rejected.
	if got := cb.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow after re-open: err = %v, want ErrCircuitOpen", err)
	}

	// After another cooldown the next probe is admitted again.
	time.Sleep(30 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("second probe Allow: %v", err)
	}
}

func TestCircuitBreaker_StatusSnapshot(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "deepgram", MaxFailures: 5})
	failN(cb, 2)

	st := cb.Status()
	if st.Name != "deepgram" {
		t.Errorf("Name = %q, want %q", st.Name, "deepgram")
	}
	if st.State != StateClosed {
		t.Errorf("State = %v, want closed", st.State)
	}
	if st.ConsecutiveFailures != 2 {
		t.Errorf("ConsecutiveFailures = %d, want 2", st.ConsecutiveFailures)
	}
	if st.LastFailure.IsZero() {
		t.Error("LastFailure is zero, want set")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "test", MaxFailures: 1, Cooldown: time.Hour})
	failN(cb, 1)
	cb.Reset()

	if got := cb.State(); got != StateClosed {
		t.Fatalf("state = %v, want closed", got)
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("Execute after reset: %v", err)
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	transitions := make(chan [2]State, 8)
	cb := NewCircuitBreaker(Config{
		Name:        "test",
		MaxFailures: 1,
		Cooldown:    time.Hour,
		OnStateChange: func(_ string, from, to State) {
			transitions <- [2]State{from, to}
		},
	})
	failN(cb, 1)

	select {
	case tr := <-transitions:
		if tr[0] != StateClosed || tr[1] != StateOpen {
			t.Fatalf("transition = %v→%v, want closed→open", tr[0], tr[1])
		}
	case <-time.After(time.Second):
		t.Fatal("no transition callback received")
	}
}
