package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:      3,
		Timeout:          100 * time.Millisecond,
		SuccessThreshold: 2,
		RequestTimeout:   50 * time.Millisecond,
	}
}

func fail(context.Context) error    { return errors.New("store unavailable") }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be CLOSED, got %v", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected initial failures to be 0, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_FailuresLeadToOpen(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	for i := 0; i < 3; i++ {
		if err := cb.Execute(context.Background(), fail); err == nil {
			t.Fatal("Expected error from failing call")
		}
	}
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after max failures, got %v", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
	if called {
		t.Error("Expected call to be rejected while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	_ = cb.Execute(context.Background(), fail)
	_ = cb.Execute(context.Background(), fail)
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected failures to reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Now()
	var transitions []CircuitBreakerState
	cfg := testConfig()
	cfg.OnStateChange = func(_, to CircuitBreakerState) { transitions = append(transitions, to) }
	cb := NewCircuitBreaker(cfg)
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	now = now.Add(cfg.Timeout)

	for i := 0; i < cfg.SuccessThreshold; i++ {
		if err := cb.Execute(context.Background(), succeed); err != nil {
			t.Fatalf("Expected probe %d to succeed, got %v", i, err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("Expected CLOSED after successful probes, got %v", cb.State())
	}
	want := []CircuitBreakerState{StateOpen, StateHalfOpen, StateClosed}
	if len(transitions) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %v, got %v", i, want[i], transitions[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(testConfig())
	cb.now = func() time.Time { return now }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	now = now.Add(time.Second)
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Errorf("Expected OPEN after failed probe, got %v", cb.State())
	}
}

func TestCircuitBreaker_Timeout(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, ErrCircuitBreakerTimeout) {
		t.Errorf("Expected ErrCircuitBreakerTimeout, got %v", err)
	}
	if cb.Failures() != 1 {
		t.Errorf("Expected timeout to count as failure, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_CallerCancelIsNotFailure(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected no failure recorded, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), fail)
	}
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED after reset, got %v", cb.State())
	}
}
