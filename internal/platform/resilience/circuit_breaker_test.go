package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clock *fakeClock, cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	return cb
}

var errRPC = errors.New("connection refused")

func fail(context.Context) error    { return errRPC }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_Transitions(t *testing.T) {
	type step struct {
		advance time.Duration
		fn      func(context.Context) error
		wantErr error
		want    State
	}

	tests := []struct {
		name  string
		steps []step
	}{
		{
			name: "opens after threshold",
			steps: []step{
				{fn: fail, wantErr: errRPC, want: StateClosed},
				{fn: fail, wantErr: errRPC, want: StateClosed},
				{fn: fail, wantErr: errRPC, want: StateOpen},
				{fn: succeed, wantErr: ErrCircuitOpen, want: StateOpen},
			},
		},
		{
			name: "success resets failure count",
			steps: []step{
				{fn: fail, wantErr: errRPC, want: StateClosed},
				{fn: fail, wantErr: errRPC, want: StateClosed},
				{fn: succeed, want: StateClosed},
				{fn: fail, wantErr: errRPC, want: StateClosed},
				{fn: fail, wantErr: errRPC, want: StateClosed},
			},
		},
		{
			name: "probe after timeout closes",
			steps: []step{
				{fn: fail, wantErr: errRPC},
				{fn: fail, wantErr: errRPC},
				{fn: fail, wantErr: errRPC, want: StateOpen},
				{advance: 9 * time.Second, fn: succeed, wantErr: ErrCircuitOpen, want: StateOpen},
				{advance: 2 * time.Second, fn: succeed, want: StateHalfOpen},
				{fn: succeed, want: StateClosed},
			},
		},
		{
			name: "failed probe reopens",
			steps: []step{
				{fn: fail, wantErr: errRPC},
				{fn: fail, wantErr: errRPC},
				{fn: fail, wantErr: errRPC, want: StateOpen},
				{advance: 11 * time.Second, fn: fail, wantErr: errRPC, want: StateOpen},
				{advance: 5 * time.Second, fn: succeed, wantErr: ErrCircuitOpen, want: StateOpen},
			},
		},
		{
			name: "cancellation does not count",
			steps: []step{
				{fn: func(context.Context) error { return context.Canceled }, wantErr: context.Canceled},
				{fn: func(context.Context) error { return context.DeadlineExceeded }, wantErr: context.DeadlineExceeded},
				{fn: fail, wantErr: errRPC},
				{fn: fail, wantErr: errRPC, want: StateClosed},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			cb := newTestBreaker(clock, CircuitBreakerConfig{
				Name:             "rpc",
				FailureThreshold: 3,
				SuccessThreshold: 2,
				OpenTimeout:      10 * time.Second,
			})

			for i, s := range tt.steps {
				clock.Advance(s.advance)
				err := cb.Execute(context.Background(), s.fn)
				if !errors.Is(err, s.wantErr) && !(err == nil && s.wantErr == nil) {
					t.Fatalf("step %d: err = %v, want %v", i, err, s.wantErr)
				}
				if got := cb.State(); got != s.want {
					t.Fatalf("step %d: state = %s, want %s", i, got, s.want)
				}
			}
		})
	}
}

func TestCircuitBreaker_IsFailure(t *testing.T) {
	clientErr := errors.New("invalid params")
	cb := newTestBreaker(newFakeClock(), CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, clientErr) },
	})

	_ = cb.Execute(context.Background(), func(context.Context) error { return clientErr })
	if cb.State() != StateClosed {
		t.Fatalf("client error opened the circuit")
	}
	_ = cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var got []string
	cb := newTestBreaker(clock, CircuitBreakerConfig{
		Name:             "primary",
		FailureThreshold: 1,
		OpenTimeout:      time.Second,
		OnStateChange: func(name string, from, to State) {
			got = append(got, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(2 * time.Second)
	_ = cb.Execute(context.Background(), succeed)

	want := []string{"primary:closed->open", "primary:open->half-open", "primary:half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := newTestBreaker(newFakeClock(), CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), fail)
	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state after Reset = %s", cb.State())
	}
	if err := cb.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Execute after Reset: %v", err)
	}
}

func TestExecuteWithResult(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})

	slot, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (uint64, error) {
		return 42, nil
	})
	if err != nil || slot != 42 {
		t.Fatalf("got %d, %v", slot, err)
	}

	_, _ = ExecuteWithResult(cb, context.Background(), func(context.Context) (uint64, error) {
		return 0, errRPC
	})
	if _, err := ExecuteWithResult(cb, context.Background(), func(context.Context) (uint64, error) {
		t.Error("called while open")
		return 0, nil
	}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				if (i+j)%2 == 0 {
					_ = cb.Execute(context.Background(), fail)
				} else {
					_ = cb.Execute(context.Background(), succeed)
				}
				_ = cb.State()
			}
		}(i)
	}
	wg.Wait()
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(9):      "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %s, want %s", int(s), got, want)
		}
	}
}
