package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func TestBreakerOpensAndRecovers(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("cache", Config{FailureThreshold: 2, OpenTimeout: time.Minute, Now: clock.Now})

	failing := errors.New("dial tcp: connection refused")
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return failing }); !errors.Is(err, failing) {
			t.Fatalf("attempt %d: err = %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("err = %v, want ErrOpen", err)
	}
	if called {
		t.Fatalf("backend must not be called while open")
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := New("cache", Config{FailureThreshold: 1, OpenTimeout: time.Second, Now: clock.Now})

	_ = b.Execute(func() error { return errors.New("down") })
	clock.t = clock.t.Add(2 * time.Second)

	_ = b.Execute(func() error { return errors.New("still down") })
	if b.State() != StateOpen {
		t.Errorf("state = %s, want open", b.State())
	}
}
