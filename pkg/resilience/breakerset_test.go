package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerSet_PartitionsAreIndependent(t *testing.T) {
	var reported []string
	set := NewBreakerSet("ats.notes", CircuitBreakerConfig{
		MinRequests: 2,
		OpenTimeout: time.Hour,
		OnStateChange: func(name string, _ float64) {
			reported = append(reported, name)
		},
	}, 0)

	for i := 0; i < 2; i++ {
		_ = set.Execute("acme", func() error { return errBoom })
	}
	if set.Get("acme").State() != "open" {
		t.Fatalf("acme state = %s, want open", set.Get("acme").State())
	}

	called := false
	if err := set.Execute("globex", func() error { called = true; return nil }); err != nil || !called {
		t.Errorf("globex blocked by acme's breaker: err=%v called=%v", err, called)
	}
	if err := set.Execute("acme", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("acme err = %v, want ErrCircuitOpen", err)
	}
	if len(reported) == 0 || reported[0] != "ats.notes" {
		t.Errorf("state reported as %v, want set name", reported)
	}
}

func TestBreakerSet_EvictsPastMax(t *testing.T) {
	set := NewBreakerSet("llm", CircuitBreakerConfig{MinRequests: 1, OpenTimeout: time.Hour}, 2)
	_ = set.Execute("a", func() error { return errBoom })
	_ = set.Execute("b", func() error { return nil })
	_ = set.Execute("c", func() error { return nil })

	if n := set.Len(); n != 2 {
		t.Fatalf("len = %d, want 2", n)
	}
	if err := set.Execute("a", func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("open breaker evicted before a closed one: err = %v", err)
	}
}
