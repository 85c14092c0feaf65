package netlab

import (
	"errors"
	"testing"
)

func TestAddrPoolSkipsNetworkAddress(t *testing.T) {
	t.Parallel()

	pool, err := NewAddrPool("10.0.5.0/24")
	if err != nil {
		t.Fatalf("NewAddrPool() error = %v", err)
	}

	got, err := pool.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := "10.0.5.1/24"; got != want {
		t.Errorf("first Next() = %q, want %q", got, want)
	}
}

func TestAddrPoolMonotonic(t *testing.T) {
	t.Parallel()

	pool, err := NewAddrPool("192.168.10.0/24")
	if err != nil {
		t.Fatalf("NewAddrPool() error = %v", err)
	}

	want := []string{"192.168.10.1/24", "192.168.10.2/24", "192.168.10.3/24"}
	for i, w := range want {
		got, err := pool.Next()
		if err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
		if got != w {
			t.Errorf("Next() #%d = %q, want %q", i, got, w)
		}
	}
}

func TestAddrPoolMasksHostBits(t *testing.T) {
	t.Parallel()

	pool, err := NewAddrPool("10.0.0.77/24")
	if err != nil {
		t.Fatalf("NewAddrPool() error = %v", err)
	}

	got, err := pool.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := "10.0.0.1/24"; got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestAddrPoolExhaustion(t *testing.T) {
	t.Parallel()

	pool, err := NewAddrPool("10.0.0.0/30")
	if err != nil {
		t.Fatalf("NewAddrPool() error = %v", err)
	}

	// A /30 holds .0 through .3; the network address is skipped, so
	// three allocations succeed.
	for i := range 3 {
		if _, err := pool.Next(); err != nil {
			t.Fatalf("Next() #%d error = %v", i, err)
		}
	}

	if _, err := pool.Next(); !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("Next() past subnet end error = %v, want ErrPoolExhausted", err)
	}
}

func TestAddrPoolIPv6(t *testing.T) {
	t.Parallel()

	pool, err := NewAddrPool("2001:db8::/64")
	if err != nil {
		t.Fatalf("NewAddrPool() error = %v", err)
	}

	got, err := pool.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if want := "2001:db8::1/64"; got != want {
		t.Errorf("Next() = %q, want %q", got, want)
	}
}

func TestAddrPoolRejectsInvalidCIDR(t *testing.T) {
	t.Parallel()

	if _, err := NewAddrPool("not-a-subnet"); err == nil {
		t.Error("NewAddrPool(invalid) error = nil, want error")
	}
}
