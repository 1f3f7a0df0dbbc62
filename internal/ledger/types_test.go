package ledger

import (
	"testing"
	"time"
)

func TestNewAddressFormat(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		addr := NewAddress()
		if !ValidAddress(addr) {
			t.Fatalf("generated address invalid: %s", addr)
		}
		if _, dup := seen[addr]; dup {
			t.Fatalf("duplicate address generated: %s", addr)
		}
		seen[addr] = struct{}{}
	}
}

func TestValidAddress(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"hp1" + "0123456789abcdef0123456789abcdef01234567", true},
		{"hp2" + "0123456789abcdef0123456789abcdef01234567", false},
		{"hp1" + "0123456789abcdef0123456789abcdef0123456", false},  // short
		{"hp1" + "0123456789abcdef0123456789abcdef0123456z", false}, // non-hex
		{"", false},
	}
	for _, tc := range cases {
		if got := ValidAddress(tc.addr); got != tc.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tc.addr, got, tc.want)
		}
	}
}

func TestNewHash(t *testing.T) {
	now := time.Now().UTC()
	a := NewHash(KindTransfer, "hp1a", "hp1b", 100, now, 1)
	b := NewHash(KindTransfer, "hp1a", "hp1b", 100, now, 2)
	if a == b {
		t.Fatalf("identical submissions with distinct sequence collided: %s", a)
	}
	if !ValidHash(a) || !ValidHash(b) {
		t.Fatalf("generated hash invalid: %s %s", a, b)
	}
	if ValidHash("0xnothex") {
		t.Fatal("accepted malformed hash")
	}

	// Same content and sequence derives the same hash.
	if again := NewHash(KindTransfer, "hp1a", "hp1b", 100, now, 1); again != a {
		t.Fatalf("hash not deterministic: %s vs %s", again, a)
	}
}
