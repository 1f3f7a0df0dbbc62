package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseHP(t *testing.T) {
	cases := []struct {
		in      string
		planck  int64
		wantErr bool
	}{
		{"1", 1_000_000_000_000, false},
		{"2.5", 2_500_000_000_000, false},
		{"0.001", 1_000_000_000, false},
		{"0.000000000001", 1, false},
		{"0.0000000000001", 0, true}, // below one planck
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}

	for _, tc := range cases {
		got, err := ParseHP(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHP(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHP(%q): %v", tc.in, err)
			continue
		}
		if got != tc.planck {
			t.Errorf("ParseHP(%q) = %d, want %d", tc.in, got, tc.planck)
		}
	}
}

func TestPlanckToHPRoundTrip(t *testing.T) {
	planck := int64(12_345_000_000_000)
	hp := PlanckToHP(planck)
	if hp.String() != "12.345" {
		t.Fatalf("PlanckToHP = %s, want 12.345", hp)
	}
	back, err := HPToPlanck(hp)
	if err != nil {
		t.Fatalf("HPToPlanck: %v", err)
	}
	if back != planck {
		t.Fatalf("round trip = %d, want %d", back, planck)
	}
}

func TestPegConversions(t *testing.T) {
	// 1 HP = ₹1000 = 100,000 paise.
	if got := PaiseToPlanck(100_000); got != PlanckPerHP {
		t.Fatalf("PaiseToPlanck(100000) = %d, want %d", got, PlanckPerHP)
	}
	if got := PlanckToPaise(PlanckPerHP); got != 100_000 {
		t.Fatalf("PlanckToPaise(1 HP) = %d, want 100000", got)
	}
	if got := PlanckToINR(PlanckPerHP); !got.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("PlanckToINR(1 HP) = %s, want 1000", got)
	}
	// ₹250.75 spends survive the INR→HP→INR round trip.
	paise := int64(25_075)
	if got := PlanckToPaise(PaiseToPlanck(paise)); got != paise {
		t.Fatalf("paise round trip = %d, want %d", got, paise)
	}
	if got := FormatPaise(paise); got != "250.75" {
		t.Fatalf("FormatPaise = %q, want 250.75", got)
	}
}
