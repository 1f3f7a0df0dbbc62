package cards

import (
	"testing"
	"time"
)

// quietHour is mid-afternoon so odd_hours stays out of the way.
var quietHour = time.Date(2026, time.March, 14, 13, 0, 0, 0, time.UTC)

func TestScoreFraudAmountSpike(t *testing.T) {
	recent := []Transaction{
		{Amount: 10_000, CreatedAt: quietHour.Add(-2 * time.Hour)},
		{Amount: 20_000, CreatedAt: quietHour.Add(-3 * time.Hour)},
	}

	// Average of the trailing day is 15,000 paise, so the rule arms above
	// 45,000.
	score, fired := scoreFraud(fraudInput{amount: 45_001, category: CategoryGroceries, now: quietHour, recent: recent})
	if score != 30 {
		t.Fatalf("score = %d, want 30", score)
	}
	if len(fired) != 1 || fired[0] != "amount_spike" {
		t.Fatalf("fired = %v, want [amount_spike]", fired)
	}

	score, _ = scoreFraud(fraudInput{amount: 45_000, category: CategoryGroceries, now: quietHour, recent: recent})
	if score != 0 {
		t.Fatalf("exactly 3x average scored %d, want 0", score)
	}

	score, _ = scoreFraud(fraudInput{amount: 1_000_000, category: CategoryGroceries, now: quietHour})
	if score != 0 {
		t.Fatalf("first transaction scored %d, want 0", score)
	}
}

func TestScoreFraudRapidFire(t *testing.T) {
	burst := func(n int) []Transaction {
		txs := make([]Transaction, n)
		for i := range txs {
			txs[i] = Transaction{Amount: 10_000, CreatedAt: quietHour.Add(-time.Duration(i+1) * time.Minute)}
		}
		return txs
	}

	score, fired := scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: quietHour, recent: burst(4)})
	if score != 25 {
		t.Fatalf("score = %d, want 25", score)
	}
	if len(fired) != 1 || fired[0] != "rapid_fire" {
		t.Fatalf("fired = %v, want [rapid_fire]", fired)
	}

	score, _ = scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: quietHour, recent: burst(3)})
	if score != 0 {
		t.Fatalf("three approvals scored %d, want 0", score)
	}

	stale := burst(4)
	for i := range stale {
		stale[i].CreatedAt = quietHour.Add(-time.Duration(i+6) * time.Minute)
	}
	score, _ = scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: quietHour, recent: stale})
	if score != 0 {
		t.Fatalf("stale burst scored %d, want 0", score)
	}
}

func TestScoreFraudHighRiskCategory(t *testing.T) {
	for _, category := range []MerchantCategory{CategoryATMWithdrawal, CategoryFuel} {
		score, fired := scoreFraud(fraudInput{amount: 5_000, category: category, now: quietHour})
		if score != 15 {
			t.Fatalf("%s scored %d, want 15", category, score)
		}
		if len(fired) != 1 || fired[0] != "high_risk_category" {
			t.Fatalf("%s fired %v, want [high_risk_category]", category, fired)
		}
	}

	if score, _ := scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: quietHour}); score != 0 {
		t.Fatalf("groceries scored %d, want 0", score)
	}
}

func TestScoreFraudOddHours(t *testing.T) {
	cases := []struct {
		hour int
		want int
	}{
		{0, 10},
		{2, 10},
		{5, 10},
		{6, 0},
		{13, 0},
		{22, 0},
		{23, 10},
	}
	for _, tc := range cases {
		now := time.Date(2026, time.March, 14, tc.hour, 30, 0, 0, time.UTC)
		score, _ := scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: now})
		if score != tc.want {
			t.Fatalf("hour %02d scored %d, want %d", tc.hour, score, tc.want)
		}
	}
}

func TestScoreFraudUsesLocalHour(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)

	// 21:00 UTC is 02:30 in Kolkata.
	now := time.Date(2026, time.March, 14, 21, 0, 0, 0, time.UTC)
	if score, _ := scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: now.In(ist)}); score != 10 {
		t.Fatalf("local night scored %d, want 10", score)
	}
	if score, _ := scoreFraud(fraudInput{amount: 5_000, category: CategoryGroceries, now: now}); score != 0 {
		t.Fatalf("utc evening scored %d, want 0", score)
	}
}

func TestScoreFraudAdditive(t *testing.T) {
	now := time.Date(2026, time.March, 14, 23, 30, 0, 0, time.UTC)
	recent := make([]Transaction, 4)
	for i := range recent {
		recent[i] = Transaction{Amount: 1_000, CreatedAt: now.Add(-time.Duration(i+1) * time.Minute)}
	}

	score, fired := scoreFraud(fraudInput{amount: 4_000, category: CategoryATMWithdrawal, now: now, recent: recent})
	if score != 80 {
		t.Fatalf("score = %d, want 80", score)
	}
	want := []string{"amount_spike", "rapid_fire", "high_risk_category", "odd_hours"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i, name := range want {
		if fired[i] != name {
			t.Fatalf("fired = %v, want %v", fired, want)
		}
	}
}
