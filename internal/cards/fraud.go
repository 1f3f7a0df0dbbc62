package cards

import "time"

const (
	fraudScoreCap = 100

	// DefaultFraudThreshold is the score above which authorizations decline.
	DefaultFraudThreshold = 80

	rapidFireWindow = 5 * time.Minute
	rapidFireCount  = 3
	spikeMultiplier = 3
)

// fraudInput is the evaluation context for one authorization attempt. now is
// already shifted into the card's timezone; recent holds the card's approved
// transactions over the trailing 24 hours.
type fraudInput struct {
	amount   int64
	category MerchantCategory
	now      time.Time
	recent   []Transaction
}

// fraudRule is one independent risk signal. Rules are additive; no rule
// depends on another's outcome.
type fraudRule struct {
	name   string
	points int
	match  func(fraudInput) bool
}

var fraudRules = []fraudRule{
	{
		name:   "amount_spike",
		points: 30,
		match: func(in fraudInput) bool {
			if len(in.recent) == 0 {
				return false
			}
			var total int64
			for _, tx := range in.recent {
				total += tx.Amount
			}
			// amount > 3 × average, kept in integer math as
			// amount × n > 3 × total.
			return in.amount*int64(len(in.recent)) > spikeMultiplier*total
		},
	},
	{
		name:   "rapid_fire",
		points: 25,
		match: func(in fraudInput) bool {
			count := 0
			for _, tx := range in.recent {
				if in.now.Sub(tx.CreatedAt) < rapidFireWindow {
					count++
				}
			}
			return count > rapidFireCount
		},
	},
	{
		name:   "high_risk_category",
		points: 15,
		match: func(in fraudInput) bool {
			return in.category == CategoryATMWithdrawal || in.category == CategoryFuel
		},
	},
	{
		name:   "odd_hours",
		points: 10,
		match: func(in fraudInput) bool {
			hour := in.now.Hour()
			return hour < 6 || hour >= 23
		},
	},
}

// scoreFraud runs every rule and sums the contributions, capped at
// fraudScoreCap. The returned names identify the rules that fired.
func scoreFraud(in fraudInput) (int, []string) {
	score := 0
	var fired []string
	for _, rule := range fraudRules {
		if rule.match(in) {
			score += rule.points
			fired = append(fired, rule.name)
		}
	}
	if score > fraudScoreCap {
		score = fraudScoreCap
	}
	return score, fired
}
