package engine

import (
	"math"
	"time"
)

const (
	// ScoreBase is the minimum award for a correct answer, reached when the
	// full time budget was used.
	ScoreBase = 500
	// ScoreSpread is the extra range earned by answering instantly.
	ScoreSpread = 500
	// SpeedBonus is the fixed bonus for the first correct answer of a
	// question, by host-observed arrival order.
	SpeedBonus = 200
)

// Score maps response latency and correctness to points. Incorrect or
// unanswered is always 0. A correct answer decays linearly from 1000 at
// zero elapsed to 500 at the budget's end; elapsed beyond the budget is
// clamped so a correct answer never scores below 500.
func Score(elapsed, budget time.Duration, correct, first bool) int {
	if !correct {
		return 0
	}
	frac := 1.0
	if budget > 0 {
		frac = math.Min(elapsed.Seconds()/budget.Seconds(), 1)
	}
	pts := int(math.Round(ScoreBase + ScoreSpread*(1-frac)))
	if first {
		pts += SpeedBonus
	}
	return pts
}
