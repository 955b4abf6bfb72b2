package campaign

import (
	"fmt"

	"github.com/romariotrain/media-jobs/internal/jobs/models"
)

// Distribute splits total over days according to pattern and clamps every
// day to dailyLimit. Any shortfall from clamping is pushed back into the
// earliest days that still have room.
func Distribute(total, days int, pattern Pattern, dailyLimit int) ([]int, error) {
	if total < 0 || days <= 0 || dailyLimit <= 0 {
		return nil, fmt.Errorf("%w: total=%d days=%d daily_limit=%d", models.ErrInvalidArgument, total, days, dailyLimit)
	}

	var daily []int
	switch pattern {
	case PatternSteady:
		daily = steady(total, days)
	case PatternBurst:
		daily = burst(total, days)
	default:
		return nil, fmt.Errorf("%w: unknown pattern %q", models.ErrInvalidArgument, pattern)
	}

	return capDaily(daily, total, dailyLimit), nil
}

// steady gives every day the floor share and spreads the remainder one unit
// per day over the trailing days, so days differ by at most one.
func steady(total, days int) []int {
	daily := make([]int, days)
	base, rem := total/days, total%days
	for i := range daily {
		daily[i] = base
		if i >= days-rem {
			daily[i]++
		}
	}
	return daily
}

// burst weights day i by (days - i), i.e. linearly decreasing, and hands the
// rounding remainder to day 0.
func burst(total, days int) []int {
	daily := make([]int, days)
	weightSum := int64(days) * int64(days+1) / 2

	sum := 0
	for i := range daily {
		daily[i] = int(int64(total) * int64(days-i) / weightSum)
		sum += daily[i]
	}
	daily[0] += total - sum
	return daily
}

func capDaily(daily []int, total, limit int) []int {
	sum := 0
	for i, v := range daily {
		if v > limit {
			daily[i] = limit
		}
		sum += daily[i]
	}

	shortfall := total - sum
	for i := 0; i < len(daily) && shortfall > 0; i++ {
		room := limit - daily[i]
		if room <= 0 {
			continue
		}
		add := min(room, shortfall)
		daily[i] += add
		shortfall -= add
	}
	return daily
}
