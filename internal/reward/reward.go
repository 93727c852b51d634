// Package reward computes work-shift payouts. Everything here is a pure
// function of its inputs: sessions persist a reward snapshot at start time so
// later formula changes never alter in-flight shifts.
package reward

import (
	"math"
	"time"

	"github.com/MikeGii/vomm-sub003/model"
)

// Compute returns the full reward for working the given number of hours of an
// activity. Hour h of H contributes base * (1 + growthRate*(h-1)), floored
// per hour. The per-hour flooring is load-bearing: a closed-form sum rounds
// differently and would drift from the expected totals.
func Compute(activity model.Activity, hours int) model.Reward {
	var r model.Reward
	for h := 1; h <= hours; h++ {
		factor := 1 + activity.GrowthRate*float64(h-1)
		r.Experience += int(math.Floor(float64(activity.BaseExpPerHour) * factor))
		r.Money += int(math.Floor(float64(activity.BaseMoneyPerHour) * factor))
	}
	return r
}

// EarlyPayout returns the reduced reward for a shift cancelled before its
// end: 50% of the elapsed-time fraction of the committed reward, rounded
// down per field.
func EarlyPayout(expected model.Reward, elapsed, committed time.Duration) model.Reward {
	if committed <= 0 {
		return model.Reward{}
	}
	frac := elapsed.Seconds() / committed.Seconds()
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return model.Reward{
		Experience: int(math.Floor(float64(expected.Experience) * frac * 0.5)),
		Money:      int(math.Floor(float64(expected.Money) * frac * 0.5)),
	}
}
