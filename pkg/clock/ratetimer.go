package clock

import "time"

// RateTimer paces a loop at a configured frequency without bursting to
// catch up on missed ticks: each Step call advances the threshold by
// however many steps have actually elapsed (at least one) and sleeps
// until the new threshold, so a stalled drain cycle skips ahead instead
// of firing a backlog of queued wakeups.
type RateTimer struct {
	step      time.Duration
	threshold time.Time
	rateHz    int
}

// NewRateTimer builds a RateTimer for the given frequency in Hz. A
// rateHz of zero produces an invalid timer (see Valid).
func NewRateTimer(rateHz int) *RateTimer {
	rt := &RateTimer{rateHz: rateHz}
	if rateHz > 0 {
		rt.step = time.Second / time.Duration(rateHz)
	}
	return rt
}

// Valid reports whether the timer was constructed with a usable rate.
func (rt *RateTimer) Valid() bool {
	return rt.rateHz != 0 && rt.step > 0
}

// Start resets the internal threshold to now. Callers that construct a
// RateTimer well before its first Step should call Start immediately
// before entering the pacing loop.
func (rt *RateTimer) Start() {
	rt.threshold = time.Now()
}

// Step advances the threshold by floor(elapsed/step)+1 steps and sleeps
// until the new threshold is reached.
func (rt *RateTimer) Step() {
	if !rt.Valid() {
		return
	}
	if rt.threshold.IsZero() {
		rt.threshold = time.Now()
	}

	elapsed := time.Since(rt.threshold)
	steps := elapsed / rt.step
	rt.threshold = rt.threshold.Add((steps + 1) * rt.step)

	sleep := time.Until(rt.threshold)
	if sleep > 0 {
		time.Sleep(sleep)
	}
}
