package ble

import "time"

// alarm is a cancellable one-shot timer. Each Arm starts a new generation;
// a fire that raced with Cancel or a later Arm carries an old generation and
// must be ignored by the receiver.
type alarm struct {
	timer *time.Timer
	gen   uint64
}

// Arm cancels any pending fire and schedules fire(gen) after d.
func (a *alarm) Arm(d time.Duration, fire func(gen uint64)) {
	a.Cancel()
	gen := a.gen
	a.timer = time.AfterFunc(d, func() { fire(gen) })
}

// Cancel stops the pending fire, if any, and invalidates its generation.
func (a *alarm) Cancel() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.gen++
}

// Current reports whether gen belongs to the armed, not yet cancelled alarm.
func (a *alarm) Current(gen uint64) bool {
	return a.timer != nil && gen == a.gen
}

