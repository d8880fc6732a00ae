// Package alert holds the "notable object seen recently" indicator.
package alert

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTTL is how long the flag stays raised after the last trigger.
const DefaultTTL = 6 * time.Second

// Flag is a boolean that becomes true on Trigger and falls back to false TTL after the
// most recent Trigger. Repeated triggers extend the deadline.
type Flag struct {
	clock clock.Clock
	ttl   time.Duration

	mu       sync.Mutex
	until    time.Time
	raised   bool
	timer    *clock.Timer
	onChange []func(bool)
}

// NewFlag returns a lowered flag. A nil clock means the wall clock.
func NewFlag(clk clock.Clock, ttl time.Duration) *Flag {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Flag{clock: clk, ttl: ttl}
}

// Trigger raises the flag and restarts the countdown.
func (f *Flag) Trigger() {
	f.mu.Lock()
	f.until = f.clock.Now().Add(f.ttl)
	if f.timer == nil {
		f.timer = f.clock.AfterFunc(f.ttl, f.expire)
	} else {
		f.timer.Reset(f.ttl)
	}
	changed := !f.raised
	f.raised = true
	subs := f.onChange
	f.mu.Unlock()

	if changed {
		notify(subs, true)
	}
}

// Value reports whether the flag is raised.
func (f *Flag) Value() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock.Now().Before(f.until)
}

// OnChange registers fn to be called with the new value whenever the flag is raised or
// lowered.
func (f *Flag) OnChange(fn func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onChange = append(f.onChange, fn)
}

// Stop cancels the pending countdown and lowers the flag.
func (f *Flag) Stop() {
	f.mu.Lock()
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	f.until = time.Time{}
	changed := f.raised
	f.raised = false
	subs := f.onChange
	f.mu.Unlock()

	if changed {
		notify(subs, false)
	}
}

func (f *Flag) expire() {
	f.mu.Lock()
	// a trigger that raced with the timer pushed the deadline out
	if f.clock.Now().Before(f.until) || !f.raised {
		f.mu.Unlock()
		return
	}
	f.raised = false
	f.timer = nil
	subs := f.onChange
	f.mu.Unlock()

	notify(subs, false)
}

func notify(subs []func(bool), v bool) {
	for _, fn := range subs {
		fn(v)
	}
}
