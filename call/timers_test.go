package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock replaces the timer set's timer creation so tests can fire and
// observe timers deterministically.
type fakeClock struct {
	armed []*fakeTimer
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	stopped bool
}

func (c *fakeClock) install(ts *timerSet) {
	ts.newTimer = func(d time.Duration, fn func()) func() bool {
		ft := &fakeTimer{d: d, fn: fn}
		c.armed = append(c.armed, ft)
		return func() bool {
			stopped := !ft.stopped
			ft.stopped = true
			return stopped
		}
	}
}

func (c *fakeClock) running() []*fakeTimer {
	var out []*fakeTimer
	for _, ft := range c.armed {
		if !ft.stopped {
			out = append(out, ft)
		}
	}
	return out
}

func TestTimerSetArmReplacesSamePurpose(t *testing.T) {
	clock := &fakeClock{}
	ts := newTimerSet()
	clock.install(ts)

	ts.arm(timerRinging, time.Minute, func() {})
	ts.arm(timerRinging, time.Minute, func() {})

	assert.Len(t, clock.running(), 1, "re-arming a purpose stops the previous timer")
	assert.True(t, ts.armed(timerRinging))
}

func TestTimerSetCancel(t *testing.T) {
	clock := &fakeClock{}
	ts := newTimerSet()
	clock.install(ts)

	ts.arm(timerCallFailed, time.Second, func() {})
	ts.cancel(timerCallFailed)

	assert.False(t, ts.armed(timerCallFailed))
	assert.Empty(t, clock.running())

	// Cancelling an unarmed purpose is a no-op.
	ts.cancel(timerCallFailed)
}

func TestTimerSetCancelAll(t *testing.T) {
	clock := &fakeClock{}
	ts := newTimerSet()
	clock.install(ts)

	ts.arm(timerRinging, time.Second, func() {})
	ts.arm(timerCallFailed, time.Second, func() {})
	ts.arm(timerIceFlush, time.Second, func() {})

	ts.cancelAll()

	assert.Empty(t, clock.running())
	assert.False(t, ts.armed(timerRinging))
	assert.False(t, ts.armed(timerCallFailed))
	assert.False(t, ts.armed(timerIceFlush))
}

func TestTimerSetInvalidateForTransition(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		cancelled []timerPurpose
		kept      []timerPurpose
	}{
		{
			name:      "idle cancels everything",
			state:     StateIdle,
			cancelled: []timerPurpose{timerRinging, timerIncomingRinging, timerCallFailed, timerCallDuration, timerIdleReset, timerIceFlush},
		},
		{
			name:      "calling keeps duration and flush",
			state:     StateCalling,
			cancelled: []timerPurpose{timerRinging, timerIncomingRinging, timerCallFailed},
			kept:      []timerPurpose{timerCallDuration, timerIceFlush},
		},
		{
			name:      "reconnecting keeps the failure timer",
			state:     StateReconnecting,
			cancelled: []timerPurpose{timerRinging, timerIncomingRinging},
			kept:      []timerPurpose{timerCallFailed, timerCallDuration},
		},
		{
			name:      "terminal reject cancels the duration ticker",
			state:     StateRejectedTimeout,
			cancelled: []timerPurpose{timerRinging, timerIncomingRinging, timerCallFailed, timerCallDuration},
			kept:      []timerPurpose{timerIdleReset},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			ts := newTimerSet()
			clock.install(ts)

			all := []timerPurpose{
				timerRinging, timerIncomingRinging, timerCallFailed,
				timerCallDuration, timerIdleReset, timerIceFlush,
			}
			for _, purpose := range all {
				ts.arm(purpose, time.Minute, func() {})
			}

			ts.invalidateForTransition(tt.state)

			for _, purpose := range tt.cancelled {
				assert.False(t, ts.armed(purpose), "expected %s cancelled", purpose)
			}
			for _, purpose := range tt.kept {
				assert.True(t, ts.armed(purpose), "expected %s kept", purpose)
			}
		})
	}
}

func TestTimerSetFiredDropsBookkeeping(t *testing.T) {
	clock := &fakeClock{}
	ts := newTimerSet()
	clock.install(ts)

	ts.arm(timerIceFlush, time.Millisecond, func() {})
	ts.fired(timerIceFlush)

	assert.False(t, ts.armed(timerIceFlush))
}
