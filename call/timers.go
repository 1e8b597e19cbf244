package call

import (
	"sync"
	"time"
)

// Timer purposes. The timerSet keys armed timers by purpose, so at most
// one timer per purpose can ever be armed.
type timerPurpose int

const (
	// timerRinging ends an unanswered outgoing call (caller side).
	timerRinging timerPurpose = iota
	// timerIncomingRinging auto-rejects an unanswered incoming call.
	timerIncomingRinging
	// timerCallFailed bounds the reconnect grace period after ICE failure.
	timerCallFailed
	// timerCallDuration ticks once per second while media is connected.
	timerCallDuration
	// timerIdleReset returns a terminal state to idle after the grace
	// delay.
	timerIdleReset
	// timerIceFlush batches locally gathered candidates into one message.
	timerIceFlush
)

// String returns the log name of the timer purpose.
func (p timerPurpose) String() string {
	switch p {
	case timerRinging:
		return "ringing"
	case timerIncomingRinging:
		return "incoming_ringing"
	case timerCallFailed:
		return "call_failed"
	case timerCallDuration:
		return "call_duration"
	case timerIdleReset:
		return "idle_reset"
	case timerIceFlush:
		return "ice_flush"
	default:
		return "unknown"
	}
}

// timerSet owns every timer of the state machine, keyed by purpose.
// Arming a purpose replaces any timer already armed for it, so the
// "at most one timer per purpose" invariant holds structurally instead of
// relying on invalidate-before-reassign discipline at every call site.
//
// newTimer is replaceable for deterministic tests.
type timerSet struct {
	mu       sync.Mutex
	active   map[timerPurpose]func() bool
	newTimer func(d time.Duration, fn func()) func() bool
}

func newTimerSet() *timerSet {
	return &timerSet{
		active: make(map[timerPurpose]func() bool),
		newTimer: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
	}
}

// arm schedules fn after d for the given purpose, replacing any armed
// timer for that purpose.
func (ts *timerSet) arm(purpose timerPurpose, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if stop, ok := ts.active[purpose]; ok {
		stop()
	}
	ts.active[purpose] = ts.newTimer(d, fn)
}

// armed reports whether a timer is currently armed for the purpose.
func (ts *timerSet) armed(purpose timerPurpose) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.active[purpose]
	return ok
}

// cancel stops the timer for one purpose, if armed.
func (ts *timerSet) cancel(purpose timerPurpose) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if stop, ok := ts.active[purpose]; ok {
		stop()
		delete(ts.active, purpose)
	}
}

// cancelAll stops every armed timer.
func (ts *timerSet) cancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for purpose, stop := range ts.active {
		stop()
		delete(ts.active, purpose)
	}
}

// fired drops the bookkeeping entry for a timer whose callback ran.
func (ts *timerSet) fired(purpose timerPurpose) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.active, purpose)
}

// invalidateForTransition cancels the timers that are meaningless in the
// state being entered.
func (ts *timerSet) invalidateForTransition(state State) {
	switch state {
	case StateIdle:
		ts.cancelAll()
	case StateSendOffer:
		ts.cancel(timerCallFailed)
	case StateReceivedOffer:
		ts.cancel(timerRinging)
		ts.cancel(timerCallFailed)
	case StateOutgoingRinging, StateIncomingRinging:
		ts.cancel(timerRinging)
		ts.cancel(timerCallFailed)
	case StateSendAnswer:
		ts.cancel(timerRinging)
		ts.cancel(timerIncomingRinging)
		ts.cancel(timerCallFailed)
	case StateReceivedAnswer:
		ts.cancel(timerRinging)
		ts.cancel(timerCallFailed)
	case StateInitializing, StateReconnecting:
		ts.cancel(timerRinging)
		ts.cancel(timerIncomingRinging)
	case StateCalling:
		ts.cancel(timerRinging)
		ts.cancel(timerIncomingRinging)
		ts.cancel(timerCallFailed)
	case StateEnded, StateRemoteEnded:
		ts.cancel(timerRinging)
		ts.cancel(timerIncomingRinging)
		ts.cancel(timerCallFailed)
	case StateRejected, StateRejectedBusy, StateRejectedTimeout,
		StateRejectedDisabled, StateRejectedOffHours, StateRejectedUnknown,
		StateMicrophoneDisabled:
		ts.cancel(timerRinging)
		ts.cancel(timerIncomingRinging)
		ts.cancel(timerCallFailed)
		ts.cancel(timerCallDuration)
	}
}
