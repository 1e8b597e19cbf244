// Package call implements the call signaling state machine, its serialized
// event-processing pipeline, and the ICE candidate admission logic for 1:1
// audio/video calls.
//
// The design keeps exactly one call active at a time. Events from the UI,
// the signaling channel, peer-connection callbacks and timers all funnel
// through a single serial dispatcher, so the state machine never observes
// two events concurrently. Out-of-order and duplicate signaling messages
// are tolerated by buffering premature ICE candidates and by discarding
// messages whose call ID or contact identity does not match the active
// session.
package call

// State is the call state. Transitions are driven exclusively by the state
// machine under the dispatcher's serialization guarantee.
type State int

const (
	// StateIdle means no call exists.
	StateIdle State = iota
	// StateSendOffer means we sent an offer and await the remote ringing.
	StateSendOffer
	// StateReceivedOffer means an offer arrived and is being admitted.
	StateReceivedOffer
	// StateOutgoingRinging means the remote device confirmed ringing.
	StateOutgoingRinging
	// StateIncomingRinging means the local device is ringing.
	StateIncomingRinging
	// StateSendAnswer means we accepted and the answer is in flight.
	StateSendAnswer
	// StateReceivedAnswer means the caller received the callee's answer.
	StateReceivedAnswer
	// StateInitializing means ICE connectivity checks are running.
	StateInitializing
	// StateCalling means media is connected.
	StateCalling
	// StateReconnecting means ICE dropped after having been connected.
	StateReconnecting
	// StateEnded means the call was terminated locally.
	StateEnded
	// StateRemoteEnded means the remote party terminated the call.
	StateRemoteEnded
	// StateRejected means the callee declined.
	StateRejected
	// StateRejectedBusy means the callee was in another call.
	StateRejectedBusy
	// StateRejectedTimeout means an incoming call rang unanswered and
	// was rejected automatically.
	StateRejectedTimeout
	// StateRejectedDisabled means calls are disabled on the callee's side.
	StateRejectedDisabled
	// StateRejectedOffHours means the callee's do-not-disturb suppressed it.
	StateRejectedOffHours
	// StateRejectedUnknown means the call was rejected without a usable
	// reason.
	StateRejectedUnknown
	// StateMicrophoneDisabled means microphone permission was denied.
	StateMicrophoneDisabled
)

// String returns the log name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSendOffer:
		return "SENDOFFER"
	case StateReceivedOffer:
		return "RECEIVEDOFFER"
	case StateOutgoingRinging, StateIncomingRinging:
		return "RINGING"
	case StateSendAnswer:
		return "SENDANSWER"
	case StateReceivedAnswer:
		return "RECEIVEDANSWER"
	case StateInitializing:
		return "INITIALIZING"
	case StateCalling:
		return "CALLING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateEnded:
		return "ENDED"
	case StateRemoteEnded:
		return "REMOTEENDED"
	case StateRejected:
		return "REJECTED"
	case StateRejectedBusy:
		return "REJECTEDBUSY"
	case StateRejectedTimeout:
		return "REJECTEDTIMEOUT"
	case StateRejectedDisabled:
		return "REJECTEDDISABLED"
	case StateRejectedOffHours:
		return "REJECTEDOFFHOURS"
	case StateRejectedUnknown:
		return "REJECTEDUNKNOWN"
	case StateMicrophoneDisabled:
		return "MICROPHONEDISABLED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether the only valid transition from s is back to
// idle.
func (s State) IsTerminal() bool {
	switch s {
	case StateEnded, StateRemoteEnded, StateRejected, StateRejectedBusy,
		StateRejectedTimeout, StateRejectedDisabled, StateRejectedOffHours,
		StateRejectedUnknown, StateMicrophoneDisabled:
		return true
	default:
		return false
	}
}

// CanSendSignaling reports whether locally gathered ICE candidates may be
// flushed to the remote party in this state. Candidates gathered earlier
// are batched until one of these states is reached.
func (s State) CanSendSignaling() bool {
	switch s {
	case StateSendOffer, StateOutgoingRinging, StateReceivedAnswer,
		StateInitializing, StateCalling, StateReconnecting:
		return true
	default:
		return false
	}
}

// CanApplyRemoteCandidates reports whether remote ICE candidates are
// forwarded to the peer connection immediately in this state.
func (s State) CanApplyRemoteCandidates() bool {
	switch s {
	case StateSendOffer, StateOutgoingRinging, StateSendAnswer,
		StateReceivedAnswer, StateInitializing, StateCalling,
		StateReconnecting:
		return true
	default:
		return false
	}
}

// IsCallInProgress reports whether a hangup from either side is meaningful
// in this state.
func (s State) IsCallInProgress() bool {
	switch s {
	case StateSendOffer, StateReceivedOffer, StateOutgoingRinging,
		StateIncomingRinging, StateSendAnswer, StateReceivedAnswer,
		StateInitializing, StateCalling, StateReconnecting:
		return true
	default:
		return false
	}
}
