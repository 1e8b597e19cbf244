package call

import (
	"github.com/opd-ai/voipcore/rtc"
	"github.com/opd-ai/voipcore/signaling"
)

// ActionKind identifies a user-initiated call action.
type ActionKind int

const (
	// ActionCall starts an audio call to a contact.
	ActionCall ActionKind = iota
	// ActionCallWithVideo starts a call with video available.
	ActionCallWithVideo
	// ActionAccept accepts the ringing incoming call.
	ActionAccept
	// ActionAcceptPreapproved accepts an incoming call that was already
	// approved out of band, e.g. through the system call UI, before the
	// offer arrived.
	ActionAcceptPreapproved
	// ActionReject declines the ringing incoming call.
	ActionReject
	// ActionRejectBusy declines because another call is active.
	ActionRejectBusy
	// ActionRejectTimeout declines because the call rang unanswered.
	ActionRejectTimeout
	// ActionRejectDisabled declines because calls are disabled locally.
	ActionRejectDisabled
	// ActionRejectOffHours declines because do-not-disturb is active.
	ActionRejectOffHours
	// ActionRejectUnknown declines without a specific reason.
	ActionRejectUnknown
	// ActionEnd hangs up the active call.
	ActionEnd
	// ActionMuteAudio mutes the local microphone.
	ActionMuteAudio
	// ActionUnmuteAudio unmutes the local microphone.
	ActionUnmuteAudio
	// ActionSpeakerOn routes audio to the loudspeaker.
	ActionSpeakerOn
	// ActionSpeakerOff routes audio back to the earpiece.
	ActionSpeakerOff
	// ActionCameraOn starts local video capture and announces it to the
	// remote party.
	ActionCameraOn
	// ActionCameraOff stops local video capture.
	ActionCameraOff
	// ActionHideCallScreen dismisses the call UI without ending the call.
	ActionHideCallScreen
)

// String returns the log name of the action.
func (k ActionKind) String() string {
	switch k {
	case ActionCall:
		return "call"
	case ActionCallWithVideo:
		return "call_with_video"
	case ActionAccept:
		return "accept"
	case ActionAcceptPreapproved:
		return "accept_preapproved"
	case ActionReject:
		return "reject"
	case ActionRejectBusy:
		return "reject_busy"
	case ActionRejectTimeout:
		return "reject_timeout"
	case ActionRejectDisabled:
		return "reject_disabled"
	case ActionRejectOffHours:
		return "reject_off_hours"
	case ActionRejectUnknown:
		return "reject_unknown"
	case ActionEnd:
		return "end"
	case ActionMuteAudio:
		return "mute_audio"
	case ActionUnmuteAudio:
		return "unmute_audio"
	case ActionSpeakerOn:
		return "speaker_on"
	case ActionSpeakerOff:
		return "speaker_off"
	case ActionCameraOn:
		return "camera_on"
	case ActionCameraOff:
		return "camera_off"
	case ActionHideCallScreen:
		return "hide_call_screen"
	default:
		return "unknown"
	}
}

// UserAction is a call action requested by the local user. ContactIdentity
// names the target for ActionCall and ActionCallWithVideo and is ignored
// otherwise.
type UserAction struct {
	Kind            ActionKind
	ContactIdentity string
}

// Event is an item of work for the serial dispatcher. Concrete events are
// unexported; they are produced only inside this package by the Manager's
// entry points and by internal callbacks.
type Event interface {
	// kind returns the log name of the event.
	kind() string
}

type userActionEvent struct {
	action UserAction
}

func (userActionEvent) kind() string { return "user_action" }

type offerEvent struct {
	offer *signaling.Offer
}

func (offerEvent) kind() string { return "offer" }

type answerEvent struct {
	answer *signaling.Answer
}

func (answerEvent) kind() string { return "answer" }

type ringingEvent struct {
	ringing *signaling.Ringing
}

func (ringingEvent) kind() string { return "ringing" }

type hangupEvent struct {
	hangup *signaling.Hangup
}

func (hangupEvent) kind() string { return "hangup" }

type iceCandidatesEvent struct {
	candidates *signaling.IceCandidates
}

func (iceCandidatesEvent) kind() string { return "ice_candidates" }

// connectionStateEvent carries a peer-connection state change. The call ID
// pins the event to the session that owned the connection, so changes from
// an already torn down connection are discarded.
type connectionStateEvent struct {
	callID signaling.CallID
	state  rtc.ConnectionState
}

func (connectionStateEvent) kind() string { return "connection_state" }

type localCandidateEvent struct {
	callID    signaling.CallID
	candidate string
}

func (localCandidateEvent) kind() string { return "local_candidate" }

type localCandidatesRemovedEvent struct {
	callID     signaling.CallID
	candidates []string
}

func (localCandidatesRemovedEvent) kind() string { return "local_candidates_removed" }

type dataReceivedEvent struct {
	callID  signaling.CallID
	payload []byte
}

func (dataReceivedEvent) kind() string { return "data_received" }

// timerEvent carries a fired timer into the pipeline. The call ID pins it
// to the session that armed it.
type timerEvent struct {
	purpose timerPurpose
	callID  signaling.CallID
}

func (timerEvent) kind() string { return "timer" }
