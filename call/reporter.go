package call

import (
	"time"

	"github.com/google/uuid"
)

// EndedReason classifies why a reported call ended, for the platform call
// history.
type EndedReason int

const (
	// EndedReasonLocal means the local user hung up or declined.
	EndedReasonLocal EndedReason = iota
	// EndedReasonRemote means the remote party hung up or declined.
	EndedReasonRemote
	// EndedReasonUnanswered means the call rang out.
	EndedReasonUnanswered
	// EndedReasonFailed means connectivity was lost for good.
	EndedReasonFailed
)

// String returns the log name of the reason.
func (r EndedReason) String() string {
	switch r {
	case EndedReasonLocal:
		return "local"
	case EndedReasonRemote:
		return "remote"
	case EndedReasonUnanswered:
		return "unanswered"
	case EndedReasonFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reporter mirrors call lifecycle milestones to the platform's native call
// UI and call history. Every call is identified by a report ID generated
// when the call is admitted; all later milestones for the same call carry
// the same ID. Implementations must not block: the state machine invokes
// them from the serial pipeline.
//
// A no-op implementation is provided for platforms without a native call
// surface.
type Reporter interface {
	// ReportIncomingCall announces a ringing incoming call.
	ReportIncomingCall(reportID uuid.UUID, contactIdentity string, videoAvailable bool)
	// ReportOutgoingCallStarted announces that an outgoing call left the
	// device.
	ReportOutgoingCallStarted(reportID uuid.UUID, contactIdentity string, videoAvailable bool)
	// ReportOutgoingCallConnected marks the moment media first connected.
	ReportOutgoingCallConnected(reportID uuid.UUID)
	// ReportCallEnded removes the call from the native UI.
	ReportCallEnded(reportID uuid.UUID, reason EndedReason, duration time.Duration)
	// ReportMissedCall records a call that never reached the local user,
	// e.g. an offer discarded while another call was active.
	ReportMissedCall(contactIdentity string)
}

// MicrophoneAuthorizer asks the platform for microphone access.
// RequestAccess must invoke result exactly once, possibly asynchronously
// and from any goroutine; the state machine holds the current pipeline
// event open until the result arrives.
type MicrophoneAuthorizer interface {
	RequestAccess(result func(granted bool))
}
