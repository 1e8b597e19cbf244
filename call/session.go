package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/voipcore/signaling"
)

// session holds the attributes of the single active call. It is owned by
// the Service and guarded by the Service mutex; a fresh zero session is
// installed on every return to idle.
type session struct {
	contactIdentity string
	callID          signaling.CallID
	initiator       bool
	alreadyAccepted bool

	videoActive          bool
	videoAvailable       bool
	audioMuted           bool
	speakerActive        bool
	receivingRemoteVideo bool

	// reportID correlates this call with the native call-registration
	// layer across its report/end callbacks.
	reportID uuid.UUID

	// incomingOffer is the stored offer while the callee decides.
	incomingOffer *signaling.Offer

	// iceWasConnected distinguishes "connection lost" from "never
	// connected" when ICE fails.
	iceWasConnected bool

	// connectedAt is the time of the first transition to StateCalling;
	// zero until then. Preserved across reconnects.
	connectedAt time.Time

	// pendingRemoteCandidates are candidate messages received before the
	// call was accepted, replayed in receipt order on accept.
	pendingRemoteCandidates []*signaling.IceCandidates
}

// active reports whether a call session exists.
func (s *session) active() bool {
	return s.contactIdentity != ""
}

// matches reports whether a message's identity/callID pair belongs to this
// session.
func (s *session) matches(identity string, callID signaling.CallID) bool {
	return s.active() && s.contactIdentity == identity && s.callID == callID
}

// duration returns the elapsed call time, zero if never connected.
func (s *session) duration(now time.Time) time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	return now.Sub(s.connectedAt)
}
