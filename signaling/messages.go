// Package signaling defines the call signaling messages exchanged between
// two peers over an asynchronous, store-and-forward channel.
//
// Delivery of these messages is out of scope for this package: the channel
// is assumed to provide at-least-once, possibly out-of-order delivery, and
// may be backed by anything from a chat transport to a push service. The
// call state machine in package call is written to tolerate duplicates,
// reordering and premature delivery.
//
// Each message carries a CallID and a contact identity. The pair is used by
// the receiver to correlate messages with the active call and to discard
// stale or foreign messages.
package signaling

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// CallID is an opaque correlation identifier generated by the caller when a
// call is initiated. All messages belonging to one call instance carry the
// same CallID.
type CallID uint64

// NewCallID generates a fresh random call identifier.
func NewCallID() CallID {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand never fails on supported platforms; a zero ID would
		// still be correlated correctly, just predictable.
		return 0
	}
	return CallID(binary.BigEndian.Uint64(buf[:]))
}

// String formats the call ID the way it appears in logs.
func (c CallID) String() string {
	return fmt.Sprintf("%d", uint64(c))
}

// AnswerAction indicates whether an Answer accepts or rejects the call.
type AnswerAction uint8

const (
	// AnswerActionReject indicates the callee declined the call. The
	// RejectReason field carries the cause.
	AnswerActionReject AnswerAction = iota
	// AnswerActionCall indicates the callee accepted and the SDP field
	// carries the answer description.
	AnswerActionCall
)

// String returns the wire name of the answer action.
func (a AnswerAction) String() string {
	switch a {
	case AnswerActionReject:
		return "reject"
	case AnswerActionCall:
		return "call"
	default:
		return "unknown"
	}
}

// RejectReason is the cause carried by a rejecting Answer.
type RejectReason uint8

const (
	// RejectReasonUnknown is used when no more specific cause applies.
	RejectReasonUnknown RejectReason = iota
	// RejectReasonBusy indicates the callee is already in another call.
	RejectReasonBusy
	// RejectReasonTimeout indicates the call rang unanswered until the
	// ringing timeout expired.
	RejectReasonTimeout
	// RejectReasonReject indicates the callee explicitly declined.
	RejectReasonReject
	// RejectReasonDisabled indicates calls are administratively disabled
	// on the callee's side.
	RejectReasonDisabled
	// RejectReasonOffHours indicates the callee's do-not-disturb policy
	// suppressed the call.
	RejectReasonOffHours
)

// String returns the wire name of the reject reason.
func (r RejectReason) String() string {
	switch r {
	case RejectReasonBusy:
		return "busy"
	case RejectReasonTimeout:
		return "timeout"
	case RejectReasonReject:
		return "reject"
	case RejectReasonDisabled:
		return "disabled"
	case RejectReasonOffHours:
		return "offHours"
	default:
		return "unknown"
	}
}

// Offer initiates a call. The SDP field carries the caller's session
// description; VideoAvailable advertises whether the caller supports
// upgrading the call to video.
type Offer struct {
	CallID          CallID `json:"callId"`
	ContactIdentity string `json:"-"`
	SDP             string `json:"sdp"`
	VideoAvailable  bool   `json:"videoAvailable"`
}

// Answer accepts or rejects an Offer. For AnswerActionCall the SDP field is
// set; for AnswerActionReject the RejectReason field is set instead.
type Answer struct {
	CallID          CallID       `json:"callId"`
	ContactIdentity string       `json:"-"`
	Action          AnswerAction `json:"action"`
	SDP             string       `json:"sdp,omitempty"`
	RejectReason    RejectReason `json:"rejectReason,omitempty"`
	VideoAvailable  bool         `json:"videoAvailable"`
}

// Ringing notifies the caller that the callee's device is ringing.
type Ringing struct {
	CallID          CallID `json:"callId"`
	ContactIdentity string `json:"-"`
}

// Hangup terminates a call, either before or after it was established.
type Hangup struct {
	CallID          CallID `json:"callId"`
	ContactIdentity string `json:"-"`
}

// IceCandidates transports one or more ICE candidate SDP fragments.
//
// The Removed flag is a non-standard extension some clients emit; messages
// with Removed set are discarded by the receiver.
type IceCandidates struct {
	CallID          CallID   `json:"callId"`
	ContactIdentity string   `json:"-"`
	Candidates      []string `json:"candidates"`
	Removed         bool     `json:"removed"`
}

// Sender transmits outgoing signaling messages to the remote party. The
// call state machine emits every outgoing message through this interface;
// implementations route them over the host application's delivery channel.
//
// Send methods must not block on network round-trips: the state machine
// calls them from its serialized processing pipeline.
type Sender interface {
	SendOffer(offer *Offer) error
	SendAnswer(answer *Answer) error
	SendRinging(ringing *Ringing) error
	SendHangup(hangup *Hangup) error
	SendIceCandidates(candidates *IceCandidates) error
}
