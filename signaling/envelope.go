package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Message type tags used in the wire envelope.
const (
	TypeOffer         = "offer"
	TypeAnswer        = "answer"
	TypeRinging       = "ringing"
	TypeHangup        = "hangup"
	TypeIceCandidates = "iceCandidates"
)

// Envelope wraps one signaling message for transport. From and To carry the
// opaque contact identities; how those identities are authenticated is the
// concern of the channel below this layer.
type Envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// ErrUnknownMessageType indicates an envelope with a type tag this
// implementation does not understand.
var ErrUnknownMessageType = errors.New("unknown signaling message type")

// newEnvelope wraps a signaling message without serializing the outer
// envelope yet, so callers can stamp routing fields first.
func newEnvelope(message any) (*Envelope, error) {
	var (
		typ string
		to  string
	)
	switch m := message.(type) {
	case *Offer:
		typ, to = TypeOffer, m.ContactIdentity
	case *Answer:
		typ, to = TypeAnswer, m.ContactIdentity
	case *Ringing:
		typ, to = TypeRinging, m.ContactIdentity
	case *Hangup:
		typ, to = TypeHangup, m.ContactIdentity
	case *IceCandidates:
		typ, to = TypeIceCandidates, m.ContactIdentity
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessageType, message)
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}

	return &Envelope{
		Type:    typ,
		To:      to,
		Payload: payload,
	}, nil
}

// Encode serializes a signaling message into an envelope addressed to the
// message's contact identity. The message must be one of *Offer, *Answer,
// *Ringing, *Hangup or *IceCandidates.
func Encode(message any) ([]byte, error) {
	env, err := newEnvelope(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses an envelope and returns the contained message with its
// ContactIdentity set from the envelope's From field. The returned value is
// one of *Offer, *Answer, *Ringing, *Hangup or *IceCandidates.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode signaling envelope: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Decode",
		"type":     env.Type,
		"from":     env.From,
	}).Debug("Decoding signaling envelope")

	switch env.Type {
	case TypeOffer:
		var m Offer
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode offer payload: %w", err)
		}
		m.ContactIdentity = env.From
		return &m, nil
	case TypeAnswer:
		var m Answer
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode answer payload: %w", err)
		}
		m.ContactIdentity = env.From
		return &m, nil
	case TypeRinging:
		var m Ringing
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode ringing payload: %w", err)
		}
		m.ContactIdentity = env.From
		return &m, nil
	case TypeHangup:
		var m Hangup
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode hangup payload: %w", err)
		}
		m.ContactIdentity = env.From
		return &m, nil
	case TypeIceCandidates:
		var m IceCandidates
		if err := json.Unmarshal(env.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode ice candidates payload: %w", err)
		}
		m.ContactIdentity = env.From
		return &m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}
