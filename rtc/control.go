package rtc

import (
	"encoding/json"
	"fmt"
)

// Control frame types exchanged over the in-call data channel. These carry
// call metadata that must not wait for a signaling round-trip: the remote
// party's mute state and camera capture state.
const (
	ControlTypeMuteState    = "muteState"
	ControlTypeCaptureState = "captureState"
)

// Capture devices referenced by capture-state frames.
const (
	CaptureDeviceCamera = "camera"
)

// ControlMessage is one frame on the in-call control channel.
type ControlMessage struct {
	Type string `json:"type"`

	// Muted is set for muteState frames.
	Muted *bool `json:"muted,omitempty"`

	// Device and Active are set for captureState frames.
	Device string `json:"device,omitempty"`
	Active *bool  `json:"active,omitempty"`
}

// ParseControl decodes one control channel frame.
func ParseControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode control frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("control frame without type")
	}
	return &msg, nil
}

func encodeMuteState(muted bool) ([]byte, error) {
	return json.Marshal(&ControlMessage{
		Type:  ControlTypeMuteState,
		Muted: &muted,
	})
}

func encodeCaptureState(device string, active bool) ([]byte, error) {
	return json.Marshal(&ControlMessage{
		Type:   ControlTypeCaptureState,
		Device: device,
		Active: &active,
	})
}
