package rtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// controlChannelLabel names the negotiated in-call control channel. Both
// sides create it with the same stream ID, so no in-band negotiation is
// needed and the channel works regardless of who sent the offer.
const controlChannelLabel = "call-control"

const controlChannelID uint16 = 0

// ErrGatewayClosed indicates an operation on a closed peer connection.
var ErrGatewayClosed = errors.New("peer connection is closed")

// PeerConnection implements Gateway over a pion/webrtc peer connection
// with an audio transceiver, an optional video transceiver, and the in-call
// control data channel.
type PeerConnection struct {
	pc      *webrtc.PeerConnection
	control *webrtc.DataChannel

	mu            sync.Mutex
	closed        bool
	audioMuted    bool
	speakerActive bool

	closeOnce sync.Once
	closeErr  error
}

// NewFactory binds an ICE configuration into a Factory the call state
// machine can use to create one PeerConnection per call.
func NewFactory(config ICEConfig) Factory {
	return func(params Parameters, callbacks Callbacks) (Gateway, error) {
		return NewPeerConnection(config, params, callbacks)
	}
}

// NewPeerConnection creates a peer connection for one call and wires the
// provided callbacks into the underlying pion events.
func NewPeerConnection(config ICEConfig, params Parameters, callbacks Callbacks) (*PeerConnection, error) {
	logrus.WithFields(logrus.Fields{
		"function":        "NewPeerConnection",
		"video_available": params.VideoAvailable,
		"force_relay":     params.ForceRelay,
		"ice_servers":     len(config.Servers),
	}).Debug("Creating peer connection")

	rtcConfig := webrtc.Configuration{
		ICEServers: config.Servers,
	}
	if params.ForceRelay {
		rtcConfig.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}

	pc, err := webrtc.NewPeerConnection(rtcConfig)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}
	if params.VideoAvailable {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionSendrecv,
		}); err != nil {
			pc.Close()
			return nil, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	negotiated := true
	channelID := controlChannelID
	control, err := pc.CreateDataChannel(controlChannelLabel, &webrtc.DataChannelInit{
		Negotiated: &negotiated,
		ID:         &channelID,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create control channel: %w", err)
	}

	gw := &PeerConnection{
		pc:      pc,
		control: control,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			// Gathering finished.
			return
		}
		if callbacks.IceCandidateGenerated != nil {
			callbacks.IceCandidateGenerated(candidate.ToJSON().Candidate)
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		if callbacks.ConnectionStateChanged != nil {
			callbacks.ConnectionStateChanged(mapConnectionState(state))
		}
	})

	control.OnMessage(func(msg webrtc.DataChannelMessage) {
		if callbacks.DataReceived != nil {
			callbacks.DataReceived(msg.Data)
		}
	})

	// pion never withdraws gathered candidates, so IceCandidatesRemoved is
	// unused here; the hook exists for wire parity and for fakes in tests.

	return gw, nil
}

// CreateOffer implements Gateway.
func (g *PeerConnection) CreateOffer() (string, error) {
	if g.isClosed() {
		return "", ErrGatewayClosed
	}
	offer, err := g.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := g.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local offer: %w", err)
	}
	return offer.SDP, nil
}

// CreateAnswer implements Gateway.
func (g *PeerConnection) CreateAnswer() (string, error) {
	if g.isClosed() {
		return "", ErrGatewayClosed
	}
	answer, err := g.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := g.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local answer: %w", err)
	}
	return answer.SDP, nil
}

// SetRemoteOffer implements Gateway.
func (g *PeerConnection) SetRemoteOffer(sdp string) error {
	if g.isClosed() {
		return ErrGatewayClosed
	}
	if err := g.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("set remote offer: %w", err)
	}
	return nil
}

// SetRemoteAnswer implements Gateway.
func (g *PeerConnection) SetRemoteAnswer(sdp string) error {
	if g.isClosed() {
		return ErrGatewayClosed
	}
	if err := g.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AddRemoteCandidate implements Gateway.
func (g *PeerConnection) AddRemoteCandidate(candidate string) error {
	if g.isClosed() {
		return ErrGatewayClosed
	}
	if err := g.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate}); err != nil {
		return fmt.Errorf("add remote candidate: %w", err)
	}
	return nil
}

// SetAudioMuted implements Gateway. The mute state is announced to the
// remote party over the control channel so its UI can reflect it.
func (g *PeerConnection) SetAudioMuted(muted bool) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrGatewayClosed
	}
	g.audioMuted = muted
	g.mu.Unlock()

	data, err := encodeMuteState(muted)
	if err != nil {
		return err
	}
	return g.sendControl(data)
}

// SetSpeakerActive implements Gateway.
func (g *PeerConnection) SetSpeakerActive(active bool) {
	g.mu.Lock()
	g.speakerActive = active
	g.mu.Unlock()
}

// SendCaptureState implements Gateway.
func (g *PeerConnection) SendCaptureState(active bool) error {
	data, err := encodeCaptureState(CaptureDeviceCamera, active)
	if err != nil {
		return err
	}
	return g.sendControl(data)
}

// Close implements Gateway. Idempotent.
func (g *PeerConnection) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()

		if err := g.control.Close(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Close",
				"error":    err.Error(),
			}).Debug("Control channel close failed")
		}
		g.closeErr = g.pc.Close()
	})
	return g.closeErr
}

func (g *PeerConnection) sendControl(data []byte) error {
	if g.isClosed() {
		return ErrGatewayClosed
	}
	if g.control.ReadyState() != webrtc.DataChannelStateOpen {
		// The channel opens with the connection; frames sent before that
		// describe state the remote will learn on the next change.
		logrus.WithFields(logrus.Fields{
			"function": "sendControl",
			"state":    g.control.ReadyState().String(),
		}).Debug("Control channel not open, dropping frame")
		return nil
	}
	if err := g.control.Send(data); err != nil {
		return fmt.Errorf("send control frame: %w", err)
	}
	return nil
}

func (g *PeerConnection) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

func mapConnectionState(state webrtc.ICEConnectionState) ConnectionState {
	switch state {
	case webrtc.ICEConnectionStateNew:
		return ConnectionStateNew
	case webrtc.ICEConnectionStateChecking:
		return ConnectionStateChecking
	case webrtc.ICEConnectionStateConnected:
		return ConnectionStateConnected
	case webrtc.ICEConnectionStateCompleted:
		return ConnectionStateCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return ConnectionStateDisconnected
	case webrtc.ICEConnectionStateFailed:
		return ConnectionStateFailed
	case webrtc.ICEConnectionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNew
	}
}
