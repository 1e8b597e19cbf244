// Package rtc wraps the WebRTC peer connection used for call media.
//
// The call state machine in package call drives this package exclusively
// through the Gateway interface: create/answer SDP descriptions, apply the
// remote description, add ICE candidates, and tear down. Network events
// flow back through the Callbacks struct. Keeping the contract this narrow
// lets the state machine be tested with an in-memory gateway and keeps all
// pion types out of the call package.
package rtc

// ConnectionState mirrors the ICE connection state of the underlying peer
// connection, decoupled from the WebRTC library's own type.
type ConnectionState int

const (
	// ConnectionStateNew is the initial state before ICE starts.
	ConnectionStateNew ConnectionState = iota
	// ConnectionStateChecking indicates ICE connectivity checks are running.
	ConnectionStateChecking
	// ConnectionStateConnected indicates a usable candidate pair was found.
	ConnectionStateConnected
	// ConnectionStateCompleted indicates ICE finished checking all pairs.
	ConnectionStateCompleted
	// ConnectionStateDisconnected indicates the connection was lost and may
	// recover on its own.
	ConnectionStateDisconnected
	// ConnectionStateFailed indicates ICE gave up on all candidate pairs.
	ConnectionStateFailed
	// ConnectionStateClosed indicates the connection was shut down.
	ConnectionStateClosed
)

// String returns the log name of the connection state.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateNew:
		return "new"
	case ConnectionStateChecking:
		return "checking"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateCompleted:
		return "completed"
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateFailed:
		return "failed"
	case ConnectionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Parameters configures one peer connection for one call.
type Parameters struct {
	// VideoAvailable creates a video transceiver in addition to audio.
	VideoAvailable bool

	// ForceRelay restricts ICE to relay candidates. Used when the remote
	// party is unverified or the user asked to always relay calls, so the
	// local network address is never disclosed.
	ForceRelay bool
}

// Callbacks carries the peer-connection events the call state machine
// consumes. All callbacks may be invoked from library goroutines; the
// receiver is responsible for serializing them.
type Callbacks struct {
	// ConnectionStateChanged fires on every ICE connection state change.
	ConnectionStateChanged func(state ConnectionState)

	// IceCandidateGenerated fires for each locally gathered candidate,
	// carrying the candidate SDP fragment.
	IceCandidateGenerated func(candidate string)

	// IceCandidatesRemoved fires when the library withdraws previously
	// gathered candidates. Non-standard on the wire; receivers log and
	// drop these.
	IceCandidatesRemoved func(candidates []string)

	// DataReceived fires for each frame on the in-call control channel.
	DataReceived func(data []byte)
}

// Gateway is the peer-connection contract the call state machine depends
// on. PeerConnection implements it over pion/webrtc; tests substitute an
// in-memory fake.
type Gateway interface {
	// CreateOffer builds the local SDP offer and installs it as the local
	// description.
	CreateOffer() (string, error)

	// CreateAnswer builds the local SDP answer to a previously applied
	// remote offer and installs it as the local description.
	CreateAnswer() (string, error)

	// SetRemoteOffer applies the remote party's offer description.
	SetRemoteOffer(sdp string) error

	// SetRemoteAnswer applies the remote party's answer description.
	SetRemoteAnswer(sdp string) error

	// AddRemoteCandidate adds one remote ICE candidate SDP fragment.
	AddRemoteCandidate(candidate string) error

	// SetAudioMuted toggles the outgoing audio mute state and announces it
	// to the remote party over the control channel.
	SetAudioMuted(muted bool) error

	// SetSpeakerActive records the speaker routing preference. Actual
	// audio routing is the host platform's concern.
	SetSpeakerActive(active bool)

	// SendCaptureState announces whether the local camera is capturing.
	SendCaptureState(active bool) error

	// Close tears the peer connection down. Safe to call more than once.
	Close() error
}

// Factory creates a Gateway for a new call. The call state machine calls
// it once per call; the facade binds it to an ICE configuration.
type Factory func(params Parameters, callbacks Callbacks) (Gateway, error)
