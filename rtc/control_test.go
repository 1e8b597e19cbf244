package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlMuteStateRoundTrip(t *testing.T) {
	data, err := encodeMuteState(true)
	require.NoError(t, err)

	msg, err := ParseControl(data)
	require.NoError(t, err)
	assert.Equal(t, ControlTypeMuteState, msg.Type)
	require.NotNil(t, msg.Muted)
	assert.True(t, *msg.Muted)
	assert.Nil(t, msg.Active)
}

func TestControlCaptureStateRoundTrip(t *testing.T) {
	data, err := encodeCaptureState(CaptureDeviceCamera, false)
	require.NoError(t, err)

	msg, err := ParseControl(data)
	require.NoError(t, err)
	assert.Equal(t, ControlTypeCaptureState, msg.Type)
	assert.Equal(t, CaptureDeviceCamera, msg.Device)
	require.NotNil(t, msg.Active)
	assert.False(t, *msg.Active)
}

func TestParseControlRejectsGarbage(t *testing.T) {
	_, err := ParseControl([]byte("{"))
	assert.Error(t, err)

	_, err = ParseControl([]byte(`{"muted":true}`))
	assert.Error(t, err, "frames without a type are rejected")
}

func TestMapConnectionState(t *testing.T) {
	tests := []struct {
		in  webrtc.ICEConnectionState
		out ConnectionState
	}{
		{webrtc.ICEConnectionStateNew, ConnectionStateNew},
		{webrtc.ICEConnectionStateChecking, ConnectionStateChecking},
		{webrtc.ICEConnectionStateConnected, ConnectionStateConnected},
		{webrtc.ICEConnectionStateCompleted, ConnectionStateCompleted},
		{webrtc.ICEConnectionStateDisconnected, ConnectionStateDisconnected},
		{webrtc.ICEConnectionStateFailed, ConnectionStateFailed},
		{webrtc.ICEConnectionStateClosed, ConnectionStateClosed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.out, mapConnectionState(tt.in), tt.in.String())
	}
}

func TestPeerConnectionLifecycle(t *testing.T) {
	gw, err := NewPeerConnection(DefaultICEConfig(), Parameters{VideoAvailable: true}, Callbacks{})
	require.NoError(t, err)

	sdp, err := gw.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, sdp, "m=audio")
	assert.Contains(t, sdp, "m=video")

	require.NoError(t, gw.Close())
	require.NoError(t, gw.Close(), "close is idempotent")

	_, err = gw.CreateOffer()
	assert.ErrorIs(t, err, ErrGatewayClosed)
	assert.ErrorIs(t, gw.SetRemoteOffer("v=0"), ErrGatewayClosed)
}

func TestAudioOnlyOfferHasNoVideoSection(t *testing.T) {
	gw, err := NewPeerConnection(DefaultICEConfig(), Parameters{}, Callbacks{})
	require.NoError(t, err)
	defer gw.Close()

	sdp, err := gw.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, sdp, "m=audio")
	assert.NotContains(t, sdp, "m=video")
}
