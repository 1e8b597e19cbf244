package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voipcore/rtc"
)

func TestManagerCloseEndsActiveCall(t *testing.T) {
	sender := &fakeSender{}
	reporter := &fakeReporter{}
	var gateways []*fakeGateway

	mgr := NewManager(Config{
		Sender: sender,
		GatewayFactory: func(params rtc.Parameters, callbacks rtc.Callbacks) (rtc.Gateway, error) {
			gw := &fakeGateway{
				params:    params,
				callbacks: callbacks,
				offerSDP:  "offer-sdp",
			}
			gateways = append(gateways, gw)
			return gw, nil
		},
		Reporter:     reporter,
		Microphone:   &manualMic{granted: true},
		AllowIPv6:    true,
		CallsEnabled: true,
	})

	require.NoError(t, mgr.ProcessUserAction(UserAction{Kind: ActionCall, ContactIdentity: "ALICE"}))
	require.Eventually(t, func() bool { return mgr.State() == StateSendOffer },
		time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.Close())

	sender.mu.Lock()
	hangups := len(sender.hangups)
	sender.mu.Unlock()
	require.Equal(t, 1, hangups, "closing with a call up must hang it up")

	require.Len(t, gateways, 1)
	assert.Equal(t, 1, gateways[0].closed)
	assert.Equal(t, StateEnded, mgr.State())
	require.Len(t, reporter.ended, 1)
	assert.Equal(t, EndedReasonLocal, reporter.ended[0].reason)
}

func TestManagerCloseWithoutCallIsQuiet(t *testing.T) {
	sender := &fakeSender{}

	mgr := NewManager(Config{
		Sender: sender,
		GatewayFactory: func(rtc.Parameters, rtc.Callbacks) (rtc.Gateway, error) {
			t.Fatal("no gateway should be created")
			return nil, nil
		},
		Reporter:     &fakeReporter{},
		Microphone:   &manualMic{granted: true},
		CallsEnabled: true,
	})

	require.NoError(t, mgr.Close())

	assert.Empty(t, sender.hangups)
	assert.ErrorIs(t, mgr.ProcessUserAction(UserAction{Kind: ActionCall, ContactIdentity: "ALICE"}), ErrManagerClosed)
}
