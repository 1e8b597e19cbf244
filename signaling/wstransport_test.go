package signaling

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayServer accepts one WebSocket connection and exposes its frames.
type relayServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newRelayServer(t *testing.T) *relayServer {
	upgrader := websocket.Upgrader{}
	rs := &relayServer{conns: make(chan *websocket.Conn, 1)}
	rs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		rs.conns <- conn
	}))
	t.Cleanup(rs.Close)
	return rs
}

func (rs *relayServer) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.URL, "http")
}

func (rs *relayServer) accept(t *testing.T) *websocket.Conn {
	select {
	case conn := <-rs.conns:
		return conn
	case <-time.After(time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func TestWSTransportSendStampsSenderIdentity(t *testing.T) {
	server := newRelayServer(t)

	transport, err := DialWS(server.wsURL(), "ALICE", nil)
	require.NoError(t, err)
	defer transport.Close()

	serverConn := server.accept(t)
	defer serverConn.Close()

	require.NoError(t, transport.SendOffer(&Offer{
		CallID:          1,
		ContactIdentity: "BOB",
		SDP:             "v=0",
	}))

	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := serverConn.ReadMessage()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	offer, ok := decoded.(*Offer)
	require.True(t, ok)
	assert.Equal(t, "ALICE", offer.ContactIdentity,
		"the receiver sees the sender's identity")
	assert.Equal(t, CallID(1), offer.CallID)
}

func TestWSTransportDeliversInboundMessages(t *testing.T) {
	server := newRelayServer(t)

	received := make(chan any, 1)
	transport, err := DialWS(server.wsURL(), "BOB", func(message any) {
		received <- message
	})
	require.NoError(t, err)
	defer transport.Close()

	serverConn := server.accept(t)
	defer serverConn.Close()

	data, err := Encode(&Hangup{CallID: 9, ContactIdentity: "BOB"})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, data))

	select {
	case message := <-received:
		hangup, ok := message.(*Hangup)
		require.True(t, ok)
		assert.Equal(t, CallID(9), hangup.CallID)
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestWSTransportSkipsMalformedEnvelopes(t *testing.T) {
	server := newRelayServer(t)

	received := make(chan any, 1)
	transport, err := DialWS(server.wsURL(), "BOB", func(message any) {
		received <- message
	})
	require.NoError(t, err)
	defer transport.Close()

	serverConn := server.accept(t)
	defer serverConn.Close()

	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, []byte("not json")))
	data, err := Encode(&Ringing{CallID: 3, ContactIdentity: "BOB"})
	require.NoError(t, err)
	require.NoError(t, serverConn.WriteMessage(websocket.TextMessage, data))

	select {
	case message := <-received:
		_, ok := message.(*Ringing)
		assert.True(t, ok, "the malformed frame is skipped, the next one delivered")
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}
}

func TestWSTransportSendAfterClose(t *testing.T) {
	server := newRelayServer(t)

	transport, err := DialWS(server.wsURL(), "ALICE", nil)
	require.NoError(t, err)
	require.NoError(t, transport.Close())

	err = transport.SendHangup(&Hangup{CallID: 1, ContactIdentity: "BOB"})
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestDialWSRefusesUnreachableRelay(t *testing.T) {
	_, err := DialWS("ws://127.0.0.1:1/signaling", "ALICE", nil)
	assert.Error(t, err)
}
