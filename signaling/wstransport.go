package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait bounds a single envelope write; the relay is expected to be
	// close and fast, real store-and-forward happens on its side.
	writeWait = 10 * time.Second

	// maxEnvelopeSize bounds inbound envelopes. SDP descriptions are a few
	// kilobytes; anything larger is not a call signaling message.
	maxEnvelopeSize = 64 * 1024
)

// ErrTransportClosed indicates a send on a closed transport.
var ErrTransportClosed = errors.New("signaling transport is closed")

// WSTransport is a reference Sender implementation that relays signaling
// envelopes over a WebSocket connection to a store-and-forward relay.
//
// It exists so hosts and the bundled examples have a working delivery
// channel out of the box; production deployments typically route signaling
// through their own messaging layer instead.
type WSTransport struct {
	identity string
	conn     *websocket.Conn
	receive  func(message any)

	writeMu sync.Mutex
	closed  bool
}

// DialWS connects to a signaling relay and starts the read loop. The
// identity is stamped into the From field of every outgoing envelope.
// Inbound messages are delivered to the receive callback, one at a time.
func DialWS(url, identity string, receive func(message any)) (*WSTransport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling relay: %w", err)
	}
	conn.SetReadLimit(maxEnvelopeSize)

	t := &WSTransport{
		identity: identity,
		conn:     conn,
		receive:  receive,
	}
	go t.readLoop()

	logrus.WithFields(logrus.Fields{
		"function": "DialWS",
		"url":      url,
		"identity": identity,
	}).Info("Connected to signaling relay")

	return t, nil
}

// Close shuts the transport down. Pending sends fail with
// ErrTransportClosed.
func (t *WSTransport) Close() error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.conn.Close()
}

// SendOffer implements Sender.
func (t *WSTransport) SendOffer(offer *Offer) error { return t.send(offer) }

// SendAnswer implements Sender.
func (t *WSTransport) SendAnswer(answer *Answer) error { return t.send(answer) }

// SendRinging implements Sender.
func (t *WSTransport) SendRinging(ringing *Ringing) error { return t.send(ringing) }

// SendHangup implements Sender.
func (t *WSTransport) SendHangup(hangup *Hangup) error { return t.send(hangup) }

// SendIceCandidates implements Sender.
func (t *WSTransport) SendIceCandidates(candidates *IceCandidates) error {
	return t.send(candidates)
}

func (t *WSTransport) send(message any) error {
	env, err := newEnvelope(message)
	if err != nil {
		return err
	}
	env.From = t.identity
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode signaling envelope: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.closed {
		return ErrTransportClosed
	}
	if err := t.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write signaling envelope: %w", err)
	}
	return nil
}

func (t *WSTransport) readLoop() {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			t.writeMu.Lock()
			closed := t.closed
			t.writeMu.Unlock()
			if !closed {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"identity": t.identity,
					"error":    err.Error(),
				}).Warn("Signaling relay connection lost")
			}
			return
		}

		message, err := Decode(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "readLoop",
				"identity": t.identity,
				"error":    err.Error(),
			}).Warn("Discarding malformed signaling envelope")
			continue
		}
		if t.receive != nil {
			t.receive(message)
		}
	}
}
