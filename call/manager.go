package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voipcore/signaling"
)

// Manager is the entry point of the call subsystem. It owns the state
// machine and its dispatcher and exposes the operations the host
// application and the signaling layer call into. Every operation is
// enqueued as an event; none of them block on call processing.
type Manager struct {
	service    *Service
	dispatcher *Dispatcher

	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager wires a state machine and its serial dispatcher.
func NewManager(cfg Config) *Manager {
	service := NewService(cfg)
	dispatcher := NewDispatcher(service)
	service.bind(dispatcher.Enqueue)

	logrus.WithFields(logrus.Fields{
		"function":      "NewManager",
		"calls_enabled": cfg.CallsEnabled,
		"allow_ipv6":    cfg.AllowIPv6,
		"always_relay":  cfg.AlwaysRelay,
	}).Info("Call manager created")

	return &Manager{
		service:    service,
		dispatcher: dispatcher,
		closed:     make(chan struct{}),
	}
}

// ProcessUserAction enqueues a user-initiated call action.
func (m *Manager) ProcessUserAction(action UserAction) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(userActionEvent{action: action})
	return nil
}

// IncomingOffer enqueues a received call offer.
func (m *Manager) IncomingOffer(offer *signaling.Offer) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(offerEvent{offer: offer})
	return nil
}

// IncomingAnswer enqueues a received call answer.
func (m *Manager) IncomingAnswer(answer *signaling.Answer) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(answerEvent{answer: answer})
	return nil
}

// IncomingRinging enqueues a received ringing confirmation.
func (m *Manager) IncomingRinging(ringing *signaling.Ringing) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(ringingEvent{ringing: ringing})
	return nil
}

// IncomingHangup enqueues a received hangup.
func (m *Manager) IncomingHangup(hangup *signaling.Hangup) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(hangupEvent{hangup: hangup})
	return nil
}

// IncomingIceCandidates enqueues a received ICE candidate message.
func (m *Manager) IncomingIceCandidates(candidates *signaling.IceCandidates) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	m.dispatcher.Enqueue(iceCandidatesEvent{candidates: candidates})
	return nil
}

// IncomingMessage enqueues any decoded signaling message. Unknown message
// types are rejected.
func (m *Manager) IncomingMessage(message any) error {
	switch msg := message.(type) {
	case *signaling.Offer:
		return m.IncomingOffer(msg)
	case *signaling.Answer:
		return m.IncomingAnswer(msg)
	case *signaling.Ringing:
		return m.IncomingRinging(msg)
	case *signaling.Hangup:
		return m.IncomingHangup(msg)
	case *signaling.IceCandidates:
		return m.IncomingIceCandidates(msg)
	default:
		return signaling.ErrUnknownMessageType
	}
}

// State returns the current call state.
func (m *Manager) State() State { return m.service.State() }

// CurrentContactIdentity returns the active call's remote identity.
func (m *Manager) CurrentContactIdentity() string {
	return m.service.CurrentContactIdentity()
}

// CurrentCallID returns the active call's ID.
func (m *Manager) CurrentCallID() (signaling.CallID, bool) {
	return m.service.CurrentCallID()
}

// IsCallActive reports whether a call is in progress.
func (m *Manager) IsCallActive() bool { return m.service.IsCallActive() }

// CallDuration returns the elapsed media time of the active call.
func (m *Manager) CallDuration() time.Duration { return m.service.CallDuration() }

// IsAudioMuted reports the local microphone mute state.
func (m *Manager) IsAudioMuted() bool { return m.service.IsAudioMuted() }

// IsInitiator reports whether the local side started the active call.
func (m *Manager) IsInitiator() bool { return m.service.IsInitiator() }

// IsSpeakerActive reports the loudspeaker routing preference.
func (m *Manager) IsSpeakerActive() bool { return m.service.IsSpeakerActive() }

// IsReceivingRemoteVideo reports whether the remote party announced an
// active camera.
func (m *Manager) IsReceivingRemoteVideo() bool { return m.service.IsReceivingRemoteVideo() }

// SetStateChangeCallback registers the state observer.
func (m *Manager) SetStateChangeCallback(fn func(state State, contactIdentity string)) {
	m.service.SetStateChangeCallback(fn)
}

// SetNotificationCallback registers the notification observer.
func (m *Manager) SetNotificationCallback(fn func(Notification)) {
	m.service.SetNotificationCallback(fn)
}

// SetCallDurationCallback registers the duration-tick observer.
func (m *Manager) SetCallDurationCallback(fn func(time.Duration)) {
	m.service.SetCallDurationCallback(fn)
}

// SetRemoteVideoCallback registers the remote camera state observer.
func (m *Manager) SetRemoteVideoCallback(fn func(active bool)) {
	m.service.SetRemoteVideoCallback(fn)
}

// Close ends any active call, waiting for the hangup to be processed,
// then drops remaining events and rejects future operations.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function": "Manager.Close",
		}).Info("Closing call manager")

		if m.service.IsCallActive() {
			m.dispatcher.Enqueue(userActionEvent{action: UserAction{Kind: ActionEnd}})
			if !m.dispatcher.Drain(stallWarnInterval) {
				logrus.WithFields(logrus.Fields{
					"function": "Manager.Close",
				}).Warn("Pipeline did not drain before shutdown, active call may not have been torn down")
			}
		}
		close(m.closed)
		m.dispatcher.Close()
	})
	return nil
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}
