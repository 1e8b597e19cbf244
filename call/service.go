package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voipcore/rtc"
	"github.com/opd-ai/voipcore/signaling"
)

// Timeouts and intervals of the state machine.
const (
	// RingingTimeout bounds the ringing phase on both sides: how long an
	// outgoing call waits for the ringing confirmation, and how long an
	// incoming call rings before it is auto-rejected.
	RingingTimeout = 60 * time.Second

	// CallFailedTimeout bounds the reconnect grace period after ICE
	// reported failure or disconnection.
	CallFailedTimeout = 15 * time.Second

	// EndedGraceDelay keeps a terminal state visible to the UI before the
	// machine returns to idle.
	EndedGraceDelay = 5 * time.Second

	// IceFlushInterval batches locally gathered candidates into a single
	// signaling message.
	IceFlushInterval = 50 * time.Millisecond

	// durationTickInterval drives the call duration callback.
	durationTickInterval = time.Second
)

// Notification is a user-facing event the host application should surface,
// typically as a transient banner.
type Notification int

const (
	// NotificationContactNotReachable means an outgoing call got no
	// ringing confirmation before the timeout.
	NotificationContactNotReachable Notification = iota
	// NotificationConnectionFailed means an established call lost
	// connectivity and could not recover.
	NotificationConnectionFailed
	// NotificationCouldNotEstablish means local call setup failed, e.g.
	// the SDP could not be created.
	NotificationCouldNotEstablish
	// NotificationMicrophoneAccessDenied means the platform refused
	// microphone access.
	NotificationMicrophoneAccessDenied
	// NotificationHideCallScreen asks the UI to dismiss the call screen
	// without ending the call.
	NotificationHideCallScreen
)

// String returns the log name of the notification.
func (n Notification) String() string {
	switch n {
	case NotificationContactNotReachable:
		return "contact_not_reachable"
	case NotificationConnectionFailed:
		return "connection_failed"
	case NotificationCouldNotEstablish:
		return "could_not_establish"
	case NotificationMicrophoneAccessDenied:
		return "microphone_access_denied"
	case NotificationHideCallScreen:
		return "hide_call_screen"
	default:
		return "unknown"
	}
}

// Config carries the collaborators and policy knobs of the call service.
type Config struct {
	// Sender transmits outgoing signaling messages. Required.
	Sender signaling.Sender

	// GatewayFactory creates one peer connection per call. Required.
	GatewayFactory rtc.Factory

	// Reporter mirrors call milestones to the native call UI. Required;
	// use NoopReporter when there is none.
	Reporter Reporter

	// Microphone asks the platform for microphone access. Required; use
	// AlwaysGrantMicrophone when the platform has no permission model.
	Microphone MicrophoneAuthorizer

	// AllowIPv6 admits IPv6 ICE candidates.
	AllowIPv6 bool

	// AlwaysRelay restricts ICE to relay candidates so the local network
	// address is never disclosed to the remote party.
	AlwaysRelay bool

	// CallsEnabled gates incoming calls. When false, offers are rejected
	// with a disabled reason without ringing.
	CallsEnabled bool
}

// Service is the call signaling state machine. It implements Processor and
// must only ever be driven through a Dispatcher: every handler assumes it
// is the sole event in flight.
//
// The mutex guards the snapshot accessors (State, CallDuration, ...) that
// the host application may call from any goroutine; it is never held
// across asynchronous work.
type Service struct {
	mu  sync.Mutex
	cfg Config

	state   State
	sess    session
	gateway rtc.Gateway

	filter *iceFilter
	buffer *unknownCallBuffer
	timers *timerSet

	// pendingLocalCandidates are admitted local candidates awaiting the
	// next flush.
	pendingLocalCandidates []string

	// enqueue feeds timer and gateway events back into the pipeline. Bound
	// by the Manager after the Dispatcher exists.
	enqueue func(Event)

	// deferred collects user callbacks to run after the lock is released.
	deferred []func()

	onStateChange   func(state State, contactIdentity string)
	onNotification  func(Notification)
	onCallDuration  func(time.Duration)
	onRemoteVideo   func(active bool)

	now func() time.Time
}

// NewService creates the state machine in the idle state. The returned
// Service is inert until bound to a Dispatcher.
func NewService(cfg Config) *Service {
	return &Service{
		cfg:     cfg,
		state:   StateIdle,
		filter:  newIceFilter(cfg.AllowIPv6),
		buffer:  newUnknownCallBuffer(),
		timers:  newTimerSet(),
		enqueue: func(Event) {},
		now:     time.Now,
	}
}

// bind connects the service's internal event sources to the dispatcher.
func (s *Service) bind(enqueue func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enqueue = enqueue
}

// SetStateChangeCallback registers the state observer. Invoked from the
// pipeline, without the service lock held.
func (s *Service) SetStateChangeCallback(fn func(state State, contactIdentity string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// SetNotificationCallback registers the notification observer.
func (s *Service) SetNotificationCallback(fn func(Notification)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotification = fn
}

// SetCallDurationCallback registers the once-per-second duration observer,
// active while media is connected.
func (s *Service) SetCallDurationCallback(fn func(time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCallDuration = fn
}

// SetRemoteVideoCallback registers the observer for the remote party's
// camera capture state.
func (s *Service) SetRemoteVideoCallback(fn func(active bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRemoteVideo = fn
}

// State returns the current call state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentContactIdentity returns the remote identity of the active call,
// empty when idle.
func (s *Service) CurrentContactIdentity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.contactIdentity
}

// CurrentCallID returns the active call's ID. ok is false when no session
// exists.
func (s *Service) CurrentCallID() (id signaling.CallID, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.callID, s.sess.active()
}

// IsCallActive reports whether a call is in progress in any non-terminal,
// non-idle state.
func (s *Service) IsCallActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsCallInProgress()
}

// CallDuration returns the elapsed media time of the active call, zero
// before media connected.
func (s *Service) CallDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.duration(s.now())
}

// IsAudioMuted reports the local microphone mute state.
func (s *Service) IsAudioMuted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.audioMuted
}

// IsInitiator reports whether the local side started the active call.
func (s *Service) IsInitiator() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.initiator
}

// IsSpeakerActive reports the loudspeaker routing preference.
func (s *Service) IsSpeakerActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.speakerActive
}

// IsReceivingRemoteVideo reports whether the remote party announced an
// active camera.
func (s *Service) IsReceivingRemoteVideo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.receivingRemoteVideo
}

// Process consumes one event from the dispatcher. Exactly one invocation
// is in flight at any time.
func (s *Service) Process(event Event, done func()) {
	s.mu.Lock()

	logrus.WithFields(logrus.Fields{
		"function": "Service.Process",
		"event":    event.kind(),
		"state":    s.state.String(),
	}).Debug("Processing call event")

	switch ev := event.(type) {
	case userActionEvent:
		// May complete asynchronously through a permission prompt.
		if s.handleUserAction(ev.action, done) {
			return
		}
	case offerEvent:
		s.handleOffer(ev.offer)
	case answerEvent:
		s.handleAnswer(ev.answer)
	case ringingEvent:
		s.handleRinging(ev.ringing)
	case hangupEvent:
		s.handleHangup(ev.hangup)
	case iceCandidatesEvent:
		s.handleIceCandidates(ev.candidates)
	case connectionStateEvent:
		s.handleConnectionState(ev.callID, ev.state)
	case localCandidateEvent:
		s.handleLocalCandidate(ev.callID, ev.candidate)
	case localCandidatesRemovedEvent:
		logrus.WithFields(logrus.Fields{
			"function": "Service.Process",
			"call_id":  ev.callID.String(),
			"count":    len(ev.candidates),
		}).Debug("Ignoring withdrawn local ICE candidates")
	case dataReceivedEvent:
		s.handleDataReceived(ev.callID, ev.payload)
	case timerEvent:
		s.handleTimer(ev.purpose, ev.callID)
	}

	s.finish(done)
}

// finish releases the lock, runs deferred user callbacks and completes the
// event.
func (s *Service) finish(done func()) {
	deferred := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, fn := range deferred {
		fn()
	}
	done()
}

// deferCallback queues a user callback to run after the lock is released.
func (s *Service) deferCallback(fn func()) {
	s.deferred = append(s.deferred, fn)
}

// notify queues a notification callback.
func (s *Service) notify(n Notification) {
	logrus.WithFields(logrus.Fields{
		"function":     "Service.notify",
		"notification": n.String(),
	}).Info("Call notification")
	if fn := s.onNotification; fn != nil {
		s.deferCallback(func() { fn(n) })
	}
}

// handleUserAction returns true when the action completes asynchronously
// and will call finish/done itself.
func (s *Service) handleUserAction(action UserAction, done func()) bool {
	logrus.WithFields(logrus.Fields{
		"function": "Service.handleUserAction",
		"action":   action.Kind.String(),
		"state":    s.state.String(),
	}).Info("User call action")

	switch action.Kind {
	case ActionCall, ActionCallWithVideo:
		if s.sess.active() || s.state != StateIdle {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleUserAction",
				"identity": action.ContactIdentity,
				"state":    s.state.String(),
			}).Warn("Ignoring call start, another call is active")
			return false
		}
		video := action.Kind == ActionCallWithVideo
		identity := action.ContactIdentity
		s.requestMicrophone(done, func(granted bool) {
			if !granted {
				s.failMicrophoneDenied()
				return
			}
			s.startOutgoingCall(identity, video)
		})
		return true

	case ActionAccept, ActionAcceptPreapproved:
		if s.state != StateIncomingRinging && s.state != StateReceivedOffer {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleUserAction",
				"state":    s.state.String(),
			}).Warn("Ignoring accept, no ringing incoming call")
			return false
		}
		if s.sess.alreadyAccepted {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleUserAction",
				"call_id":  s.sess.callID.String(),
			}).Debug("Ignoring duplicate accept")
			return false
		}
		s.sess.alreadyAccepted = true
		s.requestMicrophone(done, func(granted bool) {
			if !granted {
				s.rejectIncomingCall(signaling.RejectReasonUnknown, StateMicrophoneDisabled, EndedReasonLocal)
				s.notify(NotificationMicrophoneAccessDenied)
				return
			}
			s.acceptIncomingCall()
		})
		return true

	case ActionReject, ActionRejectBusy, ActionRejectTimeout,
		ActionRejectDisabled, ActionRejectOffHours, ActionRejectUnknown:
		if s.state != StateIncomingRinging && s.state != StateReceivedOffer {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleUserAction",
				"state":    s.state.String(),
			}).Warn("Ignoring reject, no ringing incoming call")
			return false
		}
		reason, terminal := rejectReasonForAction(action.Kind)
		s.rejectIncomingCall(reason, terminal, EndedReasonLocal)

	case ActionEnd:
		if !s.state.IsCallInProgress() {
			return false
		}
		s.sendHangup()
		s.enterTerminal(StateEnded, EndedReasonLocal)

	case ActionMuteAudio, ActionUnmuteAudio:
		muted := action.Kind == ActionMuteAudio
		s.sess.audioMuted = muted
		if s.gateway != nil {
			if err := s.gateway.SetAudioMuted(muted); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Service.handleUserAction",
					"error":    err.Error(),
				}).Warn("Failed to apply mute state")
			}
		}

	case ActionSpeakerOn, ActionSpeakerOff:
		active := action.Kind == ActionSpeakerOn
		s.sess.speakerActive = active
		if s.gateway != nil {
			s.gateway.SetSpeakerActive(active)
		}

	case ActionCameraOn, ActionCameraOff:
		active := action.Kind == ActionCameraOn
		if active && !s.sess.videoAvailable {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleUserAction",
				"call_id":  s.sess.callID.String(),
			}).Warn("Ignoring camera start, call has no video")
			return false
		}
		s.sess.videoActive = active
		if s.gateway != nil {
			if err := s.gateway.SendCaptureState(active); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Service.handleUserAction",
					"error":    err.Error(),
				}).Warn("Failed to announce capture state")
			}
		}

	case ActionHideCallScreen:
		s.notify(NotificationHideCallScreen)
	}

	return false
}

// requestMicrophone asks for microphone access and resumes the pipeline
// with the result. The current event stays in flight until the platform
// answers, so no other event can interleave with the decision.
func (s *Service) requestMicrophone(done func(), resume func(granted bool)) {
	mic := s.cfg.Microphone
	s.mu.Unlock()
	mic.RequestAccess(func(granted bool) {
		s.mu.Lock()
		resume(granted)
		s.finish(done)
	})
}

// failMicrophoneDenied aborts an outgoing call attempt before any
// signaling was sent.
func (s *Service) failMicrophoneDenied() {
	s.notify(NotificationMicrophoneAccessDenied)
	s.transition(StateMicrophoneDisabled)
	s.armIdleReset()
}

// startOutgoingCall runs with microphone access granted and state idle.
func (s *Service) startOutgoingCall(identity string, video bool) {
	s.sess = session{
		contactIdentity: identity,
		callID:          signaling.NewCallID(),
		initiator:       true,
		videoAvailable:  video,
		reportID:        uuid.New(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.startOutgoingCall",
		"identity": identity,
		"call_id":  s.sess.callID.String(),
		"video":    video,
	}).Info("Starting outgoing call")

	if err := s.createGateway(video); err != nil {
		s.failCallSetup(err)
		return
	}

	s.transition(StateSendOffer)

	sdp, err := s.gateway.CreateOffer()
	if err != nil {
		s.failCallSetup(err)
		return
	}

	offer := &signaling.Offer{
		CallID:          s.sess.callID,
		ContactIdentity: identity,
		SDP:             sdp,
		VideoAvailable:  video,
	}
	if err := s.cfg.Sender.SendOffer(offer); err != nil {
		s.failCallSetup(err)
		return
	}

	s.cfg.Reporter.ReportOutgoingCallStarted(s.sess.reportID, identity, video)
	s.armTimer(timerRinging, RingingTimeout)
}

// failCallSetup tears down a call that never got off the ground locally.
func (s *Service) failCallSetup(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.failCallSetup",
		"call_id":  s.sess.callID.String(),
		"error":    err.Error(),
	}).Error("Call setup failed")
	s.notify(NotificationCouldNotEstablish)
	s.enterTerminal(StateEnded, EndedReasonFailed)
}

func (s *Service) handleOffer(offer *signaling.Offer) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.handleOffer",
		"identity": offer.ContactIdentity,
		"call_id":  offer.CallID.String(),
		"video":    offer.VideoAvailable,
	}).Info("Received call offer")

	if s.sess.active() {
		if offer.ContactIdentity == s.sess.contactIdentity {
			// The remote party restarted the call. The newest offer wins:
			// drop the current call quietly and admit the new one.
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleOffer",
				"identity": offer.ContactIdentity,
				"old_call": s.sess.callID.String(),
				"new_call": offer.CallID.String(),
			}).Info("New offer replaces current call from same contact")
			s.teardownSession()
			s.handleOffer(offer)
			return
		}

		s.sendRejectAnswer(offer, signaling.RejectReasonBusy)
		s.cfg.Reporter.ReportMissedCall(offer.ContactIdentity)
		return
	}

	if !s.cfg.CallsEnabled {
		s.sendRejectAnswer(offer, signaling.RejectReasonDisabled)
		s.cfg.Reporter.ReportMissedCall(offer.ContactIdentity)
		return
	}

	s.sess = session{
		contactIdentity: offer.ContactIdentity,
		callID:          offer.CallID,
		initiator:       false,
		videoAvailable:  offer.VideoAvailable,
		reportID:        uuid.New(),
		incomingOffer:   offer,
	}
	s.sess.pendingRemoteCandidates = s.buffer.Take(offer.ContactIdentity, offer.CallID)

	s.transition(StateReceivedOffer)

	ringing := &signaling.Ringing{
		CallID:          offer.CallID,
		ContactIdentity: offer.ContactIdentity,
	}
	if err := s.cfg.Sender.SendRinging(ringing); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleOffer",
			"error":    err.Error(),
		}).Warn("Failed to send ringing")
	}

	s.transition(StateIncomingRinging)
	s.cfg.Reporter.ReportIncomingCall(s.sess.reportID, offer.ContactIdentity, offer.VideoAvailable)
	s.armTimer(timerIncomingRinging, RingingTimeout)
}

func (s *Service) handleAnswer(answer *signaling.Answer) {
	if !s.sess.matches(answer.ContactIdentity, answer.CallID) || !s.sess.initiator {
		s.logStaleMessage("answer", answer.ContactIdentity, answer.CallID)
		return
	}
	if s.state != StateSendOffer && s.state != StateOutgoingRinging {
		s.logStaleMessage("answer", answer.ContactIdentity, answer.CallID)
		return
	}

	if answer.Action == signaling.AnswerActionReject {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleAnswer",
			"identity": answer.ContactIdentity,
			"call_id":  answer.CallID.String(),
			"reason":   answer.RejectReason.String(),
		}).Info("Call rejected by remote party")
		s.enterTerminal(stateForRemoteReject(answer.RejectReason), EndedReasonRemote)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.handleAnswer",
		"identity": answer.ContactIdentity,
		"call_id":  answer.CallID.String(),
		"video":    answer.VideoAvailable,
	}).Info("Call accepted by remote party")

	s.sess.videoAvailable = s.sess.videoAvailable && answer.VideoAvailable
	s.transition(StateReceivedAnswer)

	if err := s.gateway.SetRemoteAnswer(answer.SDP); err != nil {
		s.failCallSetup(err)
		return
	}

	s.applyPendingRemoteCandidates()
	s.flushLocalCandidates()
}

func (s *Service) handleRinging(ringing *signaling.Ringing) {
	if !s.sess.matches(ringing.ContactIdentity, ringing.CallID) || !s.sess.initiator {
		s.logStaleMessage("ringing", ringing.ContactIdentity, ringing.CallID)
		return
	}
	if s.state != StateSendOffer {
		s.logStaleMessage("ringing", ringing.ContactIdentity, ringing.CallID)
		return
	}
	s.transition(StateOutgoingRinging)
}

func (s *Service) handleHangup(hangup *signaling.Hangup) {
	if !s.sess.matches(hangup.ContactIdentity, hangup.CallID) {
		s.logStaleMessage("hangup", hangup.ContactIdentity, hangup.CallID)
		return
	}
	if !s.state.IsCallInProgress() {
		s.logStaleMessage("hangup", hangup.ContactIdentity, hangup.CallID)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.handleHangup",
		"identity": hangup.ContactIdentity,
		"call_id":  hangup.CallID.String(),
	}).Info("Remote party hung up")

	reason := EndedReasonRemote
	if s.state == StateIncomingRinging || s.state == StateReceivedOffer {
		// Caller gave up before we answered.
		s.cfg.Reporter.ReportMissedCall(hangup.ContactIdentity)
	}
	s.enterTerminal(StateRemoteEnded, reason)
}

func (s *Service) handleIceCandidates(msg *signaling.IceCandidates) {
	if msg.Removed {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleIceCandidates",
			"identity": msg.ContactIdentity,
			"call_id":  msg.CallID.String(),
		}).Debug("Ignoring candidate removal message")
		return
	}

	if !s.sess.matches(msg.ContactIdentity, msg.CallID) {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleIceCandidates",
			"identity": msg.ContactIdentity,
			"call_id":  msg.CallID.String(),
			"count":    len(msg.Candidates),
		}).Debug("Buffering candidates for unknown call")
		s.buffer.Add(msg)
		return
	}

	if !s.state.CanApplyRemoteCandidates() {
		s.sess.pendingRemoteCandidates = append(s.sess.pendingRemoteCandidates, msg)
		return
	}

	s.applyRemoteCandidates(msg)
}

// applyRemoteCandidates filters one message's candidates and forwards the
// admitted ones to the peer connection.
func (s *Service) applyRemoteCandidates(msg *signaling.IceCandidates) {
	for _, candidate := range msg.Candidates {
		accept, reason := s.filter.shouldAccept(candidate, false)
		if !accept {
			logRejectedCandidate(msg.CallID.String(), candidate, reason, false)
			continue
		}
		if s.gateway == nil {
			continue
		}
		if err := s.gateway.AddRemoteCandidate(candidate); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Service.applyRemoteCandidates",
				"call_id":   msg.CallID.String(),
				"candidate": candidate,
				"error":     err.Error(),
			}).Warn("Failed to add remote ICE candidate")
		}
	}
}

// applyPendingRemoteCandidates replays candidates that arrived before the
// peer connection was ready, in receipt order.
func (s *Service) applyPendingRemoteCandidates() {
	pending := s.sess.pendingRemoteCandidates
	s.sess.pendingRemoteCandidates = nil
	for _, msg := range pending {
		s.applyRemoteCandidates(msg)
	}
}

func (s *Service) handleConnectionState(callID signaling.CallID, state rtc.ConnectionState) {
	if !s.sess.active() || s.sess.callID != callID {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleConnectionState",
			"call_id":  callID.String(),
			"ice":      state.String(),
		}).Debug("Ignoring connection state for inactive call")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.handleConnectionState",
		"call_id":  callID.String(),
		"ice":      state.String(),
		"state":    s.state.String(),
	}).Info("ICE connection state changed")

	switch state {
	case rtc.ConnectionStateChecking:
		switch s.state {
		case StateSendOffer, StateOutgoingRinging, StateReceivedAnswer, StateSendAnswer:
			s.transition(StateInitializing)
		}

	case rtc.ConnectionStateConnected, rtc.ConnectionStateCompleted:
		if s.state == StateCalling {
			return
		}
		firstConnect := s.sess.connectedAt.IsZero()
		if firstConnect {
			s.sess.connectedAt = s.now()
			if s.sess.initiator {
				s.cfg.Reporter.ReportOutgoingCallConnected(s.sess.reportID)
			}
		}
		s.sess.iceWasConnected = true
		s.transition(StateCalling)
		s.armTimer(timerCallDuration, durationTickInterval)

	case rtc.ConnectionStateDisconnected:
		if s.state == StateCalling || s.state == StateInitializing {
			s.transition(StateReconnecting)
		}

	case rtc.ConnectionStateFailed:
		if s.state == StateReconnecting {
			s.connectionFailed()
			return
		}
		if s.sess.iceWasConnected {
			s.transition(StateReconnecting)
		} else {
			s.transition(StateInitializing)
		}
		s.armTimer(timerCallFailed, CallFailedTimeout)
	}
}

// connectionFailed ends a call whose connectivity is gone for good.
func (s *Service) connectionFailed() {
	s.notify(NotificationConnectionFailed)
	s.sendHangup()
	s.enterTerminal(StateEnded, EndedReasonFailed)
}

func (s *Service) handleLocalCandidate(callID signaling.CallID, candidate string) {
	if !s.sess.active() || s.sess.callID != callID {
		return
	}

	accept, reason := s.filter.shouldAccept(candidate, true)
	if !accept {
		logRejectedCandidate(callID.String(), candidate, reason, true)
		return
	}

	s.pendingLocalCandidates = append(s.pendingLocalCandidates, candidate)
	s.scheduleLocalCandidateFlush()
}

// scheduleLocalCandidateFlush arms the batching timer when candidates may
// currently be sent. In earlier states the batch waits; it is flushed on
// the transition into a sending state.
func (s *Service) scheduleLocalCandidateFlush() {
	if !s.state.CanSendSignaling() || len(s.pendingLocalCandidates) == 0 {
		return
	}
	if s.timers.armed(timerIceFlush) {
		return
	}
	s.armTimer(timerIceFlush, IceFlushInterval)
}

// flushLocalCandidates sends the batched local candidates as one message.
func (s *Service) flushLocalCandidates() {
	if len(s.pendingLocalCandidates) == 0 || !s.state.CanSendSignaling() {
		return
	}

	msg := &signaling.IceCandidates{
		CallID:          s.sess.callID,
		ContactIdentity: s.sess.contactIdentity,
		Candidates:      s.pendingLocalCandidates,
	}
	s.pendingLocalCandidates = nil

	logrus.WithFields(logrus.Fields{
		"function": "Service.flushLocalCandidates",
		"call_id":  msg.CallID.String(),
		"count":    len(msg.Candidates),
	}).Debug("Sending local ICE candidates")

	if err := s.cfg.Sender.SendIceCandidates(msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.flushLocalCandidates",
			"error":    err.Error(),
		}).Warn("Failed to send ICE candidates")
	}
}

func (s *Service) handleDataReceived(callID signaling.CallID, payload []byte) {
	if !s.sess.active() || s.sess.callID != callID {
		return
	}

	msg, err := rtc.ParseControl(payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleDataReceived",
			"call_id":  callID.String(),
			"error":    err.Error(),
		}).Warn("Discarding malformed control frame")
		return
	}

	switch msg.Type {
	case rtc.ControlTypeMuteState:
		if msg.Muted != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Service.handleDataReceived",
				"call_id":  callID.String(),
				"muted":    *msg.Muted,
			}).Debug("Remote mute state changed")
		}
	case rtc.ControlTypeCaptureState:
		if msg.Device == rtc.CaptureDeviceCamera && msg.Active != nil {
			active := *msg.Active
			s.sess.receivingRemoteVideo = active
			if fn := s.onRemoteVideo; fn != nil {
				s.deferCallback(func() { fn(active) })
			}
		}
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleDataReceived",
			"call_id":  callID.String(),
			"type":     msg.Type,
		}).Debug("Ignoring unknown control frame type")
	}
}

func (s *Service) handleTimer(purpose timerPurpose, callID signaling.CallID) {
	if s.sess.callID != callID {
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleTimer",
			"timer":    purpose.String(),
			"call_id":  callID.String(),
		}).Debug("Ignoring timer for inactive call")
		return
	}

	switch purpose {
	case timerRinging:
		if s.state != StateSendOffer {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function": "Service.handleTimer",
			"call_id":  callID.String(),
		}).Info("No ringing confirmation, contact not reachable")
		s.notify(NotificationContactNotReachable)
		s.sendHangup()
		s.enterTerminal(StateEnded, EndedReasonUnanswered)

	case timerIncomingRinging:
		if s.state != StateIncomingRinging {
			return
		}
		s.rejectIncomingCall(signaling.RejectReasonTimeout, StateRejectedTimeout, EndedReasonUnanswered)
		s.cfg.Reporter.ReportMissedCall(s.sess.contactIdentity)

	case timerCallFailed:
		if s.state != StateInitializing && s.state != StateReconnecting {
			return
		}
		s.connectionFailed()

	case timerCallDuration:
		if s.state != StateCalling {
			return
		}
		duration := s.sess.duration(s.now())
		if fn := s.onCallDuration; fn != nil {
			s.deferCallback(func() { fn(duration) })
		}
		s.armTimer(timerCallDuration, durationTickInterval)

	case timerIdleReset:
		s.resetToIdle()

	case timerIceFlush:
		s.flushLocalCandidates()
	}
}

// acceptIncomingCall runs with microphone access granted and a stored
// incoming offer.
func (s *Service) acceptIncomingCall() {
	offer := s.sess.incomingOffer
	if offer == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.acceptIncomingCall",
			"state":    s.state.String(),
		}).Error("Accept without stored offer")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "Service.acceptIncomingCall",
		"identity": s.sess.contactIdentity,
		"call_id":  s.sess.callID.String(),
	}).Info("Accepting incoming call")

	s.transition(StateSendAnswer)

	if err := s.createGateway(s.sess.videoAvailable); err != nil {
		s.failAccept(err)
		return
	}
	if err := s.gateway.SetRemoteOffer(offer.SDP); err != nil {
		s.failAccept(err)
		return
	}
	sdp, err := s.gateway.CreateAnswer()
	if err != nil {
		s.failAccept(err)
		return
	}

	answer := &signaling.Answer{
		CallID:          s.sess.callID,
		ContactIdentity: s.sess.contactIdentity,
		Action:          signaling.AnswerActionCall,
		SDP:             sdp,
		VideoAvailable:  s.sess.videoAvailable,
	}
	if err := s.cfg.Sender.SendAnswer(answer); err != nil {
		s.failAccept(err)
		return
	}

	s.applyPendingRemoteCandidates()
}

// failAccept tears down an accept that failed locally, telling the caller
// the call could not be established.
func (s *Service) failAccept(err error) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.failAccept",
		"call_id":  s.sess.callID.String(),
		"error":    err.Error(),
	}).Error("Accepting call failed")

	answer := &signaling.Answer{
		CallID:          s.sess.callID,
		ContactIdentity: s.sess.contactIdentity,
		Action:          signaling.AnswerActionReject,
		RejectReason:    signaling.RejectReasonUnknown,
	}
	if sendErr := s.cfg.Sender.SendAnswer(answer); sendErr != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.failAccept",
			"error":    sendErr.Error(),
		}).Warn("Failed to send reject answer")
	}

	s.notify(NotificationCouldNotEstablish)
	s.enterTerminal(StateEnded, EndedReasonFailed)
}

// rejectIncomingCall sends a rejecting answer for the stored offer and
// enters the matching terminal state.
func (s *Service) rejectIncomingCall(reason signaling.RejectReason, terminal State, ended EndedReason) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.rejectIncomingCall",
		"identity": s.sess.contactIdentity,
		"call_id":  s.sess.callID.String(),
		"reason":   reason.String(),
	}).Info("Rejecting incoming call")

	answer := &signaling.Answer{
		CallID:          s.sess.callID,
		ContactIdentity: s.sess.contactIdentity,
		Action:          signaling.AnswerActionReject,
		RejectReason:    reason,
	}
	if err := s.cfg.Sender.SendAnswer(answer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.rejectIncomingCall",
			"error":    err.Error(),
		}).Warn("Failed to send reject answer")
	}

	s.enterTerminal(terminal, ended)
}

// sendRejectAnswer rejects an offer that never became a session, e.g. a
// second call while one is active. The active session is untouched.
func (s *Service) sendRejectAnswer(offer *signaling.Offer, reason signaling.RejectReason) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.sendRejectAnswer",
		"identity": offer.ContactIdentity,
		"call_id":  offer.CallID.String(),
		"reason":   reason.String(),
	}).Info("Rejecting offer without session")

	answer := &signaling.Answer{
		CallID:          offer.CallID,
		ContactIdentity: offer.ContactIdentity,
		Action:          signaling.AnswerActionReject,
		RejectReason:    reason,
	}
	if err := s.cfg.Sender.SendAnswer(answer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.sendRejectAnswer",
			"error":    err.Error(),
		}).Warn("Failed to send reject answer")
	}
}

// sendHangup notifies the remote party that the call is over. Best effort.
func (s *Service) sendHangup() {
	if !s.sess.active() {
		return
	}
	hangup := &signaling.Hangup{
		CallID:          s.sess.callID,
		ContactIdentity: s.sess.contactIdentity,
	}
	if err := s.cfg.Sender.SendHangup(hangup); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.sendHangup",
			"error":    err.Error(),
		}).Warn("Failed to send hangup")
	}
}

// createGateway builds the peer connection for the active session. Gateway
// callbacks re-enter the pipeline as events pinned to the session's call
// ID, so callbacks from a torn down connection are discarded.
func (s *Service) createGateway(video bool) error {
	callID := s.sess.callID
	params := rtc.Parameters{
		VideoAvailable: video,
		ForceRelay:     s.cfg.AlwaysRelay,
	}
	callbacks := rtc.Callbacks{
		ConnectionStateChanged: func(state rtc.ConnectionState) {
			s.enqueue(connectionStateEvent{callID: callID, state: state})
		},
		IceCandidateGenerated: func(candidate string) {
			s.enqueue(localCandidateEvent{callID: callID, candidate: candidate})
		},
		IceCandidatesRemoved: func(candidates []string) {
			s.enqueue(localCandidatesRemovedEvent{callID: callID, candidates: candidates})
		},
		DataReceived: func(data []byte) {
			s.enqueue(dataReceivedEvent{callID: callID, payload: data})
		},
	}

	gateway, err := s.cfg.GatewayFactory(params, callbacks)
	if err != nil {
		return err
	}
	s.gateway = gateway
	return nil
}

// closeGateway tears down the peer connection, once.
func (s *Service) closeGateway() {
	if s.gateway == nil {
		return
	}
	if err := s.gateway.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Service.closeGateway",
			"call_id":  s.sess.callID.String(),
			"error":    err.Error(),
		}).Warn("Failed to close peer connection")
	}
	s.gateway = nil
}

// enterTerminal moves into a terminal state, reports the call's end and
// arms the return to idle.
func (s *Service) enterTerminal(terminal State, reason EndedReason) {
	duration := s.sess.duration(s.now())
	s.closeGateway()
	s.transition(terminal)
	if s.sess.active() {
		s.cfg.Reporter.ReportCallEnded(s.sess.reportID, reason, duration)
	}
	s.armIdleReset()
}

func (s *Service) armIdleReset() {
	s.armTimer(timerIdleReset, EndedGraceDelay)
}

// teardownSession silently discards the current call without entering a
// terminal state. Used when a newer offer from the same contact replaces
// the call.
func (s *Service) teardownSession() {
	s.closeGateway()
	if s.sess.active() {
		s.cfg.Reporter.ReportCallEnded(s.sess.reportID, EndedReasonRemote, s.sess.duration(s.now()))
	}
	s.timers.cancelAll()
	s.filter.reset()
	s.sess = session{}
	s.pendingLocalCandidates = nil
	s.state = StateIdle
}

// resetToIdle returns the machine to idle after a terminal state.
func (s *Service) resetToIdle() {
	s.closeGateway()
	s.timers.cancelAll()
	s.filter.reset()
	s.buffer.Clear()
	s.sess = session{}
	s.pendingLocalCandidates = nil
	s.transition(StateIdle)
}

// armTimer schedules a timer whose firing re-enters the pipeline pinned to
// the current call ID.
func (s *Service) armTimer(purpose timerPurpose, d time.Duration) {
	callID := s.sess.callID
	s.timers.arm(purpose, d, func() {
		s.timers.fired(purpose)
		s.enqueue(timerEvent{purpose: purpose, callID: callID})
	})
}

// transition changes the call state, invalidates timers that are
// meaningless in the new state and notifies the state observer.
func (s *Service) transition(to State) {
	from := s.state
	if from == to {
		return
	}

	s.timers.invalidateForTransition(to)
	s.state = to

	logrus.WithFields(logrus.Fields{
		"function": "Service.transition",
		"from":     from.String(),
		"to":       to.String(),
		"call_id":  s.sess.callID.String(),
		"identity": s.sess.contactIdentity,
	}).Info("Call state changed")

	if to.CanSendSignaling() {
		s.scheduleLocalCandidateFlush()
	}

	if fn := s.onStateChange; fn != nil {
		state, identity := to, s.sess.contactIdentity
		s.deferCallback(func() { fn(state, identity) })
	}
}

// logStaleMessage records a signaling message that does not belong to the
// active call in its current state.
func (s *Service) logStaleMessage(messageType, identity string, callID signaling.CallID) {
	logrus.WithFields(logrus.Fields{
		"function": "Service.logStaleMessage",
		"type":     messageType,
		"identity": identity,
		"call_id":  callID.String(),
		"state":    s.state.String(),
	}).Debug("Discarding stale signaling message")
}

// stateForRemoteReject maps a remote reject reason to the terminal state
// shown to the local user.
func stateForRemoteReject(reason signaling.RejectReason) State {
	switch reason {
	case signaling.RejectReasonBusy:
		return StateRejectedBusy
	case signaling.RejectReasonTimeout:
		return StateRejectedTimeout
	case signaling.RejectReasonReject:
		return StateRejected
	case signaling.RejectReasonDisabled:
		return StateRejectedDisabled
	case signaling.RejectReasonOffHours:
		return StateRejectedOffHours
	default:
		return StateRejectedUnknown
	}
}

// rejectReasonForAction maps a local reject action to the wire reason and
// the local terminal state.
func rejectReasonForAction(kind ActionKind) (signaling.RejectReason, State) {
	switch kind {
	case ActionRejectBusy:
		return signaling.RejectReasonBusy, StateRejectedBusy
	case ActionRejectTimeout:
		return signaling.RejectReasonTimeout, StateRejectedTimeout
	case ActionRejectDisabled:
		return signaling.RejectReasonDisabled, StateRejectedDisabled
	case ActionRejectOffHours:
		return signaling.RejectReasonOffHours, StateRejectedOffHours
	case ActionReject:
		return signaling.RejectReasonReject, StateRejected
	default:
		return signaling.RejectReasonUnknown, StateRejectedUnknown
	}
}
