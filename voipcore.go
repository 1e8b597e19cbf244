package voipcore

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voipcore/call"
	"github.com/opd-ai/voipcore/rtc"
	"github.com/opd-ai/voipcore/signaling"
)

// ErrNoSender indicates Options without a signaling sender.
var ErrNoSender = errors.New("options require a signaling sender")

// Options configures a CallSubsystem. Use NewOptions for defaults and set
// Sender before calling New.
type Options struct {
	// Sender transmits outgoing signaling messages over the host
	// application's delivery channel. Required.
	Sender signaling.Sender

	// Reporter mirrors call milestones to the platform's native call UI.
	// Defaults to a no-op reporter.
	Reporter call.Reporter

	// Microphone asks the platform for microphone access. Defaults to
	// granting unconditionally.
	Microphone call.MicrophoneAuthorizer

	// ICE configures the STUN/TURN servers for peer connections.
	ICE rtc.ICEConfig

	// GatewayFactory overrides peer connection creation, mainly for
	// tests. Defaults to a factory over the ICE configuration.
	GatewayFactory rtc.Factory

	// AllowIPv6 admits IPv6 ICE candidates.
	AllowIPv6 bool

	// AlwaysRelay restricts ICE to relay candidates so the local network
	// address is never disclosed.
	AlwaysRelay bool

	// CallsEnabled gates incoming calls. When false, offers are rejected
	// with a disabled reason without ringing.
	CallsEnabled bool
}

// NewOptions returns Options with default policy: calls enabled, IPv6
// allowed, direct connections permitted, default ICE servers.
func NewOptions() *Options {
	return &Options{
		ICE:          rtc.DefaultICEConfig(),
		AllowIPv6:    true,
		CallsEnabled: true,
	}
}

// CallSubsystem is the public face of the call stack: the signaling state
// machine, its serial event pipeline and the peer connection management,
// assembled and ready to use.
//
// The embedded Manager carries the whole operation surface: user actions,
// incoming signaling messages, state accessors and observer registration.
type CallSubsystem struct {
	*call.Manager
}

// New assembles a call subsystem from options.
func New(options *Options) (*CallSubsystem, error) {
	if options == nil || options.Sender == nil {
		return nil, ErrNoSender
	}

	reporter := options.Reporter
	if reporter == nil {
		reporter = NoopReporter{}
	}
	microphone := options.Microphone
	if microphone == nil {
		microphone = AlwaysGrantMicrophone{}
	}
	factory := options.GatewayFactory
	if factory == nil {
		factory = rtc.NewFactory(options.ICE)
	}

	manager := call.NewManager(call.Config{
		Sender:         options.Sender,
		GatewayFactory: factory,
		Reporter:       reporter,
		Microphone:     microphone,
		AllowIPv6:      options.AllowIPv6,
		AlwaysRelay:    options.AlwaysRelay,
		CallsEnabled:   options.CallsEnabled,
	})

	logrus.WithFields(logrus.Fields{
		"function": "New",
	}).Info("Call subsystem ready")

	return &CallSubsystem{Manager: manager}, nil
}
