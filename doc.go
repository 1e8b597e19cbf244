// Package voipcore implements the signaling and connection management of
// 1:1 audio/video calls between two peers.
//
// The package assembles three layers. The call state machine (package
// call) drives a call from offer to teardown through a strictly
// serialized event pipeline, tolerant of the duplicated, reordered and
// premature message delivery of store-and-forward signaling channels. The
// signaling layer (package signaling) defines the wire messages and a
// reference WebSocket transport. The rtc layer (package rtc) wraps the
// WebRTC peer connection and its ICE machinery behind a narrow gateway
// interface.
//
// # Getting Started
//
// Create a call subsystem with options and register observers for call
// events:
//
//	options := voipcore.NewOptions()
//	options.Sender = mySignalingSender
//
//	calls, err := voipcore.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer calls.Close()
//
//	calls.SetStateChangeCallback(func(state call.State, contact string) {
//	    fmt.Printf("call %s: %s\n", contact, state)
//	})
//
//	// Start a call.
//	calls.ProcessUserAction(call.UserAction{
//	    Kind:            call.ActionCall,
//	    ContactIdentity: "BOB",
//	})
//
// Inbound signaling messages from the delivery channel are handed to the
// subsystem with IncomingMessage; everything else, including timers and
// peer-connection callbacks, is internal. The Sender is the one
// integration point every host must provide.
package voipcore
