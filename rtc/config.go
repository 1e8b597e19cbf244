package rtc

import "github.com/pion/webrtc/v4"

// ICEConfig holds the STUN/TURN server configuration used during candidate
// gathering. Order matters: pion tries servers in sequence.
type ICEConfig struct {
	Servers []webrtc.ICEServer
}

// DefaultICEConfig returns a configuration with no servers, which yields
// host candidates only. Sufficient for same-machine and same-LAN calls and
// for tests; production deployments supply STUN and TURN servers.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{}
}

// StaticICEConfig builds a configuration from plain server URLs with a
// shared credential, the common shape for self-hosted TURN deployments.
func StaticICEConfig(urls []string, username, credential string) ICEConfig {
	if len(urls) == 0 {
		return ICEConfig{}
	}
	return ICEConfig{
		Servers: []webrtc.ICEServer{
			{
				URLs:       urls,
				Username:   username,
				Credential: credential,
			},
		},
	}
}
