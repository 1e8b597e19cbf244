package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Candidate fixtures in the SDP fragment layout the filter parses:
// foundation component protocol priority ip port "typ" type
// [ "raddr" relatedAddress ].
const (
	candidateHost       = "candidate:1 1 udp 2122260223 192.168.1.10 54321 typ host"
	candidateHostV6     = "candidate:2 1 udp 2122262783 2001:db8::10 54321 typ host"
	candidateLoopback   = "candidate:3 1 udp 2122260223 127.0.0.1 54321 typ host"
	candidateLoopbackV6 = "candidate:4 1 udp 2122260223 ::1 54321 typ host"
	candidateSrflx      = "candidate:5 1 udp 1686052607 203.0.113.5 54321 typ srflx raddr 192.168.1.10"
	candidateRelayA     = "candidate:6 1 udp 41885439 198.51.100.7 3478 typ relay raddr 192.168.1.10"
	candidateRelayB     = "candidate:7 1 udp 41885438 198.51.100.7 3479 typ relay raddr 192.168.1.10"
	candidateRelayOther = "candidate:8 1 udp 41885439 198.51.100.7 3478 typ relay raddr 192.168.1.99"
	candidateRelayAny   = "candidate:9 1 udp 41885439 198.51.100.7 3478 typ relay raddr 0.0.0.0"
	candidateShortRelay = "candidate:10 1 udp 41885439 198.51.100.7 3478 typ relay"
	candidateMalformed  = "candidate:11 1 udp"
)

func TestIceFilterRules(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		local     bool
		allowIPv6 bool
		accept    bool
		reason    string
	}{
		{name: "host accepted", candidate: candidateHost, allowIPv6: true, accept: true},
		{name: "srflx accepted", candidate: candidateSrflx, allowIPv6: true, accept: true},
		{name: "loopback rejected", candidate: candidateLoopback, allowIPv6: true, accept: false, reason: "loopback"},
		{name: "loopback v6 rejected", candidate: candidateLoopbackV6, allowIPv6: true, accept: false, reason: "loopback"},
		{name: "ipv6 rejected when disabled", candidate: candidateHostV6, allowIPv6: false, accept: false, reason: "ipv6_disabled"},
		{name: "ipv6 accepted when enabled", candidate: candidateHostV6, allowIPv6: true, accept: true},
		{name: "relay any related address accepted", candidate: candidateRelayAny, local: true, allowIPv6: true, accept: true},
		{name: "relay without related address accepted", candidate: candidateShortRelay, local: true, allowIPv6: true, accept: true},
		{name: "malformed accepted as-is", candidate: candidateMalformed, allowIPv6: true, accept: true},
		{name: "empty accepted as-is", candidate: "", allowIPv6: true, accept: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			filter := newIceFilter(tt.allowIPv6)
			accept, reason := filter.shouldAccept(tt.candidate, tt.local)
			assert.Equal(t, tt.accept, accept)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestIceFilterSuppressesDuplicateLocalRelays(t *testing.T) {
	filter := newIceFilter(true)

	accept, _ := filter.shouldAccept(candidateRelayA, true)
	assert.True(t, accept, "first relay for a related address is admitted")

	accept, reason := filter.shouldAccept(candidateRelayB, true)
	assert.False(t, accept, "second relay for the same related address is dropped")
	assert.Equal(t, "duplicate_related_addr", reason)

	accept, _ = filter.shouldAccept(candidateRelayOther, true)
	assert.True(t, accept, "relay for a different related address is admitted")
}

func TestIceFilterRemoteRelaysNotDeduplicated(t *testing.T) {
	filter := newIceFilter(true)

	accept, _ := filter.shouldAccept(candidateRelayA, false)
	assert.True(t, accept)
	accept, _ = filter.shouldAccept(candidateRelayB, false)
	assert.True(t, accept, "remote relays are never deduplicated")
}

func TestIceFilterResetClearsRelatedAddresses(t *testing.T) {
	filter := newIceFilter(true)

	accept, _ := filter.shouldAccept(candidateRelayA, true)
	assert.True(t, accept)

	filter.reset()

	accept, _ = filter.shouldAccept(candidateRelayB, true)
	assert.True(t, accept, "reset clears the per-call related address set")
}
