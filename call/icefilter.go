package call

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// iceFilter decides whether an ICE candidate is admitted, for both locally
// gathered candidates (before they are advertised) and remote candidates
// (before they reach the peer connection).
//
// The only state is the per-call set of relay related addresses already
// advertised locally, used to suppress duplicate TURN allocations. It is
// reset when the call ends.
type iceFilter struct {
	allowIPv6             bool
	localRelatedAddresses map[string]struct{}
}

func newIceFilter(allowIPv6 bool) *iceFilter {
	return &iceFilter{
		allowIPv6:             allowIPv6,
		localRelatedAddresses: make(map[string]struct{}),
	}
}

// reset clears the per-call related-address set.
func (f *iceFilter) reset() {
	f.localRelatedAddresses = make(map[string]struct{})
}

// shouldAccept applies the admission rules to one candidate SDP fragment.
// It returns whether the candidate is admitted and, when it is not, a
// short reason for the log.
//
// Rules, in order: malformed candidates are admitted as-is (fail open);
// loopback addresses are rejected; IPv6 is rejected when disabled;
// non-relay candidates are admitted; relay candidates with the "any"
// related address are admitted; local relay candidates whose related
// address was already advertised are rejected, otherwise the address is
// recorded.
func (f *iceFilter) shouldAccept(candidate string, local bool) (bool, string) {
	parts := strings.Split(candidate, " ")

	// Invalid candidate but who knows what they're doing, so we'll just
	// eat it.
	if len(parts) < 8 {
		return true, ""
	}

	ip := parts[4]
	if ip == "127.0.0.1" || ip == "::1" {
		return false, "loopback"
	}

	if !f.allowIPv6 && strings.Contains(ip, ":") {
		return false, "ipv6_disabled"
	}

	candidateType := parts[7]
	if candidateType != "relay" || len(parts) < 10 {
		return true, ""
	}

	relatedAddress := parts[9]
	if relatedAddress == "0.0.0.0" {
		return true, ""
	}

	if local {
		// This only works as long as we don't do ICE restarts and don't
		// add further relay transport types.
		if _, seen := f.localRelatedAddresses[relatedAddress]; seen {
			return false, "duplicate_related_addr"
		}
		f.localRelatedAddresses[relatedAddress] = struct{}{}
	}

	return true, ""
}

// logRejectedCandidate records why a candidate was dropped.
func logRejectedCandidate(callID, candidate, reason string, local bool) {
	logrus.WithFields(logrus.Fields{
		"function":  "shouldAccept",
		"call_id":   callID,
		"candidate": candidate,
		"reason":    reason,
		"local":     local,
	}).Debug("Discarding ICE candidate")
}
