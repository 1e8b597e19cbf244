package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/voipcore/signaling"
)

// Retention policy for the unknown-call candidate buffer. Stray candidates
// that never correlate to an accepted call would otherwise accumulate for
// the process lifetime.
const (
	// unknownCandidateTTL is how long a buffered message may wait for its
	// call to become known. Matches the ringing timeout: a candidate older
	// than that belongs to a call that can no longer be accepted.
	unknownCandidateTTL = 60 * time.Second

	// maxUnknownMessagesPerIdentity caps buffered messages per contact.
	maxUnknownMessagesPerIdentity = 16
)

type bufferedCandidates struct {
	message    *signaling.IceCandidates
	receivedAt time.Time
}

// unknownCallBuffer holds ICE candidate messages whose identity/callID
// pair does not match any currently known call. Candidates routinely
// outrun the offer on a store-and-forward channel; when the call for an
// identity is later accepted, its buffered messages are replayed.
type unknownCallBuffer struct {
	mu      sync.Mutex
	entries map[string][]bufferedCandidates
	now     func() time.Time
}

func newUnknownCallBuffer() *unknownCallBuffer {
	return &unknownCallBuffer{
		entries: make(map[string][]bufferedCandidates),
		now:     time.Now,
	}
}

// Add buffers one candidate message under its contact identity. Expired
// entries for that identity are swept first; the per-identity cap drops
// the oldest message.
func (b *unknownCallBuffer) Add(message *signaling.IceCandidates) {
	if message.ContactIdentity == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.sweepLocked(message.ContactIdentity)
	entries = append(entries, bufferedCandidates{
		message:    message,
		receivedAt: b.now(),
	})
	if len(entries) > maxUnknownMessagesPerIdentity {
		logrus.WithFields(logrus.Fields{
			"function": "Add",
			"identity": message.ContactIdentity,
			"call_id":  message.CallID,
		}).Warn("Unknown-call candidate buffer full, dropping oldest message")
		entries = entries[len(entries)-maxUnknownMessagesPerIdentity:]
	}
	b.entries[message.ContactIdentity] = entries
}

// Take removes and returns, in receipt order, the buffered messages for an
// identity that carry the given call ID. All other buffered messages for
// that identity are discarded: the call they belonged to is gone.
func (b *unknownCallBuffer) Take(identity string, callID signaling.CallID) []*signaling.IceCandidates {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.sweepLocked(identity)
	delete(b.entries, identity)

	var matching []*signaling.IceCandidates
	for _, entry := range entries {
		if entry.message.CallID == callID {
			matching = append(matching, entry.message)
		}
	}
	return matching
}

// Clear drops everything. Called on return to idle.
func (b *unknownCallBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string][]bufferedCandidates)
}

// sweepLocked drops expired entries for one identity and returns the rest.
func (b *unknownCallBuffer) sweepLocked(identity string) []bufferedCandidates {
	entries := b.entries[identity]
	if len(entries) == 0 {
		return nil
	}
	cutoff := b.now().Add(-unknownCandidateTTL)
	kept := entries[:0]
	for _, entry := range entries {
		if entry.receivedAt.After(cutoff) {
			kept = append(kept, entry)
		}
	}
	if len(kept) == 0 {
		delete(b.entries, identity)
		return nil
	}
	b.entries[identity] = kept
	return kept
}
