package call

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/voipcore/signaling"
)

func candidatesMessage(identity string, callID signaling.CallID, candidates ...string) *signaling.IceCandidates {
	return &signaling.IceCandidates{
		CallID:          callID,
		ContactIdentity: identity,
		Candidates:      candidates,
	}
}

func TestUnknownCallBufferTakeMatchesCallID(t *testing.T) {
	buffer := newUnknownCallBuffer()

	buffer.Add(candidatesMessage("ALICE", 1, "a1"))
	buffer.Add(candidatesMessage("ALICE", 2, "b1"))
	buffer.Add(candidatesMessage("ALICE", 1, "a2"))
	buffer.Add(candidatesMessage("BOB", 1, "c1"))

	taken := buffer.Take("ALICE", 1)
	require.Len(t, taken, 2)
	assert.Equal(t, []string{"a1"}, taken[0].Candidates)
	assert.Equal(t, []string{"a2"}, taken[1].Candidates)

	// Take clears everything buffered for the identity, including the
	// non-matching call.
	assert.Empty(t, buffer.Take("ALICE", 2))

	// Other identities are untouched.
	require.Len(t, buffer.Take("BOB", 1), 1)
}

func TestUnknownCallBufferExpiresOldEntries(t *testing.T) {
	buffer := newUnknownCallBuffer()
	now := time.Now()
	buffer.now = func() time.Time { return now }

	buffer.Add(candidatesMessage("ALICE", 1, "old"))

	now = now.Add(unknownCandidateTTL + time.Second)
	buffer.Add(candidatesMessage("ALICE", 1, "fresh"))

	taken := buffer.Take("ALICE", 1)
	require.Len(t, taken, 1)
	assert.Equal(t, []string{"fresh"}, taken[0].Candidates)
}

func TestUnknownCallBufferCapsPerIdentity(t *testing.T) {
	buffer := newUnknownCallBuffer()

	for i := 0; i < maxUnknownMessagesPerIdentity+4; i++ {
		buffer.Add(candidatesMessage("ALICE", 1, fmt.Sprintf("c%d", i)))
	}

	taken := buffer.Take("ALICE", 1)
	require.Len(t, taken, maxUnknownMessagesPerIdentity)

	// The oldest messages were dropped; the newest survive in order.
	assert.Equal(t, []string{"c4"}, taken[0].Candidates)
	assert.Equal(t,
		[]string{fmt.Sprintf("c%d", maxUnknownMessagesPerIdentity+3)},
		taken[len(taken)-1].Candidates)
}

func TestUnknownCallBufferIgnoresAnonymousMessages(t *testing.T) {
	buffer := newUnknownCallBuffer()
	buffer.Add(candidatesMessage("", 1, "x"))
	assert.Empty(t, buffer.Take("", 1))
}

func TestUnknownCallBufferClear(t *testing.T) {
	buffer := newUnknownCallBuffer()
	buffer.Add(candidatesMessage("ALICE", 1, "a"))
	buffer.Clear()
	assert.Empty(t, buffer.Take("ALICE", 1))
}
