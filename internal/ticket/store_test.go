package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueThenConsumeSucceedsOnce(t *testing.T) {
	s := New(time.Minute)

	id, expiresAt, err := s.Issue("kubeconfig-bytes", Target{Namespace: "default", Pod: "p"}, IssuerMeta{})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.True(t, expiresAt.After(time.Now()))

	kc, target, err := s.Consume(id, IssuerMeta{})
	require.NoError(t, err)
	require.Equal(t, "kubeconfig-bytes", kc)
	require.Equal(t, "default", target.Namespace)
	require.Equal(t, "p", target.Pod)

	_, _, err = s.Consume(id, IssuerMeta{})
	require.ErrorIs(t, err, ErrUsed)
}

func TestConsumeUnknownTicketIsInvalid(t *testing.T) {
	s := New(time.Minute)
	_, _, err := s.Consume("does-not-exist", IssuerMeta{})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestConsumeExpiredTicket(t *testing.T) {
	s := New(100 * time.Millisecond)
	id, _, err := s.Issue("kc", Target{Namespace: "ns", Pod: "p"}, IssuerMeta{})
	require.NoError(t, err)

	fake := time.Now().Add(200 * time.Millisecond)
	s.now = func() time.Time { return fake }

	_, _, err = s.Consume(id, IssuerMeta{})
	require.ErrorIs(t, err, ErrExpired)
}

func TestSweepRemovesExpiredRecordsOnIssue(t *testing.T) {
	s := New(10 * time.Millisecond)
	_, _, err := s.Issue("kc1", Target{Namespace: "ns", Pod: "p1"}, IssuerMeta{})
	require.NoError(t, err)
	require.Equal(t, 1, s.Count())

	fake := time.Now().Add(time.Second)
	s.now = func() time.Time { return fake }

	_, _, err = s.Issue("kc2", Target{Namespace: "ns", Pod: "p2"}, IssuerMeta{})
	require.NoError(t, err)

	// sweepLocked inside Issue/Count should have dropped the expired kc1
	// record, leaving only the freshly issued one.
	require.Equal(t, 1, s.Count())
}

func TestStatsTracksCumulativeCounts(t *testing.T) {
	s := New(time.Minute)

	id, _, err := s.Issue("kc", Target{Namespace: "ns", Pod: "p"}, IssuerMeta{})
	require.NoError(t, err)
	_, _, err = s.Consume(id, IssuerMeta{})
	require.NoError(t, err)
	_, _, err = s.Consume(id, IssuerMeta{})
	require.ErrorIs(t, err, ErrUsed)

	issued, consumed, expired, rejected := s.Stats()
	require.Equal(t, int64(1), issued)
	require.Equal(t, int64(1), consumed)
	require.Equal(t, int64(0), expired)
	require.Equal(t, int64(1), rejected)
}

func TestTicketIDsAreUnique(t *testing.T) {
	s := New(time.Minute)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, _, err := s.Issue("kc", Target{Namespace: "ns", Pod: "p"}, IssuerMeta{})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate ticket id generated")
		seen[id] = true
	}
}
