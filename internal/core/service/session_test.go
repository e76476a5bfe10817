package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/ya-call/internal/adapter/driven/signal/memory"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// invite plays the caller's side by hand: it creates the session record for
// callee and sends the call-request.
func invite(t *testing.T, relay *memory.Relay, caller, callee domain.UserID) domain.SessionID {
	t.Helper()
	ctx := context.Background()
	s, err := domain.NewCallSession(caller, callee, false, time.Now())
	require.NoError(t, err)
	require.NoError(t, relay.CreateSession(ctx, *s))
	send(t, relay, s.ID, domain.SignalCallRequest, caller, callee, domain.CallRequestPayload{
		SDP: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 remote offer"},
	})
	return s.ID
}

func send(t *testing.T, relay *memory.Relay, id domain.SessionID, kind domain.SignalKind, from, to domain.UserID, payload any) {
	t.Helper()
	msg, err := domain.NewSignal(id, kind, from, to, payload)
	require.NoError(t, err)
	require.NoError(t, relay.Send(context.Background(), msg))
}

// settle gives the relay mailboxes and machine queue time to drain.
func settle() {
	time.Sleep(50 * time.Millisecond)
}

func TestEarlyCandidatesAreBuffered(t *testing.T) {
	relay := memory.NewRelay()
	bob := newPeer(t, "bob", relay).start(t)

	id := invite(t, relay, "alice", "bob")
	bob.waitPhase(t, domain.PhaseRinging)

	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		send(t, relay, id, domain.SignalCandidate, "alice", "bob", domain.CandidatePayload{Candidate: domain.ICECandidate{Candidate: c}})
	}
	settle()

	require.NoError(t, bob.svc.AcceptCall(context.Background()))
	tr := bob.transports.last()
	require.NotNil(t, tr)
	assert.Eventually(t, func() bool {
		return hasCandidate(tr, "candidate:1") && hasCandidate(tr, "candidate:2") && hasCandidate(tr, "candidate:3")
	}, waitFor, 10*time.Millisecond)
	bob.waitPhase(t, domain.PhaseConnected)
}

func TestSelfEchoIsIgnored(t *testing.T) {
	relay := memory.NewRelay()
	bob := newPeer(t, "bob", relay).start(t)

	id := invite(t, relay, "alice", "bob")
	bob.waitPhase(t, domain.PhaseRinging)

	// our own messages come back through the relay
	send(t, relay, id, domain.SignalCallEnded, "bob", "alice", domain.ReasonPayload{Reason: domain.ReasonHangup})
	send(t, relay, id, domain.SignalCallRequest, "bob", "alice", domain.CallRequestPayload{
		SDP: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 echo"},
	})
	settle()
	assert.Equal(t, domain.PhaseRinging, bob.svc.State().Phase)
	assert.Empty(t, bob.rec.ended)

	send(t, relay, id, domain.SignalCallEnded, "alice", "bob", nil)
	assert.Equal(t, domain.ReasonMissed, bob.waitEnded(t).Reason)
}

func TestTeardownRunsOnce(t *testing.T) {
	relay := memory.NewRelay()
	alice := newPeer(t, "alice", relay).start(t)
	bob := newPeer(t, "bob", relay).start(t)
	ctx := context.Background()

	id := connect(t, alice, bob, false)

	require.NoError(t, alice.svc.EndCall(ctx))
	require.NoError(t, alice.svc.EndCall(ctx))
	// a late call-ended for the finished session
	send(t, relay, id, domain.SignalCallEnded, "bob", "alice", domain.ReasonPayload{Reason: domain.ReasonHangup})

	alice.waitEnded(t)
	bob.waitEnded(t)
	settle()
	assert.Empty(t, alice.rec.ended)
	assert.Empty(t, bob.rec.ended)
	assert.Equal(t, domain.PhaseIdle, alice.svc.State().Phase)
}

func TestSimultaneousHangup(t *testing.T) {
	relay := memory.NewRelay()
	alice := newPeer(t, "alice", relay).start(t)
	bob := newPeer(t, "bob", relay).start(t)
	ctx := context.Background()

	connect(t, alice, bob, false)

	var wg sync.WaitGroup
	for _, p := range []*peer{alice, bob} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.svc.EndCall(ctx))
		}()
	}
	wg.Wait()

	for _, p := range []*peer{alice, bob} {
		ended := p.waitEnded(t)
		assert.Contains(t, []domain.EndReason{domain.ReasonHangup, domain.ReasonRemoteHangup}, ended.Reason)
	}
	settle()
	for _, p := range []*peer{alice, bob} {
		assert.Empty(t, p.rec.ended)
		assert.Equal(t, domain.PhaseIdle, p.svc.State().Phase)
		assert.True(t, p.source.allStopped())
	}
}

func TestInviteDroppedWhenCallerGivesUpBeforeRequest(t *testing.T) {
	relay := memory.NewRelay()
	bob := newPeer(t, "bob", relay).start(t)
	ctx := context.Background()

	s, err := domain.NewCallSession("alice", "bob", false, time.Now())
	require.NoError(t, err)
	require.NoError(t, relay.CreateSession(ctx, *s))
	send(t, relay, s.ID, domain.SignalCallEnded, "alice", "bob", nil)
	settle()

	assert.Equal(t, domain.PhaseIdle, bob.svc.State().Phase)
	assert.Empty(t, bob.rec.incoming)
	assert.Empty(t, bob.rec.ended)

	// bob is free for the next call
	invite(t, relay, "carol", "bob")
	assert.Equal(t, domain.UserID("carol"), bob.waitIncoming(t).From)
}

func TestStaleInviteIgnored(t *testing.T) {
	relay := memory.NewRelay()
	bob := newPeer(t, "bob", relay, withRingTimeout(time.Second)).start(t)
	ctx := context.Background()

	s, err := domain.NewCallSession("alice", "bob", false, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.NoError(t, relay.CreateSession(ctx, *s))
	send(t, relay, s.ID, domain.SignalCallRequest, "alice", "bob", domain.CallRequestPayload{
		SDP: domain.SessionDescription{Type: domain.SDPOffer, SDP: "v=0 old"},
	})
	settle()

	assert.Empty(t, bob.rec.incoming)
	assert.Equal(t, domain.PhaseIdle, bob.svc.State().Phase)
}

func TestAttemptLoggerCarriesCallFields(t *testing.T) {
	s, err := domain.NewCallSession("alice", "bob", true, time.Now())
	require.NoError(t, err)
	m := &Machine{}
	a := m.newAttempt(*s, domain.DirectionOutgoing, "bob", true)
	a.log().Debug().Msg("Attempt created")

	var buf bytes.Buffer
	l := a.log().Output(&buf)
	l.Info().Msg("Placing call")

	out := buf.String()
	assert.Contains(t, out, `"session_id":"`+s.ID.String()+`"`)
	assert.Contains(t, out, `"remote_id":"bob"`)
	assert.Contains(t, out, `"direction":"outgoing"`)
}
