package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	id     string
	fail   bool
	events chan Event

	mu     sync.Mutex
	closed bool
}

func newFakeClient(id string) *fakeClient {
	return &fakeClient{id: id, events: make(chan Event, 8)}
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) SendEvent(ev Event) error {
	if c.fail {
		return errors.New("broken pipe")
	}
	c.events <- ev
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestHubBroadcasts(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a, b := newFakeClient("a"), newFakeClient("b")
	hub.Register(a)
	hub.Register(b)

	hub.Publish(StateEvent(domain.CallState{Phase: domain.PhaseRinging}))

	for _, c := range []*fakeClient{a, b} {
		select {
		case ev := <-c.events:
			assert.Equal(t, EventState, ev.Type)
			st, ok := ev.Data.(domain.CallState)
			require.True(t, ok)
			assert.Equal(t, domain.PhaseRinging, st.Phase)
		case <-time.After(time.Second):
			t.Fatalf("client %s got nothing", c.id)
		}
	}
}

func TestHubDropsFailingClient(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	bad := newFakeClient("bad")
	bad.fail = true
	hub.Register(bad)
	hub.Publish(IncomingEvent(domain.IncomingCall{SessionID: "s1", From: "alice"}))

	assert.Eventually(t, bad.isClosed, time.Second, 10*time.Millisecond)
}

func TestHubKeepsEndedEventWhenBufferFull(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	// unbuffered, so Run stalls on the first event until we read
	slow := &fakeClient{id: "slow", events: make(chan Event)}
	hub.Register(slow)

	for i := 0; i < 2*cap(hub.broadcast); i++ {
		hub.Publish(StateEvent(domain.CallState{Phase: domain.PhaseConnected}))
	}

	published := make(chan struct{})
	go func() {
		hub.Publish(EndedEvent(domain.CallEnded{SessionID: "s1", Reason: domain.ReasonHangup}))
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("ended event should wait for room in a full buffer")
	case <-time.After(50 * time.Millisecond):
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-slow.events:
			if ev.Type != EventEnded {
				continue
			}
			dto, ok := ev.Data.(endedDTO)
			require.True(t, ok)
			assert.Equal(t, domain.SessionID("s1"), dto.SessionID)
			<-published
			return
		case <-deadline:
			t.Fatal("ended event never reached the client")
		}
	}
}

func TestHubStopClosesClients(t *testing.T) {
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	c := newFakeClient("c")
	hub.Register(c)
	hub.Stop()
	<-done
	assert.True(t, c.isClosed())

	// no-ops once stopped
	hub.Register(newFakeClient("late"))
	hub.Publish(StateEvent(domain.IdleState()))
}

func TestEndedEventCarriesError(t *testing.T) {
	ev := EndedEvent(domain.CallEnded{
		SessionID: "s1",
		Reason:    domain.ReasonBusy,
		Err:       domain.ErrUserBusy,
		Duration:  1500 * time.Millisecond,
	})
	assert.Equal(t, EventEnded, ev.Type)
	dto, ok := ev.Data.(endedDTO)
	require.True(t, ok)
	assert.Equal(t, "user busy", dto.Error)
	assert.EqualValues(t, 1500, dto.DurationMS)
}
