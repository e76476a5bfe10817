package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
)

type fakeTrack struct {
	id      string
	kind    domain.MediaKind
	mu      sync.Mutex
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeStream struct {
	id     string
	tracks []port.LocalTrack
}

func (s *fakeStream) ID() string                { return s.id }
func (s *fakeStream) Tracks() []port.LocalTrack { return s.tracks }

// fakeSource hands out fake tracks, or fails when err is set.
type fakeSource struct {
	mu     sync.Mutex
	err    error
	opened []*fakeStream
}

func (s *fakeSource) Open(ctx context.Context, c port.MediaConstraints) (port.LocalStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	st := &fakeStream{id: fmt.Sprintf("stream-%d", len(s.opened)+1)}
	if c.Audio {
		st.tracks = append(st.tracks, &fakeTrack{id: st.id + "-audio", kind: domain.KindAudio, enabled: true})
	}
	if c.Video {
		st.tracks = append(st.tracks, &fakeTrack{id: st.id + "-video", kind: domain.KindVideo, enabled: true})
	}
	s.opened = append(s.opened, st)
	return st, nil
}

func (s *fakeSource) last() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.opened) == 0 {
		return nil
	}
	return s.opened[len(s.opened)-1]
}

func (s *fakeSource) allStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.opened {
		for _, t := range st.tracks {
			if !t.(*fakeTrack).Stopped() {
				return false
			}
		}
	}
	return true
}

// fakeTransport reports connected once both descriptions are in place,
// unless the factory says it should stall.
type fakeTransport struct {
	events port.TransportEvents
	stall  bool

	mu         sync.Mutex
	tracks     []port.LocalTrack
	local      *domain.SessionDescription
	remote     *domain.SessionDescription
	candidates []domain.ICECandidate
	connected  bool
	closed     bool
}

func (t *fakeTransport) AddLocalTrack(track port.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = append(t.tracks, track)
	return nil
}

func (t *fakeTransport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	d := domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("v=0 offer tracks=%d", t.trackCount())}
	t.setLocal(d)
	return d, nil
}

func (t *fakeTransport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	t.mu.Lock()
	hasRemote := t.remote != nil
	t.mu.Unlock()
	if !hasRemote {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	d := domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("v=0 answer tracks=%d", t.trackCount())}
	t.setLocal(d)
	return d, nil
}

func (t *fakeTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	if desc.SDP == "" {
		return errors.New("empty sdp")
	}
	t.mu.Lock()
	t.remote = &desc
	t.mu.Unlock()
	t.maybeConnect()
	return nil
}

func (t *fakeTransport) AddICECandidate(c domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remote == nil {
		return errors.New("candidate before remote description")
	}
	t.candidates = append(t.candidates, c)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) trackCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

func (t *fakeTransport) setLocal(d domain.SessionDescription) {
	t.mu.Lock()
	t.local = &d
	t.mu.Unlock()
	t.events.OnLocalCandidate(domain.ICECandidate{Candidate: "candidate:" + string(d.Type)})
	t.maybeConnect()
}

func (t *fakeTransport) maybeConnect() {
	t.mu.Lock()
	ready := !t.stall && !t.connected && t.local != nil && t.remote != nil
	if ready {
		t.connected = true
	}
	t.mu.Unlock()
	if !ready {
		return
	}
	t.events.OnStateChange(port.TransportConnected)
	t.events.OnRemoteTrack(domain.TrackInfo{ID: "remote-audio", StreamID: "remote", Kind: domain.KindAudio})
}

func (t *fakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) Candidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.candidates...)
}

// fail simulates the network dropping.
func (t *fakeTransport) fail() {
	t.events.OnStateChange(port.TransportFailed)
}

type fakeFactory struct {
	stall bool

	mu    sync.Mutex
	built []*fakeTransport
}

func (f *fakeFactory) NewTransport(events port.TransportEvents) (port.PeerTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{events: events, stall: f.stall}
	f.built = append(f.built, t)
	return t, nil
}

func (f *fakeFactory) last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil
	}
	return f.built[len(f.built)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.built)
}

// failingRelay wraps a relay and fails every Send after failAfter successes.
type failingRelay struct {
	port.Relay
	failAfter int32
	sent      atomic.Int32
}

var errRelayDown = errors.New("relay unavailable")

func (r *failingRelay) Send(ctx context.Context, msg domain.SignalMessage) error {
	if r.sent.Add(1) > r.failAfter {
		return errRelayDown
	}
	return r.Relay.Send(ctx, msg)
}

type fakeDirectory struct {
	users map[domain.UserID]domain.User
	err   error
}

func (d fakeDirectory) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	if d.err != nil {
		return domain.User{}, d.err
	}
	u, ok := d.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}
