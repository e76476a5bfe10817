package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRingTimeout    = 45 * time.Second
	DefaultConnectTimeout = 30 * time.Second
	defaultIOTimeout      = 10 * time.Second
)

// machineListener receives notifications on the machine goroutine. It must not block.
type machineListener interface {
	stateChanged(domain.CallState)
	incomingCall(domain.IncomingCall)
	callEnded(domain.CallEnded)
}

type MachineConfig struct {
	Self           domain.UserID
	Signals        port.SignalChannel
	Sessions       port.SessionStore
	Transports     port.TransportFactory
	Media          *MediaManager
	RingTimeout    time.Duration
	ConnectTimeout time.Duration
	// ResolveName returns a display name for the remote peer and never fails.
	ResolveName func(ctx context.Context, id domain.UserID) string
}

// attempt is everything owned by one call attempt. A fresh one, with a fresh
// transport, is built per call and dropped on teardown.
type attempt struct {
	gen        uint64
	session    domain.CallSession
	direction  domain.Direction
	remote     domain.UserID
	remoteName string
	isVideo    bool

	transport     port.PeerTransport
	sub           port.Subscription
	candidates    candidateBuffer
	remoteOffer   *domain.SessionDescription
	remoteDescSet bool
	seen          map[domain.MessageID]struct{}

	timer       *time.Timer
	connectedAt time.Time
	finished    bool
}

func (a *attempt) log() *zerolog.Logger {
	l := log.With().
		Str("session_id", a.session.ID.String()).
		Str("remote_id", a.remote.String()).
		Str("direction", string(a.direction)).
		Logger()
	return &l
}

// Machine drives one call at a time through the phases in domain.Phase.
// Commands, relay deliveries, transport callbacks and timers are all
// serialized on one goroutine.
type Machine struct {
	cfg      MachineConfig
	listener machineListener
	queue    *taskQueue

	// owned by the machine goroutine
	phase   domain.Phase
	cur     *attempt
	nextGen uint64
	watch   port.Subscription
}

func NewMachine(cfg MachineConfig, listener machineListener) *Machine {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ResolveName == nil {
		cfg.ResolveName = func(context.Context, domain.UserID) string { return unknownName }
	}
	return &Machine{
		cfg:      cfg,
		listener: listener,
		queue:    newTaskQueue(),
		phase:    domain.PhaseIdle,
	}
}

// Start runs the machine goroutine and begins watching for sessions addressed
// to the local user.
func (m *Machine) Start(ctx context.Context) error {
	go m.queue.run()

	watch, err := m.cfg.Sessions.WatchIncoming(ctx, m.cfg.Self, func(s domain.CallSession) {
		m.queue.push(func() { m.handleInvite(s) })
	})
	if err != nil {
		m.queue.close()
		return fmt.Errorf("watch incoming calls: %w", err)
	}
	return m.do(ctx, func() { m.watch = watch })
}

// Close ends any active call and stops the machine.
func (m *Machine) Close(ctx context.Context) error {
	err := m.do(ctx, func() {
		if m.watch != nil {
			m.watch.Unsubscribe()
			m.watch = nil
		}
		if m.cur != nil {
			m.hangup(ctx, domain.ReasonShutdown)
		}
	})
	m.queue.close()
	if errors.Is(err, domain.ErrClosed) {
		return nil
	}
	return err
}

// do runs fn on the machine goroutine and waits for it.
func (m *Machine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !m.queue.push(func() { fn(); close(done) }) {
		return domain.ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Machine) State(ctx context.Context) (domain.CallState, error) {
	var st domain.CallState
	err := m.do(ctx, func() { st = m.snapshot() })
	return st, err
}

// Initiate places a call to remote. It returns once the call-request is on the relay.
func (m *Machine) Initiate(ctx context.Context, remote domain.UserID, isVideo bool) (domain.SessionID, error) {
	var (
		id  domain.SessionID
		err error
	)
	if derr := m.do(ctx, func() { id, err = m.initiate(ctx, remote, isVideo) }); derr != nil {
		return "", derr
	}
	return id, err
}

func (m *Machine) Accept(ctx context.Context) error {
	var err error
	if derr := m.do(ctx, func() { err = m.accept(ctx) }); derr != nil {
		return derr
	}
	return err
}

// Reject declines a ringing call. From any other active phase it hangs up.
func (m *Machine) Reject(ctx context.Context) error {
	return m.do(ctx, func() {
		if m.cur == nil || !m.phase.Active() {
			return
		}
		if m.phase != domain.PhaseRinging {
			m.hangup(ctx, domain.ReasonHangup)
			return
		}
		a := m.cur
		if err := m.send(ctx, a, domain.SignalCallRejected, domain.ReasonPayload{Reason: domain.ReasonDeclined}); err != nil {
			a.log().Warn().Err(err).Msg("Failed to send call-rejected")
		}
		m.finish(a, domain.ReasonDeclined, true)
	})
}

// End hangs up. Calling it with no active call is a no-op.
func (m *Machine) End(ctx context.Context) error {
	return m.do(ctx, func() {
		if m.cur == nil || !m.phase.Active() {
			return
		}
		m.hangup(ctx, domain.ReasonHangup)
	})
}

func (m *Machine) ToggleMute(ctx context.Context) (bool, error) {
	return m.toggle(ctx, m.cfg.Media.ToggleMute)
}

func (m *Machine) ToggleVideo(ctx context.Context) (bool, error) {
	return m.toggle(ctx, m.cfg.Media.ToggleVideo)
}

func (m *Machine) toggle(ctx context.Context, flip func() bool) (bool, error) {
	var res bool
	err := m.do(ctx, func() {
		res = flip()
		if m.cur != nil {
			m.emitState()
		}
	})
	return res, err
}

func (m *Machine) initiate(ctx context.Context, remote domain.UserID, isVideo bool) (domain.SessionID, error) {
	if m.phase != domain.PhaseIdle {
		return "", domain.ErrAlreadyInCall
	}
	if m.cur != nil {
		// an invite that never rang; the caller learns we are busy
		m.refuseBusy(ctx, m.cur.session)
		m.dropInvite(m.cur)
	}

	session, err := domain.NewCallSession(m.cfg.Self, remote, isVideo, time.Now())
	if err != nil {
		return "", err
	}
	a := m.newAttempt(*session, domain.DirectionOutgoing, remote, isVideo)
	l := a.log()
	l.Info().Bool("video", isVideo).Msg("Placing call")

	if err := m.cfg.Media.Acquire(ctx, isVideo); err != nil {
		l.Warn().Err(err).Msg("Media acquisition failed")
		return "", err
	}

	abort := func(err error) (domain.SessionID, error) {
		m.releaseAttempt(a)
		return "", err
	}

	if err := m.openTransport(a); err != nil {
		return abort(err)
	}
	offer, err := a.transport.CreateOffer(ctx)
	if err != nil {
		return abort(fmt.Errorf("%w: create offer: %w", domain.ErrTransportFailed, err))
	}

	if err := m.subscribe(ctx, a); err != nil {
		return abort(err)
	}
	if err := m.cfg.Sessions.CreateSession(ctx, a.session); err != nil {
		return abort(fmt.Errorf("%w: create session: %w", domain.ErrSignalDeliveryFailed, err))
	}
	m.cur = a
	if err := m.send(ctx, a, domain.SignalCallRequest, domain.CallRequestPayload{SDP: offer, IsVideo: isVideo}); err != nil {
		m.cur = nil
		m.deleteSession(a)
		return abort(err)
	}

	a.remoteName = m.cfg.ResolveName(ctx, remote)
	m.setPhase(domain.PhasePlacing)
	m.armTimer(a, m.cfg.RingTimeout, domain.PhasePlacing)
	return a.session.ID, nil
}

func (m *Machine) accept(ctx context.Context) error {
	switch {
	case m.phase == domain.PhaseRinging && m.cur != nil:
	case m.phase.Active():
		return domain.ErrAlreadyInCall
	default:
		return domain.ErrNotInCall
	}

	a := m.cur
	l := a.log()
	a.stopTimer()

	if err := m.cfg.Media.Acquire(ctx, a.isVideo); err != nil {
		l.Warn().Err(err).Msg("Media acquisition failed, declining call")
		if serr := m.send(ctx, a, domain.SignalCallRejected, domain.ReasonPayload{Reason: domain.ReasonDeclined}); serr != nil {
			l.Warn().Err(serr).Msg("Failed to send call-rejected")
		}
		m.finish(a, domain.ReasonMediaDenied, true)
		return err
	}

	fail := func(reason domain.EndReason, err error) error {
		l.Error().Err(err).Msg("Accept failed")
		if serr := m.send(ctx, a, domain.SignalCallEnded, domain.ReasonPayload{Reason: reason}); serr != nil {
			l.Warn().Err(serr).Msg("Failed to send call-ended")
		}
		m.finish(a, reason, true)
		return err
	}

	if err := m.openTransport(a); err != nil {
		return fail(domain.ReasonTransportFailed, err)
	}
	if err := a.transport.SetRemoteDescription(*a.remoteOffer); err != nil {
		return fail(domain.ReasonTransportFailed, fmt.Errorf("%w: apply offer: %w", domain.ErrTransportFailed, err))
	}
	m.remoteDescriptionApplied(a)

	answer, err := a.transport.CreateAnswer(ctx)
	if err != nil {
		return fail(domain.ReasonTransportFailed, fmt.Errorf("%w: create answer: %w", domain.ErrTransportFailed, err))
	}
	if err := m.send(ctx, a, domain.SignalCallAccepted, domain.DescriptionPayload{SDP: answer}); err != nil {
		m.finish(a, domain.ReasonSignalFailed, true)
		return err
	}
	if err := m.cfg.Sessions.UpdateStatus(ctx, a.session.ID, domain.StatusActive); err != nil {
		l.Warn().Err(err).Msg("Failed to mark session active")
	}

	l.Info().Msg("Call accepted")
	m.setPhase(domain.PhaseNegotiating)
	m.armTimer(a, m.cfg.ConnectTimeout, domain.PhaseNegotiating)
	return nil
}

func (m *Machine) newAttempt(s domain.CallSession, dir domain.Direction, remote domain.UserID, isVideo bool) *attempt {
	m.nextGen++
	return &attempt{
		gen:       m.nextGen,
		session:   s,
		direction: dir,
		remote:    remote,
		isVideo:   isVideo,
		seen:      make(map[domain.MessageID]struct{}),
	}
}

func (m *Machine) openTransport(a *attempt) error {
	gen := a.gen
	t, err := m.cfg.Transports.NewTransport(port.TransportEvents{
		OnLocalCandidate: func(c domain.ICECandidate) {
			m.queue.push(func() { m.handleLocalCandidate(gen, c) })
		},
		OnRemoteTrack: func(info domain.TrackInfo) {
			m.queue.push(func() { m.handleRemoteTrack(gen, info) })
		},
		OnStateChange: func(s port.TransportState) {
			m.queue.push(func() { m.handleTransportState(gen, s) })
		},
	})
	if err != nil {
		return fmt.Errorf("%w: new transport: %w", domain.ErrTransportFailed, err)
	}
	a.transport = t
	if err := m.cfg.Media.AttachTo(t); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransportFailed, err)
	}
	return nil
}

func (m *Machine) subscribe(ctx context.Context, a *attempt) error {
	gen := a.gen
	sub, err := m.cfg.Signals.Subscribe(ctx, a.session.ID, func(msg domain.SignalMessage) {
		m.queue.push(func() { m.handleSignal(gen, msg) })
	})
	if err != nil {
		return fmt.Errorf("%w: subscribe: %w", domain.ErrSignalDeliveryFailed, err)
	}
	a.sub = sub
	return nil
}

func (m *Machine) send(ctx context.Context, a *attempt, kind domain.SignalKind, payload any) error {
	msg, err := domain.NewSignal(a.session.ID, kind, m.cfg.Self, a.remote, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, defaultIOTimeout)
	defer cancel()
	if err := m.cfg.Signals.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrSignalDeliveryFailed, kind, err)
	}
	return nil
}

// handleInvite reacts to a session record created for us.
func (m *Machine) handleInvite(s domain.CallSession) {
	if s.ParticipantB != m.cfg.Self || s.Status != domain.StatusPending {
		return
	}
	if !s.CreatedAt.IsZero() && time.Since(s.CreatedAt) > m.cfg.RingTimeout {
		return
	}
	if m.cur != nil && m.cur.session.ID == s.ID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
	defer cancel()

	if m.cur != nil || m.phase != domain.PhaseIdle {
		m.refuseBusy(ctx, s)
		return
	}

	a := m.newAttempt(s, domain.DirectionIncoming, s.Peer(m.cfg.Self), s.Media.IsVideo())
	if err := m.subscribe(ctx, a); err != nil {
		a.log().Error().Err(err).Msg("Failed to subscribe to incoming session")
		return
	}
	m.cur = a
	m.armTimer(a, m.cfg.RingTimeout, domain.PhaseIdle)
	a.log().Debug().Msg("Watching incoming session")
}

// refuseBusy tells the caller of s that we are in another call.
func (m *Machine) refuseBusy(ctx context.Context, s domain.CallSession) {
	msg, err := domain.NewSignal(s.ID, domain.SignalCallRejected, m.cfg.Self, s.ParticipantA, domain.ReasonPayload{Reason: domain.ReasonBusy})
	if err == nil {
		err = m.cfg.Signals.Send(ctx, msg)
	}
	l := log.With().Str("session_id", s.ID.String()).Str("remote_id", s.ParticipantA.String()).Logger()
	if err != nil {
		l.Warn().Err(err).Msg("Failed to send busy rejection")
		return
	}
	l.Info().Msg("Rejected incoming call: busy")
}

func (m *Machine) dropInvite(a *attempt) {
	a.stopTimer()
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	a.finished = true
	if m.cur == a {
		m.cur = nil
	}
}

func (m *Machine) handleSignal(gen uint64, msg domain.SignalMessage) {
	a := m.cur
	if a == nil || a.gen != gen || a.finished {
		return
	}
	if msg.SenderID == m.cfg.Self {
		return
	}
	if msg.ID != "" {
		if _, dup := a.seen[msg.ID]; dup {
			return
		}
		a.seen[msg.ID] = struct{}{}
	}

	l := a.log().With().Str("kind", string(msg.Kind)).Str("phase", m.phase.String()).Logger()
	l.Debug().Msg("Signal received")

	ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
	defer cancel()

	switch msg.Kind {
	case domain.SignalCallRequest:
		m.onCallRequest(ctx, a, msg)

	case domain.SignalCallAccepted, domain.SignalAnswer:
		m.onAnswer(ctx, a, msg)

	case domain.SignalOffer:
		m.onRenegotiation(ctx, a, msg)

	case domain.SignalCandidate:
		var p domain.CandidatePayload
		if err := msg.Decode(&p); err != nil {
			l.Warn().Err(err).Msg("Dropping malformed candidate")
			return
		}
		if err := a.candidates.add(p.Candidate, m.applyCandidate(a)); err != nil {
			l.Warn().Err(err).Msg("Failed to add remote candidate")
		}

	case domain.SignalCallRejected:
		var p domain.ReasonPayload
		_ = msg.Decode(&p)
		reason := domain.ReasonDeclined
		if p.Reason == domain.ReasonBusy {
			reason = domain.ReasonBusy
		}
		switch m.phase {
		case domain.PhaseIdle:
			m.dropInvite(a)
		case domain.PhasePlacing:
			m.finish(a, reason, true)
		default:
			m.finish(a, domain.ReasonRemoteHangup, true)
		}

	case domain.SignalCallEnded:
		if m.phase == domain.PhaseIdle {
			m.dropInvite(a)
			return
		}
		reason := domain.ReasonRemoteHangup
		if m.phase == domain.PhaseRinging {
			reason = domain.ReasonMissed
		}
		m.finish(a, reason, true)

	default:
		l.Warn().Msg("Unknown signal kind")
	}
}

func (m *Machine) onCallRequest(ctx context.Context, a *attempt, msg domain.SignalMessage) {
	if m.phase != domain.PhaseIdle || a.direction != domain.DirectionIncoming || a.remoteOffer != nil {
		return
	}
	var p domain.CallRequestPayload
	if err := msg.Decode(&p); err != nil || p.SDP.SDP == "" {
		a.log().Warn().Err(err).Msg("Dropping call-request without offer")
		return
	}
	offer := p.SDP
	offer.Type = domain.SDPOffer
	a.remoteOffer = &offer
	a.isVideo = p.IsVideo
	a.remoteName = m.cfg.ResolveName(ctx, a.remote)

	a.log().Info().Bool("video", a.isVideo).Str("remote_name", a.remoteName).Msg("Incoming call")
	m.setPhase(domain.PhaseRinging)
	m.listener.incomingCall(domain.IncomingCall{
		SessionID:   a.session.ID,
		From:        a.remote,
		DisplayName: a.remoteName,
		IsVideo:     a.isVideo,
	})
	m.armTimer(a, m.cfg.RingTimeout, domain.PhaseRinging)
}

func (m *Machine) onAnswer(ctx context.Context, a *attempt, msg domain.SignalMessage) {
	if a.direction != domain.DirectionOutgoing || a.remoteDescSet {
		return
	}
	if m.phase != domain.PhasePlacing && m.phase != domain.PhaseNegotiating {
		return
	}
	var p domain.DescriptionPayload
	if err := msg.Decode(&p); err != nil {
		a.log().Warn().Err(err).Msg("Dropping malformed answer")
		return
	}
	if m.phase == domain.PhasePlacing {
		a.stopTimer()
		m.setPhase(domain.PhaseNegotiating)
		m.armTimer(a, m.cfg.ConnectTimeout, domain.PhaseNegotiating)
	}
	if p.SDP.SDP == "" {
		// accepted without an answer attached; the answer follows separately
		return
	}
	answer := p.SDP
	answer.Type = domain.SDPAnswer
	if err := a.transport.SetRemoteDescription(answer); err != nil {
		a.log().Error().Err(err).Msg("Failed to apply answer")
		m.hangup(ctx, domain.ReasonTransportFailed)
		return
	}
	m.remoteDescriptionApplied(a)
	if err := m.cfg.Sessions.UpdateStatus(ctx, a.session.ID, domain.StatusActive); err != nil {
		a.log().Warn().Err(err).Msg("Failed to mark session active")
	}
}

func (m *Machine) onRenegotiation(ctx context.Context, a *attempt, msg domain.SignalMessage) {
	if a.transport == nil || (m.phase != domain.PhaseNegotiating && m.phase != domain.PhaseConnected) {
		return
	}
	var p domain.DescriptionPayload
	if err := msg.Decode(&p); err != nil || p.SDP.SDP == "" {
		a.log().Warn().Err(err).Msg("Dropping malformed offer")
		return
	}
	offer := p.SDP
	offer.Type = domain.SDPOffer
	if err := a.transport.SetRemoteDescription(offer); err != nil {
		a.log().Error().Err(err).Msg("Failed to apply renegotiation offer")
		return
	}
	m.remoteDescriptionApplied(a)
	answer, err := a.transport.CreateAnswer(ctx)
	if err != nil {
		a.log().Error().Err(err).Msg("Failed to answer renegotiation")
		return
	}
	if err := m.send(ctx, a, domain.SignalAnswer, domain.DescriptionPayload{SDP: answer}); err != nil {
		a.log().Error().Err(err).Msg("Failed to send renegotiation answer")
	}
}

func (m *Machine) remoteDescriptionApplied(a *attempt) {
	a.remoteDescSet = true
	n, err := a.candidates.flush(m.applyCandidate(a))
	if n > 0 || err != nil {
		a.log().Debug().Int("applied", n).AnErr("error", err).Msg("Flushed buffered candidates")
	}
}

func (m *Machine) applyCandidate(a *attempt) func(domain.ICECandidate) error {
	return func(c domain.ICECandidate) error {
		if a.transport == nil {
			return errors.New("no transport")
		}
		return a.transport.AddICECandidate(c)
	}
}

func (m *Machine) handleLocalCandidate(gen uint64, c domain.ICECandidate) {
	a := m.cur
	if a == nil || a.gen != gen || a.finished {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
	defer cancel()
	if err := m.send(ctx, a, domain.SignalCandidate, domain.CandidatePayload{Candidate: c}); err != nil {
		a.log().Warn().Err(err).Msg("Failed to send local candidate")
	}
}

func (m *Machine) handleRemoteTrack(gen uint64, info domain.TrackInfo) {
	a := m.cur
	if a == nil || a.gen != gen || a.finished {
		return
	}
	if m.cfg.Media.AddRemoteTrack(info) {
		a.log().Info().Str("kind", string(info.Kind)).Str("track_id", info.ID).Msg("Remote track attached")
		m.emitState()
	}
}

func (m *Machine) handleTransportState(gen uint64, s port.TransportState) {
	a := m.cur
	if a == nil || a.gen != gen || a.finished {
		return
	}
	a.log().Debug().Str("transport_state", string(s)).Msg("Transport state changed")

	switch s {
	case port.TransportConnected:
		if m.phase == domain.PhaseNegotiating && a.remoteDescSet {
			a.stopTimer()
			a.connectedAt = time.Now()
			a.log().Info().Msg("Call connected")
			m.setPhase(domain.PhaseConnected)
		}
	case port.TransportFailed, port.TransportDisconnected, port.TransportClosed:
		if m.phase == domain.PhaseNegotiating || m.phase == domain.PhaseConnected {
			ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
			defer cancel()
			m.hangup(ctx, domain.ReasonTransportFailed)
		}
	}
}

func (m *Machine) armTimer(a *attempt, d time.Duration, in domain.Phase) {
	a.stopTimer()
	gen := a.gen
	a.timer = time.AfterFunc(d, func() {
		m.queue.push(func() { m.handleTimeout(gen, in) })
	})
}

func (a *attempt) stopTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (m *Machine) handleTimeout(gen uint64, in domain.Phase) {
	a := m.cur
	if a == nil || a.gen != gen || a.finished || m.phase != in {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
	defer cancel()

	switch in {
	case domain.PhaseIdle:
		a.log().Debug().Msg("Incoming session never rang")
		m.dropInvite(a)
	case domain.PhasePlacing:
		a.log().Info().Msg("No answer")
		m.hangupWith(ctx, domain.ReasonNoAnswer, domain.ReasonNoAnswer)
	case domain.PhaseRinging:
		a.log().Info().Msg("Missed call")
		m.finish(a, domain.ReasonMissed, false)
	case domain.PhaseNegotiating:
		a.log().Warn().Msg("Connection not established in time")
		m.hangup(ctx, domain.ReasonTransportFailed)
	}
}

// hangup tells the remote side and tears the current attempt down.
func (m *Machine) hangup(ctx context.Context, reason domain.EndReason) {
	m.hangupWith(ctx, reason, reason)
}

func (m *Machine) hangupWith(ctx context.Context, reason, wire domain.EndReason) {
	a := m.cur
	if a == nil || a.finished {
		return
	}
	if !m.phase.Active() {
		m.dropInvite(a)
		return
	}
	if err := m.send(ctx, a, domain.SignalCallEnded, domain.ReasonPayload{Reason: wire}); err != nil {
		a.log().Warn().Err(err).Msg("Failed to send call-ended")
	}
	m.finish(a, reason, true)
}

// finish releases everything the attempt holds exactly once, reports the end
// and re-arms the machine at Idle.
func (m *Machine) finish(a *attempt, reason domain.EndReason, deleteSession bool) {
	if a.finished {
		return
	}
	a.finished = true
	a.stopTimer()

	m.releaseAttempt(a)
	if deleteSession {
		m.deleteSession(a)
	}

	var dur time.Duration
	if !a.connectedAt.IsZero() {
		dur = time.Since(a.connectedAt)
	}
	a.log().Info().Str("reason", string(reason)).Dur("duration", dur).Msg("Call ended")

	m.setPhase(domain.PhaseEnded)
	m.listener.callEnded(domain.CallEnded{
		SessionID: a.session.ID,
		Reason:    reason,
		Err:       domain.ErrorForReason(reason),
		Duration:  dur,
	})

	m.cur = nil
	m.setPhase(domain.PhaseIdle)
}

func (m *Machine) releaseAttempt(a *attempt) {
	if a.sub != nil {
		a.sub.Unsubscribe()
	}
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			a.log().Warn().Err(err).Msg("Failed to close transport")
		}
		a.transport = nil
	}
	m.cfg.Media.Release()
}

func (m *Machine) deleteSession(a *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultIOTimeout)
	defer cancel()
	if err := m.cfg.Sessions.DeleteSession(ctx, a.session.ID); err != nil {
		a.log().Warn().Err(err).Msg("Failed to delete session")
	}
}

func (m *Machine) setPhase(p domain.Phase) {
	if m.phase == p {
		return
	}
	if !m.phase.CanTransition(p) {
		log.Error().Str("from", m.phase.String()).Str("to", p.String()).Msg("Illegal phase transition")
		return
	}
	m.phase = p
	m.emitState()
}

func (m *Machine) emitState() {
	m.listener.stateChanged(m.snapshot())
}

func (m *Machine) snapshot() domain.CallState {
	st := domain.CallState{Phase: m.phase}
	a := m.cur
	if a == nil || m.phase == domain.PhaseIdle {
		return st
	}
	st.Direction = a.direction
	st.SessionID = a.session.ID
	st.IsVideo = a.isVideo
	st.RemotePeerID = a.remote
	st.RemoteDisplayName = a.remoteName
	st.ConnectedAt = a.connectedAt
	m.cfg.Media.Snapshot(&st)
	return st
}
