package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/rs/zerolog/log"
)

const (
	unknownName          = "Unknown"
	defaultLookupTimeout = 3 * time.Second
)

type Config struct {
	Self           domain.UserID
	Signals        port.SignalChannel
	Sessions       port.SessionStore
	Transports     port.TransportFactory
	Media          port.MediaSource
	Directory      port.UserDirectory
	RingTimeout    time.Duration
	ConnectTimeout time.Duration
	LookupTimeout  time.Duration
}

// CallService is the object the UI talks to. It owns the session machine and
// republishes its notifications to registered handlers, in order, on a
// dedicated goroutine so handlers may call back into the service.
type CallService struct {
	self          domain.UserID
	directory     port.UserDirectory
	lookupTimeout time.Duration

	machine *Machine
	events  *taskQueue

	mu       sync.RWMutex
	state    domain.CallState
	onState  []func(domain.CallState)
	onRing   []func(domain.IncomingCall)
	onEnded  []func(domain.CallEnded)
	started  bool
	shutdown bool
}

func NewCallService(cfg Config) *CallService {
	s := &CallService{
		self:          cfg.Self,
		directory:     cfg.Directory,
		lookupTimeout: cfg.LookupTimeout,
		events:        newTaskQueue(),
		state:         domain.IdleState(),
	}
	if s.lookupTimeout <= 0 {
		s.lookupTimeout = defaultLookupTimeout
	}
	s.machine = NewMachine(MachineConfig{
		Self:           cfg.Self,
		Signals:        cfg.Signals,
		Sessions:       cfg.Sessions,
		Transports:     cfg.Transports,
		Media:          NewMediaManager(cfg.Media),
		RingTimeout:    cfg.RingTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		ResolveName:    s.displayName,
	}, s)
	return s
}

func (s *CallService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	go s.events.run()
	if err := s.machine.Start(ctx); err != nil {
		s.events.close()
		return err
	}
	log.Info().Str("user_id", s.self.String()).Msg("Call service started")
	return nil
}

// Close hangs up any active call, stops watching for calls and flushes
// pending notifications.
func (s *CallService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	err := s.machine.Close(ctx)
	s.events.close()
	select {
	case <-s.events.done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	log.Info().Msg("Call service stopped")
	return err
}

func (s *CallService) Self() domain.UserID {
	return s.self
}

// InitiateCall places a call and returns its session id.
func (s *CallService) InitiateCall(ctx context.Context, remote domain.UserID, isVideo bool) (domain.SessionID, error) {
	return s.machine.Initiate(ctx, remote, isVideo)
}

func (s *CallService) AcceptCall(ctx context.Context) error {
	return s.machine.Accept(ctx)
}

func (s *CallService) RejectCall(ctx context.Context) error {
	return s.machine.Reject(ctx)
}

func (s *CallService) EndCall(ctx context.Context) error {
	return s.machine.End(ctx)
}

// ToggleMute reports whether audio is muted afterwards. Without a local
// stream it returns false.
func (s *CallService) ToggleMute(ctx context.Context) bool {
	muted, err := s.machine.ToggleMute(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Toggle mute failed")
		return false
	}
	return muted
}

// ToggleVideo reports whether video is disabled afterwards. Without a local
// stream it returns false.
func (s *CallService) ToggleVideo(ctx context.Context) bool {
	disabled, err := s.machine.ToggleVideo(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Toggle video failed")
		return false
	}
	return disabled
}

// State returns the last published state.
func (s *CallService) State() domain.CallState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *CallService) OnStateChange(fn func(domain.CallState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onState = append(s.onState, fn)
}

func (s *CallService) OnIncomingCall(fn func(domain.IncomingCall)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRing = append(s.onRing, fn)
}

func (s *CallService) OnCallEnded(fn func(domain.CallEnded)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = append(s.onEnded, fn)
}

// displayName never fails; lookup problems degrade to "Unknown".
func (s *CallService) displayName(ctx context.Context, id domain.UserID) string {
	if s.directory == nil {
		return unknownName
	}
	ctx, cancel := context.WithTimeout(ctx, s.lookupTimeout)
	defer cancel()

	u, err := s.directory.GetUser(ctx, id)
	if err != nil {
		l := log.With().Str("remote_id", id.String()).Logger()
		if errors.Is(err, domain.ErrUserNotFound) {
			l.Debug().Msg("Remote user has no profile")
		} else {
			l.Warn().Err(err).AnErr("kind", domain.ErrRemoteLookupFailed).Msg("Remote user lookup failed")
		}
		return unknownName
	}
	if name := u.Label(); name != "" {
		return name
	}
	return unknownName
}

// machineListener

func (s *CallService) stateChanged(st domain.CallState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()

	s.events.push(func() {
		s.mu.RLock()
		handlers := append([]func(domain.CallState){}, s.onState...)
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(st)
		}
	})
}

func (s *CallService) incomingCall(info domain.IncomingCall) {
	s.events.push(func() {
		s.mu.RLock()
		handlers := append([]func(domain.IncomingCall){}, s.onRing...)
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(info)
		}
	})
}

func (s *CallService) callEnded(ev domain.CallEnded) {
	s.events.push(func() {
		s.mu.RLock()
		handlers := append([]func(domain.CallEnded){}, s.onEnded...)
		s.mu.RUnlock()
		for _, fn := range handlers {
			fn(ev)
		}
	})
}
