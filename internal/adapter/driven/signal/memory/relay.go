package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Relay is an in-process port.Relay. Every message is delivered exactly once
// per subscription, in send order, with the session history replayed on
// subscribe. Useful for local development and tests.
type Relay struct {
	mu       sync.Mutex
	sessions map[domain.SessionID]*sessionLog
	watchers map[domain.UserID]map[*mailbox[domain.CallSession]]struct{}
	// deleted remembers recently dropped sessions so late signals do not
	// bring their log back.
	deleted map[domain.SessionID]time.Time
}

const tombstoneTTL = time.Minute

type sessionLog struct {
	record *domain.CallSession
	msgs   []domain.SignalMessage
	subs   map[*mailbox[domain.SignalMessage]]struct{}
}

func NewRelay() *Relay {
	return &Relay{
		sessions: make(map[domain.SessionID]*sessionLog),
		watchers: make(map[domain.UserID]map[*mailbox[domain.CallSession]]struct{}),
		deleted:  make(map[domain.SessionID]time.Time),
	}
}

var _ port.Relay = (*Relay)(nil)

func (r *Relay) logFor(id domain.SessionID) *sessionLog {
	sl, ok := r.sessions[id]
	if !ok {
		sl = &sessionLog{subs: make(map[*mailbox[domain.SignalMessage]]struct{})}
		r.sessions[id] = sl
	}
	return sl
}

func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.SessionID == "" || !msg.Kind.Valid() {
		return fmt.Errorf("invalid signal %q for session %q", msg.Kind, msg.SessionID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.deleted[msg.SessionID]; gone {
		log.Debug().Str("session_id", msg.SessionID.String()).Str("kind", string(msg.Kind)).Msg("Dropping signal for deleted session")
		return nil
	}
	sl := r.logFor(msg.SessionID)
	sl.msgs = append(sl.msgs, msg)
	for mb := range sl.subs {
		mb.push(msg)
	}
	log.Debug().Str("session_id", msg.SessionID.String()).Str("kind", string(msg.Kind)).Int("subscribers", len(sl.subs)).Msg("Relayed signal")
	return nil
}

func (r *Relay) Subscribe(ctx context.Context, id domain.SessionID, onMessage func(domain.SignalMessage)) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, gone := r.deleted[id]; gone {
		return port.SubscriptionFunc(func() {}), nil
	}
	mb := newMailbox(onMessage)
	sl := r.logFor(id)
	mb.push(sl.msgs...)
	sl.subs[mb] = struct{}{}

	var once sync.Once
	return port.SubscriptionFunc(func() {
		once.Do(func() {
			r.mu.Lock()
			if cur, ok := r.sessions[id]; ok {
				delete(cur.subs, mb)
			}
			r.mu.Unlock()
			mb.stop()
		})
	}), nil
}

func (r *Relay) CreateSession(ctx context.Context, s domain.CallSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sl := r.logFor(s.ID)
	if sl.record != nil {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	rec := s
	sl.record = &rec
	for mb := range r.watchers[s.ParticipantB] {
		mb.push(rec)
	}
	return nil
}

func (r *Relay) UpdateStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sl, ok := r.sessions[id]
	if !ok || sl.record == nil {
		return fmt.Errorf("update %s: %w", id, domain.ErrSessionNotFound)
	}
	sl.record.Status = status
	return nil
}

// DeleteSession drops the record and its log. Messages already handed to a
// subscriber are still delivered. Signals sent to the session afterwards are
// discarded.
func (r *Relay) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)

	now := time.Now()
	for old, at := range r.deleted {
		if now.Sub(at) > tombstoneTTL {
			delete(r.deleted, old)
		}
	}
	r.deleted[id] = now
	return nil
}

func (r *Relay) WatchIncoming(ctx context.Context, callee domain.UserID, onSession func(domain.CallSession)) (port.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	mb := newMailbox(onSession)
	for _, sl := range r.sessions {
		if sl.record != nil && sl.record.ParticipantB == callee && sl.record.Status == domain.StatusPending {
			mb.push(*sl.record)
		}
	}
	if r.watchers[callee] == nil {
		r.watchers[callee] = make(map[*mailbox[domain.CallSession]]struct{})
	}
	r.watchers[callee][mb] = struct{}{}

	var once sync.Once
	return port.SubscriptionFunc(func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.watchers[callee], mb)
			r.mu.Unlock()
			mb.stop()
		})
	}), nil
}

// Session returns a copy of the stored record.
func (r *Relay) Session(id domain.SessionID) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.sessions[id]
	if !ok || sl.record == nil {
		return domain.CallSession{}, false
	}
	return *sl.record, true
}

// Messages returns the log of a session in send order.
func (r *Relay) Messages(id domain.SessionID) []domain.SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	sl, ok := r.sessions[id]
	if !ok {
		return nil
	}
	return append([]domain.SignalMessage(nil), sl.msgs...)
}
