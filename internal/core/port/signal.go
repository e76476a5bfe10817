package port

import (
	"context"

	"github.com/Wyydra/ya-call/internal/core/domain"
)

// Subscription is a live relay subscription. Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// SignalChannel relays SignalMessages between the two parties of a session.
// Subscribe delivers messages in creation order, possibly replaying history,
// and never invokes onMessage concurrently for the same subscription. The ctx
// passed to Subscribe and WatchIncoming only bounds setup; a subscription
// lives until Unsubscribe.
type SignalChannel interface {
	Send(ctx context.Context, msg domain.SignalMessage) error
	Subscribe(ctx context.Context, sessionID domain.SessionID, onMessage func(domain.SignalMessage)) (Subscription, error)
}

// SessionStore keeps the shared CallSession records.
type SessionStore interface {
	CreateSession(ctx context.Context, s domain.CallSession) error
	UpdateStatus(ctx context.Context, id domain.SessionID, status domain.SessionStatus) error
	// DeleteSession removes the record and its signal log. Deleting a missing
	// session is not an error.
	DeleteSession(ctx context.Context, id domain.SessionID) error
	// WatchIncoming reports pending sessions created for callee.
	WatchIncoming(ctx context.Context, callee domain.UserID, onSession func(domain.CallSession)) (Subscription, error)
}

// Relay is a backend offering both halves.
type Relay interface {
	SignalChannel
	SessionStore
}
