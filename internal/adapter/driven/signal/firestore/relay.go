package firestore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultSignalRetention is how long a deleted session's signals are kept so
// the peer can still read the final call-ended or call-rejected.
const DefaultSignalRetention = 30 * time.Second

// Relay implements port.Relay over Firestore: calls/{id} records with a
// signals subcollection ordered by server timestamp.
type Relay struct {
	client    *firestore.Client
	retention time.Duration

	mu     sync.Mutex
	purges map[domain.SessionID]*time.Timer
}

func NewRelay(client *firestore.Client, retention time.Duration) *Relay {
	if retention <= 0 {
		retention = DefaultSignalRetention
	}
	return &Relay{
		client:    client,
		retention: retention,
		purges:    make(map[domain.SessionID]*time.Timer),
	}
}

var _ port.Relay = (*Relay)(nil)

func (r *Relay) session(id domain.SessionID) *firestore.DocumentRef {
	return r.client.Collection(callsCollection).Doc(id.String())
}

func (r *Relay) signals(id domain.SessionID) *firestore.CollectionRef {
	return r.session(id).Collection(signalsCollection)
}

func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	if msg.ID == "" {
		msg.ID = domain.NewMessageID()
	}
	_, err := r.signals(msg.SessionID).Doc(msg.ID.String()).Create(ctx, newSignalDoc(msg))
	if status.Code(err) == codes.AlreadyExists {
		// a retried write that already landed
		return nil
	}
	if err != nil {
		return fmt.Errorf("firestore send %s: %w", msg.Kind, err)
	}
	return nil
}

func (r *Relay) Subscribe(_ context.Context, id domain.SessionID, onMessage func(domain.SignalMessage)) (port.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	it := r.signals(id).OrderBy("timestamp", firestore.Asc).Snapshots(ctx)
	l := log.With().Str("session_id", id.String()).Logger()

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				l.Error().Err(err).Msg("Signal subscription failed")
				return
			}
			for _, ch := range snap.Changes {
				if ch.Kind != firestore.DocumentAdded {
					continue
				}
				var d signalDoc
				if err := ch.Doc.DataTo(&d); err != nil {
					l.Warn().Err(err).Str("doc_id", ch.Doc.Ref.ID).Msg("Skipping unreadable signal")
					continue
				}
				msg, err := d.toDomain(id, ch.Doc.Ref.ID)
				if err != nil {
					l.Warn().Err(err).Msg("Skipping invalid signal")
					continue
				}
				onMessage(msg)
			}
		}
	}()

	return port.SubscriptionFunc(cancel), nil
}

func (r *Relay) CreateSession(ctx context.Context, s domain.CallSession) error {
	r.cancelPurge(s.ID)
	if _, err := r.session(s.ID).Create(ctx, newSessionDoc(s)); err != nil {
		return fmt.Errorf("firestore create session: %w", err)
	}
	return nil
}

func (r *Relay) UpdateStatus(ctx context.Context, id domain.SessionID, st domain.SessionStatus) error {
	_, err := r.session(id).Update(ctx, []firestore.Update{{Path: "status", Value: string(st)}})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("update %s: %w", id, domain.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("firestore update session: %w", err)
	}
	return nil
}

// DeleteSession removes the record now and its signals after the retention delay.
func (r *Relay) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if _, err := r.session(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore delete session: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.purges[id]; !ok {
		r.purges[id] = time.AfterFunc(r.retention, func() { r.purge(id) })
	}
	return nil
}

func (r *Relay) cancelPurge(id domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.purges[id]; ok {
		t.Stop()
		delete(r.purges, id)
	}
}

func (r *Relay) purge(id domain.SessionID) {
	r.mu.Lock()
	delete(r.purges, id)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	l := log.With().Str("session_id", id.String()).Logger()

	bw := r.client.BulkWriter(ctx)
	refs := r.signals(id).DocumentRefs(ctx)
	n := 0
	for {
		ref, err := refs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			l.Warn().Err(err).Msg("Listing signals for purge failed")
			break
		}
		if _, err := bw.Delete(ref); err != nil {
			l.Warn().Err(err).Msg("Queueing signal delete failed")
			continue
		}
		n++
	}
	bw.End()
	l.Debug().Int("signals", n).Msg("Purged session signals")
}

// Flush purges every session still waiting for its retention delay.
func (r *Relay) Flush() {
	r.mu.Lock()
	ids := make([]domain.SessionID, 0, len(r.purges))
	for id, t := range r.purges {
		t.Stop()
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.purge(id)
	}
}

func (r *Relay) WatchIncoming(_ context.Context, callee domain.UserID, onSession func(domain.CallSession)) (port.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	it := r.client.Collection(callsCollection).
		Where("callee", "==", callee.String()).
		Where("status", "==", string(domain.StatusPending)).
		Snapshots(ctx)
	l := log.With().Str("user_id", callee.String()).Logger()

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				if ctx.Err() != nil || status.Code(err) == codes.Canceled || errors.Is(err, iterator.Done) {
					return
				}
				l.Error().Err(err).Msg("Incoming call watch failed")
				return
			}
			for _, ch := range snap.Changes {
				if ch.Kind != firestore.DocumentAdded {
					continue
				}
				var d sessionDoc
				if err := ch.Doc.DataTo(&d); err != nil {
					l.Warn().Err(err).Str("doc_id", ch.Doc.Ref.ID).Msg("Skipping unreadable session")
					continue
				}
				onSession(d.toDomain(ch.Doc.Ref.ID))
			}
		}
	}()

	return port.SubscriptionFunc(cancel), nil
}
