package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	DefaultKeyPrefix  = "call:"
	sessionTTL        = time.Hour
	signalRetention   = 30 * time.Second
	streamMaxLen      = 1000
	readBlock         = 2 * time.Second
	readBatch         = 100
	readRetryInterval = 500 * time.Millisecond
)

// Relay implements port.Relay on Redis. Each session's signals live in a
// stream, the record in a hash, and callees learn about new sessions through
// a pub/sub channel backed by a pending set for replay.
type Relay struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRelay(rdb redis.UniversalClient, prefix string) *Relay {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Relay{rdb: rdb, prefix: prefix}
}

var _ port.Relay = (*Relay)(nil)

func (r *Relay) sessionKey(id domain.SessionID) string { return r.prefix + "session:" + id.String() }
func (r *Relay) streamKey(id domain.SessionID) string  { return r.prefix + "signals:" + id.String() }
func (r *Relay) pendingKey(u domain.UserID) string     { return r.prefix + "pending:" + u.String() }
func (r *Relay) incomingChannel(u domain.UserID) string {
	return r.prefix + "incoming:" + u.String()
}

// sessionRecord is both the hash layout and the pub/sub notice body.
type sessionRecord struct {
	ID        string `json:"id" redis:"id"`
	Caller    string `json:"caller" redis:"caller"`
	Callee    string `json:"callee" redis:"callee"`
	IsVideo   bool   `json:"isVideo" redis:"isVideo"`
	Status    string `json:"status" redis:"status"`
	CreatedAt int64  `json:"createdAt" redis:"createdAt"`
}

func newSessionRecord(s domain.CallSession) sessionRecord {
	return sessionRecord{
		ID:        s.ID.String(),
		Caller:    s.ParticipantA.String(),
		Callee:    s.ParticipantB.String(),
		IsVideo:   s.Media.IsVideo(),
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.UnixMilli(),
	}
}

func (rec sessionRecord) toDomain() domain.CallSession {
	return domain.CallSession{
		ID:           domain.SessionID(rec.ID),
		ParticipantA: domain.UserID(rec.Caller),
		ParticipantB: domain.UserID(rec.Callee),
		Media:        domain.MediaTypeFor(rec.IsVideo),
		Status:       domain.SessionStatus(rec.Status),
		CreatedAt:    time.UnixMilli(rec.CreatedAt),
	}
}

func (r *Relay) Send(ctx context.Context, msg domain.SignalMessage) error {
	if msg.ID == "" {
		msg.ID = domain.NewMessageID()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode signal: %w", err)
	}
	key := r.streamKey(msg.SessionID)

	pipe := r.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"msg": body},
	})
	pipe.Expire(ctx, key, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis send %s: %w", msg.Kind, err)
	}
	return nil
}

func (r *Relay) Subscribe(_ context.Context, id domain.SessionID, onMessage func(domain.SignalMessage)) (port.Subscription, error) {
	ctx, cancel := context.WithCancel(context.Background())
	key := r.streamKey(id)
	l := log.With().Str("session_id", id.String()).Logger()

	go func() {
		last := "0"
		for {
			streams, err := r.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, last},
				Count:   readBatch,
				Block:   readBlock,
			}).Result()
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				l.Warn().Err(err).Msg("Signal stream read failed, retrying")
				select {
				case <-ctx.Done():
					return
				case <-time.After(readRetryInterval):
				}
				continue
			}
			for _, s := range streams {
				for _, xm := range s.Messages {
					last = xm.ID
					msg, err := decodeStreamMessage(xm)
					if err != nil {
						l.Warn().Err(err).Str("entry_id", xm.ID).Msg("Skipping invalid signal")
						continue
					}
					if ctx.Err() != nil {
						return
					}
					onMessage(msg)
				}
			}
		}
	}()

	return port.SubscriptionFunc(cancel), nil
}

func decodeStreamMessage(xm redis.XMessage) (domain.SignalMessage, error) {
	raw, ok := xm.Values["msg"]
	if !ok {
		return domain.SignalMessage{}, errors.New("missing msg field")
	}
	var body []byte
	switch v := raw.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = v
	default:
		return domain.SignalMessage{}, fmt.Errorf("unexpected msg field type %T", raw)
	}
	var msg domain.SignalMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return domain.SignalMessage{}, err
	}
	if !msg.Kind.Valid() {
		return domain.SignalMessage{}, fmt.Errorf("unknown kind %q", msg.Kind)
	}
	return msg, nil
}

func (r *Relay) CreateSession(ctx context.Context, s domain.CallSession) error {
	rec := newSessionRecord(s)
	notice, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	key := r.sessionKey(s.ID)
	ok, err := r.rdb.HSetNX(ctx, key, "id", rec.ID).Result()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, rec)
	pipe.Expire(ctx, key, sessionTTL)
	pipe.ZAdd(ctx, r.pendingKey(s.ParticipantB), redis.Z{Score: float64(rec.CreatedAt), Member: rec.ID})
	pipe.Publish(ctx, r.incomingChannel(s.ParticipantB), notice)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	return nil
}

func (r *Relay) getSession(ctx context.Context, id domain.SessionID) (sessionRecord, error) {
	var rec sessionRecord
	res := r.rdb.HGetAll(ctx, r.sessionKey(id))
	if err := res.Err(); err != nil {
		return rec, err
	}
	if len(res.Val()) == 0 {
		return rec, domain.ErrSessionNotFound
	}
	if err := res.Scan(&rec); err != nil {
		return rec, err
	}
	return rec, nil
}

func (r *Relay) UpdateStatus(ctx context.Context, id domain.SessionID, st domain.SessionStatus) error {
	rec, err := r.getSession(ctx, id)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.sessionKey(id), "status", string(st))
	if st != domain.StatusPending {
		pipe.ZRem(ctx, r.pendingKey(domain.UserID(rec.Callee)), rec.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}
	return nil
}

// DeleteSession removes the record now; the signal stream expires after a
// short retention so the peer can read the final message.
func (r *Relay) DeleteSession(ctx context.Context, id domain.SessionID) error {
	rec, err := r.getSession(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		return fmt.Errorf("delete %s: %w", id, err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, r.sessionKey(id))
	if rec.Callee != "" {
		pipe.ZRem(ctx, r.pendingKey(domain.UserID(rec.Callee)), id.String())
	}
	pipe.Expire(ctx, r.streamKey(id), signalRetention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}

func (r *Relay) WatchIncoming(ctx context.Context, callee domain.UserID, onSession func(domain.CallSession)) (port.Subscription, error) {
	ps := r.rdb.Subscribe(context.Background(), r.incomingChannel(callee))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe incoming: %w", err)
	}

	l := log.With().Str("user_id", callee.String()).Logger()
	var (
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)
	deliver := func(rec sessionRecord) {
		mu.Lock()
		if _, dup := seen[rec.ID]; dup {
			mu.Unlock()
			return
		}
		seen[rec.ID] = struct{}{}
		mu.Unlock()
		onSession(rec.toDomain())
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		since := time.Now().Add(-sessionTTL).UnixMilli()
		ids, err := r.rdb.ZRangeByScore(context.Background(), r.pendingKey(callee), &redis.ZRangeBy{
			Min: strconv.FormatInt(since, 10),
			Max: "+inf",
		}).Result()
		if err != nil {
			l.Warn().Err(err).Msg("Pending session replay failed")
		}
		for _, id := range ids {
			rec, err := r.getSession(context.Background(), domain.SessionID(id))
			if err != nil {
				continue
			}
			if rec.Status == string(domain.StatusPending) {
				deliver(rec)
			}
		}

		for m := range ps.Channel() {
			var rec sessionRecord
			if err := json.Unmarshal([]byte(m.Payload), &rec); err != nil {
				l.Warn().Err(err).Msg("Skipping invalid incoming notice")
				continue
			}
			deliver(rec)
		}
	}()

	var once sync.Once
	return port.SubscriptionFunc(func() {
		once.Do(func() {
			if err := ps.Close(); err != nil {
				l.Debug().Err(err).Msg("Closing incoming watch")
			}
			<-done
		})
	}), nil
}
