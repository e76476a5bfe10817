package firestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
)

const (
	callsCollection   = "calls"
	signalsCollection = "signals"
)

// sessionDoc is calls/{sessionId}.
type sessionDoc struct {
	Participants []string  `firestore:"participants"`
	Caller       string    `firestore:"caller"`
	Callee       string    `firestore:"callee"`
	IsVideo      bool      `firestore:"isVideo"`
	Status       string    `firestore:"status"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func newSessionDoc(s domain.CallSession) sessionDoc {
	var participants []string
	for _, id := range s.Participants() {
		participants = append(participants, id.String())
	}
	return sessionDoc{
		Participants: participants,
		Caller:       s.ParticipantA.String(),
		Callee:       s.ParticipantB.String(),
		IsVideo:      s.Media.IsVideo(),
		Status:       string(s.Status),
		CreatedAt:    s.CreatedAt,
	}
}

func (d sessionDoc) toDomain(id string) domain.CallSession {
	return domain.CallSession{
		ID:           domain.SessionID(id),
		ParticipantA: domain.UserID(d.Caller),
		ParticipantB: domain.UserID(d.Callee),
		Media:        domain.MediaTypeFor(d.IsVideo),
		Status:       domain.SessionStatus(d.Status),
		CreatedAt:    d.CreatedAt,
	}
}

// signalDoc is calls/{sessionId}/signals/{messageId}. Timestamp is filled by
// the server and orders the collection.
type signalDoc struct {
	Type      string    `firestore:"type"`
	Payload   string    `firestore:"payload,omitempty"`
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	SentAt    time.Time `firestore:"sentAt"`
	Timestamp time.Time `firestore:"timestamp,serverTimestamp"`
}

func newSignalDoc(m domain.SignalMessage) signalDoc {
	return signalDoc{
		Type:    string(m.Kind),
		Payload: string(m.Payload),
		From:    m.SenderID.String(),
		To:      m.RecipientID.String(),
		SentAt:  m.CreatedAt,
	}
}

func (d signalDoc) toDomain(sessionID domain.SessionID, docID string) (domain.SignalMessage, error) {
	kind := domain.SignalKind(d.Type)
	if !kind.Valid() {
		return domain.SignalMessage{}, fmt.Errorf("signal %s: unknown type %q", docID, d.Type)
	}
	msg := domain.SignalMessage{
		ID:          domain.MessageID(docID),
		SessionID:   sessionID,
		Kind:        kind,
		SenderID:    domain.UserID(d.From),
		RecipientID: domain.UserID(d.To),
		CreatedAt:   d.Timestamp,
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = d.SentAt
	}
	if d.Payload != "" {
		if !json.Valid([]byte(d.Payload)) {
			return domain.SignalMessage{}, fmt.Errorf("signal %s: payload is not json", docID)
		}
		msg.Payload = json.RawMessage(d.Payload)
	}
	return msg, nil
}
