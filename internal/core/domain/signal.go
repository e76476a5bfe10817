package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type SignalKind string

const (
	SignalCallRequest  SignalKind = "call-request"
	SignalCallAccepted SignalKind = "call-accepted"
	SignalCallRejected SignalKind = "call-rejected"
	SignalCallEnded    SignalKind = "call-ended"
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalCandidate    SignalKind = "ice-candidate"
)

func (k SignalKind) Valid() bool {
	switch k {
	case SignalCallRequest, SignalCallAccepted, SignalCallRejected, SignalCallEnded,
		SignalOffer, SignalAnswer, SignalCandidate:
		return true
	}
	return false
}

// SignalMessage is immutable once sent. Payload is kind specific JSON.
type SignalMessage struct {
	ID          MessageID       `json:"id"`
	SessionID   SessionID       `json:"sessionId"`
	Kind        SignalKind      `json:"kind"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SenderID    UserID          `json:"senderId"`
	RecipientID UserID          `json:"recipientId"`
	CreatedAt   time.Time       `json:"createdAt"`
}

func NewSignal(sessionID SessionID, kind SignalKind, from, to UserID, payload any) (SignalMessage, error) {
	msg := SignalMessage{
		ID:          NewMessageID(),
		SessionID:   sessionID,
		Kind:        kind,
		SenderID:    from,
		RecipientID: to,
		CreatedAt:   time.Now().UTC(),
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return SignalMessage{}, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		msg.Payload = b
	}
	return msg, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (m SignalMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Kind, err)
	}
	return nil
}

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type SessionDescription struct {
	Type SDPType `json:"type"`
	SDP  string  `json:"sdp"`
}

// ICECandidate uses the same field names as the browser RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type CallRequestPayload struct {
	SDP     SessionDescription `json:"sdp"`
	IsVideo bool               `json:"isVideo"`
}

type DescriptionPayload struct {
	SDP SessionDescription `json:"sdp"`
}

type CandidatePayload struct {
	Candidate ICECandidate `json:"candidate"`
}

type ReasonPayload struct {
	Reason EndReason `json:"reason,omitempty"`
}
