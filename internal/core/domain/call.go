package domain

import (
	"errors"
	"time"
)

type MediaType string

const (
	MediaAudio      MediaType = "audio-only"
	MediaAudioVideo MediaType = "audio-video"
)

func MediaTypeFor(isVideo bool) MediaType {
	if isVideo {
		return MediaAudioVideo
	}
	return MediaAudio
}

func (m MediaType) IsVideo() bool {
	return m == MediaAudioVideo
}

type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusActive  SessionStatus = "active"
	StatusEnded   SessionStatus = "ended"
)

// CallSession mirrors the shared record both peers read. ParticipantA places the call.
type CallSession struct {
	ID           SessionID
	ParticipantA UserID
	ParticipantB UserID
	Media        MediaType
	Status       SessionStatus
	CreatedAt    time.Time
}

func NewCallSession(caller, callee UserID, isVideo bool, now time.Time) (*CallSession, error) {
	if caller == "" || callee == "" {
		return nil, errors.New("call participants cannot be empty")
	}
	if caller == callee {
		return nil, errors.New("cannot call yourself")
	}
	return &CallSession{
		ID:           NewSessionID(caller, callee, now),
		ParticipantA: caller,
		ParticipantB: callee,
		Media:        MediaTypeFor(isVideo),
		Status:       StatusPending,
		CreatedAt:    now,
	}, nil
}

// Peer returns the other participant, or "" if self is not part of the session.
func (s CallSession) Peer(self UserID) UserID {
	switch self {
	case s.ParticipantA:
		return s.ParticipantB
	case s.ParticipantB:
		return s.ParticipantA
	}
	return ""
}

func (s CallSession) Participants() []UserID {
	return []UserID{s.ParticipantA, s.ParticipantB}
}
