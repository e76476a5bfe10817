package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// UserID is the auth provider's opaque uid.
type UserID string

func (id UserID) String() string {
	return string(id)
}

type SessionID string

// NewSessionID derives a session id from both participants and the creation time.
func NewSessionID(caller, callee UserID, at time.Time) SessionID {
	return SessionID(fmt.Sprintf("%s_%s_%d", caller, callee, at.UnixMilli()))
}

func (s SessionID) String() string {
	return string(s)
}

type MessageID string

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func (id MessageID) String() string {
	return string(id)
}
