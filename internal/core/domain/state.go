package domain

import "time"

type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

type TrackInfo struct {
	ID       string    `json:"id"`
	StreamID string    `json:"streamId"`
	Kind     MediaKind `json:"kind"`
	Enabled  bool      `json:"enabled"`
}

// CallState is the runtime snapshot handed to the UI. It is a copy and safe
// to keep after the call moves on.
type CallState struct {
	Phase             Phase       `json:"phase"`
	Direction         Direction   `json:"direction,omitempty"`
	SessionID         SessionID   `json:"sessionId,omitempty"`
	IsVideo           bool        `json:"isVideo"`
	RemotePeerID      UserID      `json:"remotePeerId,omitempty"`
	RemoteDisplayName string      `json:"remoteDisplayName,omitempty"`
	LocalTracks       []TrackInfo `json:"localTracks,omitempty"`
	RemoteTracks      []TrackInfo `json:"remoteTracks,omitempty"`
	Muted             bool        `json:"muted"`
	VideoDisabled     bool        `json:"videoDisabled"`
	ConnectedAt       time.Time   `json:"connectedAt,omitzero"`
}

func IdleState() CallState {
	return CallState{Phase: PhaseIdle}
}

type IncomingCall struct {
	SessionID   SessionID `json:"sessionId"`
	From        UserID    `json:"from"`
	DisplayName string    `json:"displayName"`
	IsVideo     bool      `json:"isVideo"`
}

type CallEnded struct {
	SessionID SessionID     `json:"sessionId"`
	Reason    EndReason     `json:"reason"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

type User struct {
	ID          UserID
	DisplayName string
	Name        string
	AvatarURL   string
}

// Label picks the best human readable name for the user.
func (u User) Label() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}
