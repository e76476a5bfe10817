package port

import (
	"context"

	"github.com/Wyydra/ya-call/internal/core/domain"
)

type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// TransportEvents receives callbacks from the transport's own goroutines.
// Implementations must not block.
type TransportEvents struct {
	OnLocalCandidate func(domain.ICECandidate)
	OnRemoteTrack    func(domain.TrackInfo)
	OnStateChange    func(TransportState)
}

// PeerTransport is one peer connection. A new one is built for every call attempt.
type PeerTransport interface {
	AddLocalTrack(track LocalTrack) error
	// CreateOffer and CreateAnswer also install the result as the local description.
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)
	SetRemoteDescription(desc domain.SessionDescription) error
	AddICECandidate(c domain.ICECandidate) error
	Close() error
}

type TransportFactory interface {
	NewTransport(events TransportEvents) (PeerTransport, error)
}
