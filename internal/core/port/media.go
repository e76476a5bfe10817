package port

import (
	"context"

	"github.com/Wyydra/ya-call/internal/core/domain"
)

type LocalTrack interface {
	ID() string
	Kind() domain.MediaKind
	Enabled() bool
	SetEnabled(enabled bool)
	Stop() error
}

type LocalStream interface {
	ID() string
	Tracks() []LocalTrack
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

// MediaSource opens capture devices. Failures wrap domain.ErrMediaAccessDenied.
type MediaSource interface {
	Open(ctx context.Context, c MediaConstraints) (LocalStream, error)
}
