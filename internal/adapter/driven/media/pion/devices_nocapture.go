//go:build !capture

package pion

import (
	"context"
	"fmt"
	"runtime"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/pion/webrtc/v4"
)

// CaptureAvailable reports whether the binary was built with device capture
// (go build -tags capture).
const CaptureAvailable = false

func registerCodecs(m *webrtc.MediaEngine) error {
	return m.RegisterDefaultCodecs()
}

type DeviceSource struct{}

var _ port.MediaSource = DeviceSource{}

func (DeviceSource) Open(context.Context, port.MediaConstraints) (port.LocalStream, error) {
	return nil, fmt.Errorf("%w: built without capture support on %s", domain.ErrMediaAccessDenied, runtime.GOOS)
}
