package pion

import (
	"fmt"
	"time"

	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Options configure the WebRTC API shared by every transport.
type Options struct {
	STUNURLs []string
	// ICE disconnected/failed timeouts and keepalive interval; zero values use
	// pion's defaults.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
}

// Factory builds one fresh Transport per call attempt.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ port.TransportFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := registerCodecs(mediaEngine); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if opts.DisconnectedTimeout > 0 && opts.FailedTimeout > 0 && opts.KeepAliveInterval > 0 {
		se.SetICETimeouts(opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAliveInterval)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	)

	var cfg webrtc.Configuration
	if len(opts.STUNURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: opts.STUNURLs}}
	}
	return &Factory{api: api, config: cfg}, nil
}

func (f *Factory) NewTransport(events port.TransportEvents) (port.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return newTransport(pc, events), nil
}
