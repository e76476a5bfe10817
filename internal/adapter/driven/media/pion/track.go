package pion

import (
	"sync"
	"sync/atomic"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// LocalTrack adapts a pion TrackLocal to port.LocalTrack. Disabling it drops
// outgoing RTP, so mute and camera-off never renegotiate.
type LocalTrack struct {
	gate *gatedTrack
	stop func() error
	once sync.Once
}

var _ port.LocalTrack = (*LocalTrack)(nil)

func NewLocalTrack(inner webrtc.TrackLocal, stop func() error) *LocalTrack {
	g := &gatedTrack{TrackLocal: inner, bindings: make(map[string]*gatedContext)}
	g.enabled.Store(true)
	return &LocalTrack{gate: g, stop: stop}
}

func (t *LocalTrack) ID() string                     { return t.gate.ID() }
func (t *LocalTrack) Kind() domain.MediaKind         { return kindFromPion(t.gate.Kind()) }
func (t *LocalTrack) Enabled() bool                  { return t.gate.enabled.Load() }
func (t *LocalTrack) SetEnabled(enabled bool)        { t.gate.enabled.Store(enabled) }
func (t *LocalTrack) TrackLocal() webrtc.TrackLocal { return t.gate }

func (t *LocalTrack) Stop() error {
	var err error
	t.once.Do(func() {
		if t.stop != nil {
			err = t.stop()
		}
	})
	return err
}

// gatedTrack interposes on Bind so every packet the inner track writes goes
// through a writer that honours the enabled flag.
type gatedTrack struct {
	webrtc.TrackLocal
	enabled atomic.Bool

	mu       sync.Mutex
	bindings map[string]*gatedContext
}

func (g *gatedTrack) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	gc := &gatedContext{
		TrackLocalContext: ctx,
		writer:            &gatedWriter{inner: ctx.WriteStream(), enabled: &g.enabled},
	}
	g.mu.Lock()
	g.bindings[ctx.ID()] = gc
	g.mu.Unlock()
	return g.TrackLocal.Bind(gc)
}

func (g *gatedTrack) Unbind(ctx webrtc.TrackLocalContext) error {
	g.mu.Lock()
	gc, ok := g.bindings[ctx.ID()]
	delete(g.bindings, ctx.ID())
	g.mu.Unlock()
	if !ok {
		return g.TrackLocal.Unbind(ctx)
	}
	return g.TrackLocal.Unbind(gc)
}

type gatedContext struct {
	webrtc.TrackLocalContext
	writer *gatedWriter
}

func (c *gatedContext) WriteStream() webrtc.TrackLocalWriter {
	return c.writer
}

type gatedWriter struct {
	inner   webrtc.TrackLocalWriter
	enabled *atomic.Bool
}

func (w *gatedWriter) WriteRTP(header *rtp.Header, payload []byte) (int, error) {
	if !w.enabled.Load() {
		return len(payload), nil
	}
	return w.inner.WriteRTP(header, payload)
}

func (w *gatedWriter) Write(b []byte) (int, error) {
	if !w.enabled.Load() {
		return len(b), nil
	}
	return w.inner.Write(b)
}
