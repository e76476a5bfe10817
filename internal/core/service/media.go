package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/rs/zerolog/log"
)

var errMediaHeld = errors.New("local media already acquired")

// MediaManager owns the single local capture stream and the remote tracks of
// the active call.
type MediaManager struct {
	source port.MediaSource

	mu     sync.Mutex
	local  port.LocalStream
	remote []domain.TrackInfo
}

func NewMediaManager(source port.MediaSource) *MediaManager {
	return &MediaManager{source: source}
}

// Acquire opens audio, and video when isVideo is set. It must be paired with Release.
func (m *MediaManager) Acquire(ctx context.Context, isVideo bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local != nil {
		return errMediaHeld
	}

	stream, err := m.source.Open(ctx, port.MediaConstraints{Audio: true, Video: isVideo})
	if err != nil {
		if errors.Is(err, domain.ErrMediaAccessDenied) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, err)
	}
	if stream == nil || len(stream.Tracks()) == 0 {
		return fmt.Errorf("%w: no capture tracks", domain.ErrMediaAccessDenied)
	}

	m.local = stream
	log.Info().Str("stream_id", stream.ID()).Int("tracks", len(stream.Tracks())).Bool("video", isVideo).Msg("Local media acquired")
	return nil
}

// AttachTo adds every local track to the transport.
func (m *MediaManager) AttachTo(t port.PeerTransport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return nil
	}
	for _, track := range m.local.Tracks() {
		if err := t.AddLocalTrack(track); err != nil {
			return fmt.Errorf("attach %s track: %w", track.Kind(), err)
		}
	}
	return nil
}

// ToggleMute flips the audio tracks and reports whether audio is now muted.
func (m *MediaManager) ToggleMute() bool {
	return m.toggle(domain.KindAudio)
}

// ToggleVideo flips the video tracks and reports whether video is now disabled.
func (m *MediaManager) ToggleVideo() bool {
	return m.toggle(domain.KindVideo)
}

func (m *MediaManager) toggle(kind domain.MediaKind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.local == nil {
		return false
	}
	tracks := tracksOfKind(m.local, kind)
	if len(tracks) == 0 {
		return false
	}
	enabled := !tracks[0].Enabled()
	for _, t := range tracks {
		t.SetEnabled(enabled)
	}
	return !enabled
}

// AddRemoteTrack records an inbound track. It reports false for a track already known.
func (m *MediaManager) AddRemoteTrack(info domain.TrackInfo) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.remote {
		if t.ID == info.ID && t.StreamID == info.StreamID {
			return false
		}
	}
	info.Enabled = true
	m.remote = append(m.remote, info)
	return true
}

// Release stops every local track and forgets remote tracks. It reports
// whether a local stream was held.
func (m *MediaManager) Release() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remote = nil
	if m.local == nil {
		return false
	}
	for _, t := range m.local.Tracks() {
		if err := t.Stop(); err != nil {
			log.Warn().Err(err).Str("track_id", t.ID()).Msg("Failed to stop local track")
		}
	}
	log.Info().Str("stream_id", m.local.ID()).Msg("Local media released")
	m.local = nil
	return true
}

// Snapshot copies the track view into st.
func (m *MediaManager) Snapshot(st *domain.CallState) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st.LocalTracks = nil
	st.Muted = false
	st.VideoDisabled = false
	if m.local != nil {
		for _, t := range m.local.Tracks() {
			st.LocalTracks = append(st.LocalTracks, domain.TrackInfo{
				ID:       t.ID(),
				StreamID: m.local.ID(),
				Kind:     t.Kind(),
				Enabled:  t.Enabled(),
			})
		}
		st.Muted = allDisabled(tracksOfKind(m.local, domain.KindAudio))
		st.VideoDisabled = allDisabled(tracksOfKind(m.local, domain.KindVideo))
	}
	st.RemoteTracks = append([]domain.TrackInfo(nil), m.remote...)
}

func tracksOfKind(s port.LocalStream, kind domain.MediaKind) []port.LocalTrack {
	var out []port.LocalTrack
	for _, t := range s.Tracks() {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

func allDisabled(tracks []port.LocalTrack) bool {
	if len(tracks) == 0 {
		return false
	}
	for _, t := range tracks {
		if t.Enabled() {
			return false
		}
	}
	return true
}
