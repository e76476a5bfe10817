package pion

import (
	"context"

	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type localStream struct {
	id     string
	tracks []port.LocalTrack
}

func (s *localStream) ID() string                 { return s.id }
func (s *localStream) Tracks() []port.LocalTrack { return s.tracks }

// SyntheticSource hands out Opus and VP8 sample tracks that nothing feeds.
// Calls negotiate and connect normally but carry no captured media.
type SyntheticSource struct{}

var _ port.MediaSource = SyntheticSource{}

func (SyntheticSource) Open(ctx context.Context, c port.MediaConstraints) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &localStream{id: "synthetic-" + uuid.NewString()}
	if c.Audio {
		audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, NewLocalTrack(audio, nil))
	}
	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.id)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, NewLocalTrack(video, nil))
	}
	return s, nil
}
