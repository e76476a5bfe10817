//go:build capture

package pion

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const CaptureAvailable = true

var codecSelector = sync.OnceValues(func() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
})

func registerCodecs(m *webrtc.MediaEngine) error {
	sel, err := codecSelector()
	if err != nil {
		return err
	}
	sel.Populate(m)
	return nil
}

// DeviceSource captures the local camera and microphone.
type DeviceSource struct{}

var _ port.MediaSource = DeviceSource{}

func (DeviceSource) Open(ctx context.Context, c port.MediaConstraints) (port.LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := codecSelector()
	if err != nil {
		return nil, fmt.Errorf("%w: codecs: %w", domain.ErrMediaAccessDenied, err)
	}

	constraints := mediadevices.MediaStreamConstraints{Codec: sel}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			// raw formats only; MJPEG nodes on some cameras feed broken frames to the encoder
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatI444, frame.FormatRGBA}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}

	ms, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		for _, d := range mediadevices.EnumerateDevices() {
			log.Debug().Str("label", d.Label).Str("kind", fmt.Sprint(d.Kind)).Msg("Media device")
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, err)
	}

	s := &localStream{id: uuid.NewString()}
	for _, t := range ms.GetTracks() {
		track := t
		track.OnEnded(func(err error) {
			if err != nil {
				log.Warn().Err(err).Str("track_id", track.ID()).Msg("Local capture track ended")
			}
		})
		s.tracks = append(s.tracks, NewLocalTrack(track, track.Close))
	}
	return s, nil
}
