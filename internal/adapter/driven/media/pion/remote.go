package pion

import (
	"context"
	"errors"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type remoteStats struct {
	packets uint64
	bytes   uint64
	lost    uint64
	lastSeq uint16
	started bool
}

func (s *remoteStats) observe(p *rtp.Packet) {
	if s.started {
		// sequence numbers wrap at 2^16
		if gap := p.SequenceNumber - s.lastSeq; gap > 1 && gap < 1<<15 {
			s.lost += uint64(gap - 1)
		}
	}
	s.started = true
	s.lastSeq = p.SequenceNumber
	s.packets++
	s.bytes += uint64(len(p.Payload))
}

// drainRemote reads the remote track until it ends so interceptors keep
// producing receiver reports.
func drainRemote(ctx context.Context, track *webrtc.TrackRemote) {
	var st remoteStats
	for ctx.Err() == nil {
		p, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug().Err(err).Str("track_id", track.ID()).Msg("Remote track read stopped")
			}
			break
		}
		st.observe(p)
	}
	log.Debug().
		Str("track_id", track.ID()).
		Uint64("packets", st.packets).
		Uint64("bytes", st.bytes).
		Uint64("lost", st.lost).
		Msg("Remote track ended")
}
