package pion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/pion/rtcp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const pliInterval = 3 * time.Second

var errForeignTrack = errors.New("track was not created by the pion media adapter")

// trackSource is implemented by local tracks that can be sent over pion.
type trackSource interface {
	TrackLocal() webrtc.TrackLocal
}

// Transport wraps one PeerConnection for the lifetime of one call attempt.
type Transport struct {
	pc     *webrtc.PeerConnection
	events port.TransportEvents

	// cancelled on Close; stops PLI tickers and remote readers
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	hasTracks bool
	closed    bool
}

var _ port.PeerTransport = (*Transport)(nil)

func newTransport(pc *webrtc.PeerConnection, events port.TransportEvents) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{pc: pc, events: events, ctx: ctx, cancel: cancel}

	// 1. Trickle ICE: every local candidate goes out through signaling
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || events.OnLocalCandidate == nil {
			return
		}
		events.OnLocalCandidate(candidateFromPion(c.ToJSON()))
	})

	// 2. Remote media: report the track, keep the receive path drained and ask for keyframes
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		info := domain.TrackInfo{
			ID:       remote.ID(),
			StreamID: remote.StreamID(),
			Kind:     kindFromPion(remote.Kind()),
		}
		log.Debug().Str("kind", string(info.Kind)).Str("track_id", info.ID).Msg("Received remote track")
		if events.OnRemoteTrack != nil {
			events.OnRemoteTrack(info)
		}
		go drainRemote(t.ctx, remote)
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			go t.requestKeyframes(uint32(remote.SSRC()))
		}
	})

	// 3. Health
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Debug().Str("state", s.String()).Msg("Peer connection state changed")
		if events.OnStateChange != nil {
			events.OnStateChange(stateFromPion(s))
		}
	})

	return t
}

func (t *Transport) AddLocalTrack(track port.LocalTrack) error {
	src, ok := track.(trackSource)
	if !ok {
		return errForeignTrack
	}
	if _, err := t.pc.AddTrack(src.TrackLocal()); err != nil {
		return err
	}
	t.mu.Lock()
	t.hasTracks = true
	t.mu.Unlock()
	return nil
}

func (t *Transport) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	t.mu.Lock()
	hasTracks := t.hasTracks
	t.mu.Unlock()
	if !hasTracks {
		// nothing to send; still ask for media so the offer has m-lines
		if err := addRecvOnlyTransceivers(t.pc); err != nil {
			return domain.SessionDescription{}, err
		}
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: offer.SDP}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return domain.SessionDescription{}, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: answer.SDP}, nil
}

func (t *Transport) SetRemoteDescription(desc domain.SessionDescription) error {
	media, err := inspectSDP(desc.SDP)
	if err != nil {
		return err
	}
	log.Debug().Str("type", string(desc.Type)).Strs("media", media).Int("sdp_len", len(desc.SDP)).Msg("Setting remote description")

	typ := webrtc.NewSDPType(string(desc.Type))
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", desc.Type)
	}
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: desc.SDP})
}

func (t *Transport) AddICECandidate(c domain.ICECandidate) error {
	return t.pc.AddICECandidate(candidateToPion(c))
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	return t.pc.Close()
}

// requestKeyframes sends a PLI right away and then periodically until the
// transport closes.
func (t *Transport) requestKeyframes(ssrc uint32) {
	send := func() {
		// errors here only mean the connection is going away
		_ = t.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: ssrc}})
	}
	send()

	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			send()
		}
	}
}

func addRecvOnlyTransceivers(pc *webrtc.PeerConnection) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return nil
}

// inspectSDP rejects descriptions pion could not parse and lists their media sections.
func inspectSDP(raw string) ([]string, error) {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("invalid sdp: %w", err)
	}
	media := make([]string, 0, len(parsed.MediaDescriptions))
	for _, md := range parsed.MediaDescriptions {
		media = append(media, md.MediaName.Media)
	}
	return media, nil
}

func candidateFromPion(c webrtc.ICECandidateInit) domain.ICECandidate {
	return domain.ICECandidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateToPion(c domain.ICECandidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func kindFromPion(k webrtc.RTPCodecType) domain.MediaKind {
	if k == webrtc.RTPCodecTypeVideo {
		return domain.KindVideo
	}
	return domain.KindAudio
}

func stateFromPion(s webrtc.PeerConnectionState) port.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return port.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return port.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return port.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return port.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return port.TransportClosed
	}
	return port.TransportNew
}
