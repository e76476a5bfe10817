package domain

import "fmt"

// Phase is the single source of truth for where a call is. There are no
// separate incoming/outgoing/connected flags.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlacing
	PhaseRinging
	PhaseNegotiating
	PhaseConnected
	PhaseEnded
)

var phaseNames = map[Phase]string{
	PhaseIdle:        "idle",
	PhasePlacing:     "placing",
	PhaseRinging:     "ringing",
	PhaseNegotiating: "negotiating",
	PhaseConnected:   "connected",
	PhaseEnded:       "ended",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Active reports whether a call attempt owns resources in this phase.
func (p Phase) Active() bool {
	switch p {
	case PhasePlacing, PhaseRinging, PhaseNegotiating, PhaseConnected:
		return true
	}
	return false
}

var transitions = map[Phase][]Phase{
	PhaseIdle:        {PhasePlacing, PhaseRinging},
	PhasePlacing:     {PhaseNegotiating, PhaseEnded},
	PhaseRinging:     {PhaseNegotiating, PhaseEnded},
	PhaseNegotiating: {PhaseConnected, PhaseEnded},
	PhaseConnected:   {PhaseEnded},
	PhaseEnded:       {PhaseIdle},
}

func (p Phase) CanTransition(to Phase) bool {
	for _, next := range transitions[p] {
		if next == to {
			return true
		}
	}
	return false
}

type Direction string

const (
	DirectionNone     Direction = ""
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

type EndReason string

const (
	ReasonHangup          EndReason = "hangup"
	ReasonRemoteHangup    EndReason = "remote-hangup"
	ReasonDeclined        EndReason = "declined"
	ReasonBusy            EndReason = "busy"
	ReasonNoAnswer        EndReason = "no-answer"
	ReasonMissed          EndReason = "missed"
	ReasonTransportFailed EndReason = "transport-failed"
	ReasonSignalFailed    EndReason = "signal-failed"
	ReasonMediaDenied     EndReason = "media-denied"
	ReasonShutdown        EndReason = "shutdown"
)
