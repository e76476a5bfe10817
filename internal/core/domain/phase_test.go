package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTransitions(t *testing.T) {
	allowed := []struct{ from, to Phase }{
		{PhaseIdle, PhasePlacing},
		{PhaseIdle, PhaseRinging},
		{PhasePlacing, PhaseNegotiating},
		{PhasePlacing, PhaseEnded},
		{PhaseRinging, PhaseNegotiating},
		{PhaseRinging, PhaseEnded},
		{PhaseNegotiating, PhaseConnected},
		{PhaseNegotiating, PhaseEnded},
		{PhaseConnected, PhaseEnded},
		{PhaseEnded, PhaseIdle},
	}
	for _, tt := range allowed {
		assert.True(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}

	forbidden := []struct{ from, to Phase }{
		{PhaseIdle, PhaseConnected},
		{PhaseIdle, PhaseEnded},
		{PhasePlacing, PhaseConnected},
		{PhaseRinging, PhasePlacing},
		{PhaseConnected, PhaseIdle},
		{PhaseConnected, PhaseNegotiating},
		{PhaseEnded, PhasePlacing},
	}
	for _, tt := range forbidden {
		assert.False(t, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPhaseActive(t *testing.T) {
	assert.False(t, PhaseIdle.Active())
	assert.False(t, PhaseEnded.Active())
	for _, p := range []Phase{PhasePlacing, PhaseRinging, PhaseNegotiating, PhaseConnected} {
		assert.True(t, p.Active(), p.String())
	}
}

func TestPhaseMarshalsAsName(t *testing.T) {
	b, err := json.Marshal(struct {
		Phase Phase `json:"phase"`
	}{PhaseNegotiating})
	require.NoError(t, err)
	assert.JSONEq(t, `{"phase":"negotiating"}`, string(b))
	assert.Equal(t, "phase(42)", Phase(42).String())
}

func TestErrorForReason(t *testing.T) {
	assert.ErrorIs(t, ErrorForReason(ReasonBusy), ErrUserBusy)
	assert.ErrorIs(t, ErrorForReason(ReasonTransportFailed), ErrTransportFailed)
	assert.ErrorIs(t, ErrorForReason(ReasonMediaDenied), ErrMediaAccessDenied)
	assert.ErrorIs(t, ErrorForReason(ReasonSignalFailed), ErrSignalDeliveryFailed)
	assert.NoError(t, ErrorForReason(ReasonHangup))
	assert.NoError(t, ErrorForReason(ReasonMissed))
}
