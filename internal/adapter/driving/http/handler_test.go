package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/ya-call/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCalls struct {
	mock.Mock
	onState func(domain.CallState)
}

func (m *mockCalls) Self() domain.UserID { return "alice" }

func (m *mockCalls) InitiateCall(ctx context.Context, remote domain.UserID, isVideo bool) (domain.SessionID, error) {
	args := m.Called(remote, isVideo)
	return args.Get(0).(domain.SessionID), args.Error(1)
}

func (m *mockCalls) AcceptCall(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockCalls) RejectCall(ctx context.Context) error { return m.Called().Error(0) }
func (m *mockCalls) EndCall(ctx context.Context) error    { return m.Called().Error(0) }
func (m *mockCalls) ToggleMute(ctx context.Context) bool  { return m.Called().Bool(0) }
func (m *mockCalls) ToggleVideo(ctx context.Context) bool { return m.Called().Bool(0) }

func (m *mockCalls) State() domain.CallState {
	return m.Called().Get(0).(domain.CallState)
}

func (m *mockCalls) OnStateChange(fn func(domain.CallState)) { m.onState = fn }
func (m *mockCalls) OnIncomingCall(func(domain.IncomingCall)) {}
func (m *mockCalls) OnCallEnded(func(domain.CallEnded))       {}

func newTestServer(t *testing.T, calls *mockCalls) *httptest.Server {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	h := NewHandler(calls, hub, prometheus.NewRegistry())
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)
	return srv
}

func TestStartCall(t *testing.T) {
	calls := &mockCalls{}
	calls.On("InitiateCall", domain.UserID("bob"), true).Return(domain.SessionID("alice_bob_1"), nil).Once()
	srv := newTestServer(t, calls)

	resp, err := http.Post(srv.URL+"/api/call", "application/json", strings.NewReader(`{"remoteUserId":"bob","video":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	var body startCallResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, domain.SessionID("alice_bob_1"), body.SessionID)
	calls.AssertExpectations(t)
}

func TestStartCallValidation(t *testing.T) {
	srv := newTestServer(t, &mockCalls{})

	resp, err := http.Post(srv.URL+"/api/call", "application/json", strings.NewReader(`{"video":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/call", "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		path string
		call string
		err  error
		want int
	}{
		{"/api/call/accept", "AcceptCall", domain.ErrNotInCall, http.StatusConflict},
		{"/api/call/accept", "AcceptCall", domain.ErrMediaAccessDenied, http.StatusForbidden},
		{"/api/call/reject", "RejectCall", domain.ErrClosed, http.StatusServiceUnavailable},
		{"/api/call/end", "EndCall", domain.ErrSignalDeliveryFailed, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.call+"/"+tt.err.Error(), func(t *testing.T) {
			calls := &mockCalls{}
			calls.On(tt.call).Return(tt.err).Once()
			srv := newTestServer(t, calls)

			resp, err := http.Post(srv.URL+tt.path, "application/json", nil)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			var body errorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.err.Error(), body.Error)
		})
	}
}

func TestCommandReturnsState(t *testing.T) {
	calls := &mockCalls{}
	calls.On("EndCall").Return(nil).Once()
	calls.On("State").Return(domain.IdleState())
	srv := newTestServer(t, calls)

	resp, err := http.Post(srv.URL+"/api/call/end", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var st map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "idle", st["phase"])
}

func TestToggleMute(t *testing.T) {
	calls := &mockCalls{}
	calls.On("ToggleMute").Return(true).Once()
	srv := newTestServer(t, calls)

	resp, err := http.Post(srv.URL+"/api/call/mute", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body toggleResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Muted)
	assert.True(t, *body.Muted)
	assert.Nil(t, body.VideoDisabled)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &mockCalls{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketStreamsStateAndRunsCommands(t *testing.T) {
	calls := &mockCalls{}
	calls.On("State").Return(domain.IdleState())
	calls.On("InitiateCall", domain.UserID("bob"), false).Return(domain.SessionID("alice_bob_2"), nil).Once()
	srv := newTestServer(t, calls)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, ws.EventState, first["type"])

	require.NoError(t, conn.WriteJSON(commandDTO{Type: "call.start", RemoteUserID: "bob"}))
	var res struct {
		Type string        `json:"type"`
		Data commandResult `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "command.result", res.Type)
	assert.True(t, res.Data.OK)
	assert.Equal(t, domain.SessionID("alice_bob_2"), res.Data.SessionID)

	// facade events reach the socket through the hub
	calls.onState(domain.CallState{Phase: domain.PhasePlacing})
	var pushed struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, ws.EventState, pushed.Type)
	assert.Equal(t, "placing", pushed.Data["phase"])

	require.NoError(t, conn.WriteJSON(commandDTO{Type: "call.dance"}))
	require.NoError(t, conn.ReadJSON(&res))
	assert.False(t, res.Data.OK)
	assert.Equal(t, "unknown command", res.Data.Error)
	calls.AssertExpectations(t)
}
