package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/ya-call/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the UI is served from the same local process
	CheckOrigin: func(r *http.Request) bool { return true },
}

type WSClient struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *WSClient) ID() string {
	return c.id
}

func (c *WSClient) SendEvent(ev ws.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(ev)
}

func (c *WSClient) Close() error {
	return c.conn.Close()
}

// commandDTO lets the UI drive the call over the socket as well as over REST.
type commandDTO struct {
	Type         string `json:"type"`
	RemoteUserID string `json:"remoteUserId,omitempty"`
	Video        bool   `json:"video,omitempty"`
}

type commandResult struct {
	Command   string           `json:"command"`
	OK        bool             `json:"ok"`
	Error     string           `json:"error,omitempty"`
	SessionID domain.SessionID `json:"sessionId,omitempty"`
	Value     *bool            `json:"value,omitempty"`
}

// HTTP handler
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		conn: conn,
	}

	l := log.With().Str("client_id", client.id).Logger()
	l.Info().Msg("New client connected")

	if err := client.SendEvent(ws.StateEvent(h.Calls.State())); err != nil {
		l.Error().Err(err).Msg("Failed to send initial state")
		conn.Close()
		return
	}
	h.Hub.Register(client)

	defer func() {
		l.Info().Msg("Client disconnected")
		h.Hub.Unregister(client)
	}()

	// listening for the UI
	for {
		var cmd commandDTO
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l.Error().Err(err).Msg("Unexpected close error")
			}
			break
		}

		res := h.runCommand(r.Context(), cmd)
		if err := client.SendEvent(ws.Event{Type: "command.result", Data: res}); err != nil {
			l.Error().Err(err).Msg("Failed to send command result")
			break
		}
	}
}

func (h *Handler) runCommand(ctx context.Context, cmd commandDTO) commandResult {
	res := commandResult{Command: cmd.Type}
	var err error
	switch cmd.Type {
	case "call.start":
		if cmd.RemoteUserID == "" {
			res.Error = "remoteUserId is required"
			return res
		}
		res.SessionID, err = h.Calls.InitiateCall(ctx, domain.UserID(cmd.RemoteUserID), cmd.Video)
	case "call.accept":
		err = h.Calls.AcceptCall(ctx)
	case "call.reject":
		err = h.Calls.RejectCall(ctx)
	case "call.end":
		err = h.Calls.EndCall(ctx)
	case "call.mute":
		v := h.Calls.ToggleMute(ctx)
		res.Value = &v
	case "call.video":
		v := h.Calls.ToggleVideo(ctx)
		res.Value = &v
	default:
		res.Error = "unknown command"
		return res
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = true
	return res
}
