package ws

import (
	"time"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/rs/zerolog/log"
)

const (
	EventState    = "call.state"
	EventIncoming = "call.incoming"
	EventEnded    = "call.ended"
)

// Event is what UI sockets receive.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type endedDTO struct {
	SessionID  domain.SessionID `json:"sessionId"`
	Reason     domain.EndReason `json:"reason"`
	Error      string           `json:"error,omitempty"`
	DurationMS int64            `json:"durationMs"`
}

func StateEvent(st domain.CallState) Event {
	return Event{Type: EventState, Data: st}
}

func IncomingEvent(info domain.IncomingCall) Event {
	return Event{Type: EventIncoming, Data: info}
}

func EndedEvent(ev domain.CallEnded) Event {
	dto := endedDTO{SessionID: ev.SessionID, Reason: ev.Reason, DurationMS: ev.Duration.Milliseconds()}
	if ev.Err != nil {
		dto.Error = ev.Err.Error()
	}
	return Event{Type: EventEnded, Data: dto}
}

// Hub fans call events out to every connected UI client.
type Hub struct {
	clients    map[Client]bool
	broadcast  chan Event
	register   chan Client
	unregister chan Client
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[Client]bool),
		broadcast:  make(chan Event, 64),
		register:   make(chan Client),
		unregister: make(chan Client),
		quit:       make(chan struct{}),
	}
}

// terminalPublishTimeout bounds how long Publish waits for room in the
// broadcast buffer before giving up on a call.ended event.
const terminalPublishTimeout = 5 * time.Second

// Publish queues ev for every client. State and incoming events are dropped
// when the buffer is full since a newer one follows. call.ended is the last
// event of a call so Publish waits for it.
func (h *Hub) Publish(ev Event) {
	if ev.Type == EventEnded {
		h.publishTerminal(ev)
		return
	}
	select {
	case h.broadcast <- ev:
	case <-h.quit:
	default:
		log.Warn().Str("type", ev.Type).Msg("Broadcast channel full, dropping event")
	}
}

func (h *Hub) publishTerminal(ev Event) {
	timer := time.NewTimer(terminalPublishTimeout)
	defer timer.Stop()

	select {
	case h.broadcast <- ev:
	case <-h.quit:
	case <-timer.C:
		log.Error().Str("type", ev.Type).Dur("waited", terminalPublishTimeout).Msg("Broadcast channel stuck, dropping event")
	}
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			log.Info().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				log.Info().Str("client_id", client.ID()).Int("count", len(h.clients)).Msg("Client unregistered")
			}

		case ev := <-h.broadcast:
			for client := range h.clients {
				if err := client.SendEvent(ev); err != nil {
					log.Error().Err(err).Str("client_id", client.ID()).Msg("Error sending event")
					client.Close()
					delete(h.clients, client)
				}
			}
		}
	}
}

func (h *Hub) Register(c Client) {
	select {
	case h.register <- c:
	case <-h.quit:
	}
}

func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Stop() {
	close(h.quit)
}
