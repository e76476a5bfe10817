package http

import (
	"context"
	"net/http"

	"github.com/Wyydra/ya-call/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CallAPI is the part of service.CallService the UI surface needs.
type CallAPI interface {
	Self() domain.UserID
	InitiateCall(ctx context.Context, remote domain.UserID, isVideo bool) (domain.SessionID, error)
	AcceptCall(ctx context.Context) error
	RejectCall(ctx context.Context) error
	EndCall(ctx context.Context) error
	ToggleMute(ctx context.Context) bool
	ToggleVideo(ctx context.Context) bool
	State() domain.CallState
	OnStateChange(fn func(domain.CallState))
	OnIncomingCall(fn func(domain.IncomingCall))
	OnCallEnded(fn func(domain.CallEnded))
}

type Handler struct {
	Calls    CallAPI
	Hub      *ws.Hub
	Gatherer prometheus.Gatherer
	// StaticDir serves the UI bundle when set.
	StaticDir string
}

// NewHandler wires the facade's events into the hub.
func NewHandler(calls CallAPI, hub *ws.Hub, gatherer prometheus.Gatherer) *Handler {
	calls.OnStateChange(func(st domain.CallState) { hub.Publish(ws.StateEvent(st)) })
	calls.OnIncomingCall(func(info domain.IncomingCall) { hub.Publish(ws.IncomingEvent(info)) })
	calls.OnCallEnded(func(ev domain.CallEnded) { hub.Publish(ws.EndedEvent(ev)) })

	return &Handler{
		Calls:    calls,
		Hub:      hub,
		Gatherer: gatherer,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/call", func(r chi.Router) {
		r.Get("/", h.GetState)
		r.Post("/", h.StartCall)
		r.Post("/accept", h.AcceptCall)
		r.Post("/reject", h.RejectCall)
		r.Post("/end", h.EndCall)
		r.Post("/mute", h.ToggleMute)
		r.Post("/video", h.ToggleVideo)
	})

	r.Get("/ws", h.ServeWS)

	if h.StaticDir != "" {
		fs := http.FileServer(http.Dir(h.StaticDir))
		r.Handle("/*", fs)
	}

	return r
}
