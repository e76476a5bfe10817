package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/rs/zerolog/log"
)

type startCallRequest struct {
	RemoteUserID string `json:"remoteUserId"`
	Video        bool   `json:"video"`
}

type startCallResponse struct {
	SessionID domain.SessionID `json:"sessionId"`
}

type toggleResponse struct {
	Muted         *bool `json:"muted,omitempty"`
	VideoDisabled *bool `json:"videoDisabled,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Calls.State())
}

func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req startCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.RemoteUserID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "remoteUserId is required"})
		return
	}

	id, err := h.Calls.InitiateCall(r.Context(), domain.UserID(req.RemoteUserID), req.Video)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startCallResponse{SessionID: id})
}

func (h *Handler) AcceptCall(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.Calls.AcceptCall(r.Context()))
}

func (h *Handler) RejectCall(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.Calls.RejectCall(r.Context()))
}

func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	h.command(w, h.Calls.EndCall(r.Context()))
}

func (h *Handler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	muted := h.Calls.ToggleMute(r.Context())
	writeJSON(w, http.StatusOK, toggleResponse{Muted: &muted})
}

func (h *Handler) ToggleVideo(w http.ResponseWriter, r *http.Request) {
	disabled := h.Calls.ToggleVideo(r.Context())
	writeJSON(w, http.StatusOK, toggleResponse{VideoDisabled: &disabled})
}

func (h *Handler) command(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.Calls.State())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyInCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotInCall):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMediaAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrSignalDeliveryFailed), errors.Is(err, domain.ErrTransportFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

func writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Call command failed")
	} else {
		log.Warn().Err(err).Int("status", code).Msg("Call command rejected")
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
