package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"lead-qualifier/internal/domain"
	"lead-qualifier/internal/usecase"
)

type triggerRequest struct {
	LeadID string `json:"leadId" validate:"required"`
}

type cancelResponse struct {
	LeadID    string `json:"leadId"`
	Cancelled bool   `json:"cancelled"`
}

type sessionResponse struct {
	Active       bool            `json:"active"`
	Phone        string          `json:"phone"`
	Session      *domain.Session `json:"session,omitempty"`
	PendingStart bool            `json:"pendingStart"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_json"})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "lead_id_required"})
		return
	}

	out, err := h.deps.Welcome.Trigger(r.Context(), req.LeadID)
	if err != nil {
		h.deps.Logger.Warn("trigger failed", zap.String("lead_id", req.LeadID), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) cancelPending(w http.ResponseWriter, r *http.Request) {
	leadID := chi.URLParam(r, "leadId")
	cancelled, err := h.deps.Welcome.CancelPending(r.Context(), leadID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{LeadID: leadID, Cancelled: cancelled})
}

// sessionSnapshot reports the stored conversation state for a phone number.
func (h *Handler) sessionSnapshot(w http.ResponseWriter, r *http.Request) {
	phone := domain.NormalizePhone(chi.URLParam(r, "phone"))
	if phone == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "phone_required"})
		return
	}

	s, ok, err := h.deps.Sessions.Get(r.Context(), phone)
	if err != nil {
		h.deps.Logger.Error("session lookup failed", zap.String("phone", domain.MaskPhone(phone)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "session_get_error"})
		return
	}
	resp := sessionResponse{Active: ok, Phone: phone, PendingStart: h.deps.Pending.Pending(phone)}
	if ok {
		resp.Session = &s
	}
	writeJSON(w, http.StatusOK, resp)
}
