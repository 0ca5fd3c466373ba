// Package httpapi exposes the supervisor over HTTP. Internal failures never
// surface as error payloads on the support endpoint; the customer always gets
// a polite answer with a confidence score.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	contractx "github.com/tanpawarit/Chative-Support-Supervisor/agent/contract"
	logx "github.com/tanpawarit/Chative-Support-Supervisor/pkg/logger"
)

const maxRequestBytes = 1 << 20

// degradedAnswer is the reply of last resort when a turn fails outright.
const degradedAnswer = "I'm having trouble processing your request. Please try again."

type Handler struct {
	turns  contractx.TurnRunner
	health contractx.HealthChecker
	log    zerolog.Logger
}

func New(turns contractx.TurnRunner, health contractx.HealthChecker) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("turn runner is required")
	}
	if health == nil {
		return nil, errors.New("health checker is required")
	}
	return &Handler{
		turns:  turns,
		health: health,
		log:    logx.Component("httpapi"),
	}, nil
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /support", h.handleSupport)
	mux.HandleFunc("GET /health", h.handleHealth)
}

type supportRequest struct {
	CustomerMessage string         `json:"customer_message"`
	SessionID       string         `json:"session_id"`
	CustomerID      string         `json:"customer_id,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

type supportResponse struct {
	Response             string                 `json:"response"`
	Confidence           float64                `json:"confidence"`
	SpecialistsConsulted []contractx.Specialist `json:"specialists_consulted"`
	ProcessingTimeMS     int64                  `json:"processing_time_ms"`
	SessionID            string                 `json:"session_id"`
}

func (h *Handler) handleSupport(w http.ResponseWriter, r *http.Request) {
	var req supportRequest
	body := io.LimitReader(r.Body, maxRequestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := h.turns.HandleTurn(r.Context(), contractx.TurnRequest{
		SessionID:       req.SessionID,
		CustomerID:      req.CustomerID,
		CustomerMessage: req.CustomerMessage,
		Context:         req.Context,
	})
	if err != nil {
		h.writeTurnError(w, r, req.SessionID, err)
		return
	}

	writeJSON(w, http.StatusOK, supportResponse{
		Response:             res.FinalAnswer,
		Confidence:           res.Confidence,
		SpecialistsConsulted: res.SpecialistsConsulted,
		ProcessingTimeMS:     res.Elapsed.Milliseconds(),
		SessionID:            res.SessionID,
	})
}

// writeTurnError maps turn failures onto the outward contract: validation is
// the caller's fault, cancellation is reported as unavailability, anything
// else degrades to a polite low-confidence answer.
func (h *Handler) writeTurnError(w http.ResponseWriter, r *http.Request, sessionID string, err error) {
	switch {
	case errors.Is(err, contractx.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.log.Error().Err(err).Str("session_id", sessionID).
			Str("path", r.URL.Path).Msg("turn failed")
		writeJSON(w, http.StatusOK, supportResponse{
			Response:             degradedAnswer,
			Confidence:           0.1,
			SpecialistsConsulted: []contractx.Specialist{},
			SessionID:            sessionID,
		})
	}
}

type healthResponse struct {
	Status      string                          `json:"status"`
	Specialists map[contractx.Specialist]string `json:"specialists"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := h.health.Health(r.Context())

	out := healthResponse{
		Status:      "ok",
		Specialists: make(map[contractx.Specialist]string, len(statuses)),
	}
	for id, err := range statuses {
		if err != nil {
			out.Status = "degraded"
			out.Specialists[id] = "unreachable"
			continue
		}
		out.Specialists[id] = "healthy"
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
