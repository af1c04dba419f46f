package rest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/strataline/callflow-backend/internal/domain/call"
	domainerrors "github.com/strataline/callflow-backend/internal/domain/errors"
	"github.com/strataline/callflow-backend/internal/service/callcontrol"
	"github.com/strataline/callflow-backend/internal/service/ingestion"
)

// SignatureHeader carries the provider's HMAC-SHA256 digest of the body.
const SignatureHeader = "X-Webhook-Signature"

const maxWebhookBody = 1 << 20 // 1 MiB

// Handlers holds the REST endpoint implementations.
type Handlers struct {
	dispatcher *ingestion.Dispatcher
	control    *callcontrol.Service
	logger     *slog.Logger
	version    string
	healthy    func(ctx context.Context) error
}

// NewHandlers creates the REST handlers. healthy may be nil when no
// external store needs checking.
func NewHandlers(
	dispatcher *ingestion.Dispatcher,
	control *callcontrol.Service,
	logger *slog.Logger,
	version string,
	healthy func(ctx context.Context) error,
) *Handlers {
	return &Handlers{
		dispatcher: dispatcher,
		control:    control,
		logger:     logger,
		version:    version,
		healthy:    healthy,
	}
}

type webhookResponse struct {
	Status  string    `json:"status"`
	Outcome string    `json:"outcome"`
	CallID  uuid.UUID `json:"callId"`
}

// handleWebhook is POST /api/v1/webhooks/voice.
func (h *Handlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, h.logger, domainerrors.NewMalformedEventError("failed to read request body").WithCause(err))
		return
	}

	rec, outcome, err := h.dispatcher.Ingest(r.Context(), body, r.Header.Get(SignatureHeader))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{
		Status:  "ok",
		Outcome: outcome.String(),
		CallID:  rec.ID,
	})
}

type dialRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// handleDialCall is POST /api/v1/calls.
func (h *Handlers) handleDialCall(w http.ResponseWriter, r *http.Request) {
	var req dialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, domainerrors.NewValidationError("INVALID_BODY", "request body is not valid JSON"))
		return
	}

	rec, err := h.control.Dial(r.Context(), req.From, req.To)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type listCallsResponse struct {
	Calls []*call.Call `json:"calls"`
	Count int          `json:"count"`
}

// handleListCalls is GET /api/v1/calls.
func (h *Handlers) handleListCalls(w http.ResponseWriter, r *http.Request) {
	calls, err := h.control.ListCalls(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, listCallsResponse{Calls: calls, Count: len(calls)})
}

// handleGetCall is GET /api/v1/calls/{id}.
func (h *Handlers) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callID(w, r)
	if !ok {
		return
	}
	rec, err := h.control.GetCall(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEndCall is DELETE /api/v1/calls/{id}.
func (h *Handlers) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callID(w, r)
	if !ok {
		return
	}
	rec, err := h.control.EndCall(r.Context(), id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type addNoteRequest struct {
	Note string `json:"note"`
}

// handleAddNote is PATCH /api/v1/calls/{id}/notes.
func (h *Handlers) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.callID(w, r)
	if !ok {
		return
	}
	var req addNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, h.logger, domainerrors.NewValidationError("INVALID_BODY", "request body is not valid JSON"))
		return
	}
	rec, err := h.control.AddNote(r.Context(), id, req.Note)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleHealth is GET /healthz.
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.healthy != nil {
		if err := h.healthy(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "unhealthy",
				"version": h.version,
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": h.version,
	})
}

func (h *Handlers) callID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.logger, domainerrors.NewValidationError("INVALID_CALL_ID", "call id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
