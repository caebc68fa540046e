// Package api provides HTTP handlers for the receptionist endpoints.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/GabrielABSouza/Kumon-AI-recepcionist-sub003/internal/models"
)

// WebhookRequest is one inbound message posted by a transport integration.
type WebhookRequest struct {
	From     string `json:"from"`
	Body     string `json:"body"`
	ThreadID string `json:"thread_id,omitempty"`
}

// WebhookResult is the turn summary returned to the webhook caller.
type WebhookResult struct {
	ThreadID       string `json:"thread_id"`
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	Stage          string `json:"stage"`
	Step           string `json:"step"`
	Delivered      bool   `json:"delivered"`
	UsedFallback   bool   `json:"used_fallback,omitempty"`
	DeliveryID     string `json:"delivery_id,omitempty"`
}

// webhookHandler handles POST /webhook: one inbound user message.
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	slog.Debug("Server.webhookHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req WebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webhookHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.Body == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Message body is required"))
		return
	}

	canonicalFrom, err := s.msgService.ValidateAndCanonicalizeRecipient(req.From)
	if err != nil {
		slog.Warn("Server.webhookHandler: sender validation failed", "error", err, "from", req.From)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid phone number: "+err.Error()))
		return
	}

	result, err := s.pipeline.ProcessMessage(r.Context(), canonicalFrom, req.Body, req.ThreadID)
	if err != nil {
		slog.Error("Server.webhookHandler: pipeline failed", "error", err, "from", canonicalFrom)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}

	slog.Info("Server.webhookHandler: message processed", "from", canonicalFrom,
		"thread", result.ThreadID, "stage", result.Stage, "delivered", result.Delivered)
	writeJSONResponse(w, http.StatusOK, models.Success(WebhookResult{
		ThreadID:       result.ThreadID,
		ConversationID: result.ConversationID,
		Response:       result.Response,
		Stage:          string(result.Stage),
		Step:           string(result.Step),
		Delivered:      result.Delivered,
		UsedFallback:   result.UsedFallback,
		DeliveryID:     result.DeliveryID,
	}))
}

// conversationsHandler dispatches /conversations/{thread} requests:
//
//	GET  /conversations/{thread}            read-only state snapshot
//	GET  /conversations/{thread}/deliveries delivery audit records
//	POST /conversations/{thread}/reset      administrative reset
func (s *Server) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/conversations/")
	if rest == "" || rest == r.URL.Path {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	threadID, action, _ := strings.Cut(rest, "/")
	switch action {
	case "":
		s.getConversationHandler(w, r, threadID)
	case "deliveries":
		s.getDeliveriesHandler(w, r, threadID)
	case "reset":
		s.resetConversationHandler(w, r, threadID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// getConversationHandler returns the persisted conversation state. Reading
// never mutates the conversation.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	state, err := s.pipeline.GetState(r.Context(), threadID)
	if err != nil {
		if errors.Is(err, models.ErrConversationNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Conversation not found"))
			return
		}
		slog.Error("Server.getConversationHandler: load failed", "error", err, "thread", threadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load conversation"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

// getDeliveriesHandler returns the delivery audit trail for a thread.
func (s *Server) getDeliveriesHandler(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	records, err := s.st.GetDeliveryRecords(threadID)
	if err != nil {
		slog.Error("Server.getDeliveriesHandler: load failed", "error", err, "thread", threadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to load delivery records"))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.Success(records))
}

// resetConversationHandler deletes a conversation and its checkpoints.
func (s *Server) resetConversationHandler(w http.ResponseWriter, r *http.Request, threadID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if err := s.pipeline.Reset(r.Context(), threadID); err != nil {
		slog.Error("Server.resetConversationHandler: reset failed", "error", err, "thread", threadID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset conversation"))
		return
	}

	slog.Info("Server.resetConversationHandler: conversation reset", "thread", threadID)
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
