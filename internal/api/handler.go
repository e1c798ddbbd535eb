package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/checkmate-ai/checkmate-server/internal/db"
	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/checkmate-ai/checkmate-server/internal/orchestrator"
	"go.uber.org/zap"
)

type Handler struct {
	db           *db.Database
	orch         *orchestrator.Orchestrator
	identity     Identity
	defaultModel string
	logger       *zap.Logger
}

func NewHandler(database *db.Database, orch *orchestrator.Orchestrator, identity Identity, defaultModel string, logger *zap.Logger) *Handler {
	return &Handler{
		db:           database,
		orch:         orch,
		identity:     identity,
		defaultModel: defaultModel,
		logger:       logger,
	}
}

type ChatStreamRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
	ModelID        string `json:"model"`
}

type CreateConversationRequest struct {
	Title   string `json:"title"`
	ModelID string `json:"model"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

// HandleChatStream serves POST /api/chat/stream. Pre-pipeline rejections
// use plain HTTP status codes; once the request is accepted, every
// outcome arrives as server-sent events with exactly one terminal event.
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ChatStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID <= 0 || strings.TrimSpace(req.Message) == "" {
		http.Error(w, "conversation_id and message are required", http.StatusBadRequest)
		return
	}

	if _, ok := h.authorizeConversation(w, r, req.ConversationID); !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	sse := newSSEWriter(w, flusher)
	err := h.orch.ChatStream(r.Context(), orchestrator.Request{
		ConversationID: req.ConversationID,
		Message:        req.Message,
		ModelID:        req.ModelID,
	}, sse.Emit)

	if err != nil && !sse.Started() {
		switch {
		case errors.Is(err, orchestrator.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, db.ErrNotFound):
			http.Error(w, "Conversation not found", http.StatusNotFound)
		default:
			h.logger.Error("chat stream failed before streaming", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	if err != nil {
		h.logger.Error("chat stream failed",
			zap.Error(err),
			zap.Int64("conversation_id", req.ConversationID))
	}
}

// authorizeConversation loads the conversation and checks it belongs to
// the caller. Unknown and unowned conversations look the same to the
// caller; only genuine store failures surface as 500.
func (h *Handler) authorizeConversation(w http.ResponseWriter, r *http.Request, convID int64) (*models.Conversation, bool) {
	conv, err := h.db.GetConversation(r.Context(), convID)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to load conversation", zap.Error(err), zap.Int64("conversation_id", convID))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if conv.OwnerID != h.identity.Resolve(r) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return nil, false
	}
	return conv, true
}

// GetConversations handles GET (list) and POST (create) on
// /api/conversations.
func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	ownerID := h.identity.Resolve(r)

	switch r.Method {
	case http.MethodGet:
		conversations, err := h.db.ListConversations(r.Context(), ownerID)
		if err != nil {
			h.logger.Error("failed to list conversations", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, h.logger, conversations)

	case http.MethodPost:
		var req CreateConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.ModelID == "" {
			req.ModelID = h.defaultModel
		}

		conversation, err := h.db.CreateConversation(r.Context(), ownerID, req.Title, req.ModelID)
		if err != nil {
			h.logger.Error("failed to create conversation", zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, h.logger, conversation)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if _, ok := h.authorizeConversation(w, r, convID); !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := h.db.GetHistory(r.Context(), convID, limit)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Conversation not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to get messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, messages)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	if _, ok := h.authorizeConversation(w, r, convID); !ok {
		return
	}

	if err := h.db.DeleteConversation(r.Context(), convID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to delete conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if _, ok := h.authorizeConversation(w, r, convID); !ok {
		return
	}

	if err := h.db.UpdateConversationTitle(r.Context(), convID, req.Title); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, "Conversation not found", http.StatusNotFound)
			return
		}
		h.logger.Error("failed to update conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}
