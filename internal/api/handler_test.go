package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/checkmate-ai/checkmate-server/internal/db"
	"github.com/checkmate-ai/checkmate-server/internal/enrich"
	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/checkmate-ai/checkmate-server/internal/orchestrator"
	"github.com/checkmate-ai/checkmate-server/internal/prompt"
	"github.com/checkmate-ai/checkmate-server/internal/provider"
	"github.com/checkmate-ai/checkmate-server/internal/tokens"
)

// replayAdapter streams a fixed sequence of events.
type replayAdapter struct {
	events []provider.Event
}

func (a *replayAdapter) Name() string { return "replay" }

func (a *replayAdapter) Stream(ctx context.Context, model string, messages []models.Message, limits provider.Limits) (<-chan provider.Event, error) {
	ch := make(chan provider.Event, len(a.events))
	go func() {
		defer close(ch)
		for _, ev := range a.events {
			ch <- ev
		}
	}()
	return ch, nil
}

// newTestHandler wires a real store, assembler and orchestrator behind the
// HTTP layer, with only the provider replaced by a replay fake.
func newTestHandler(t *testing.T, adapter provider.Adapter) (*Handler, *db.Database) {
	t.Helper()
	logger := zap.NewNop()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	estimator := tokens.NewEstimator()
	dispatcher := enrich.NewDispatcher(nil, nil, logger)
	assembler := prompt.NewAssembler(database, estimator)
	registry := provider.NewRegistry(provider.Family{
		Adapter:  adapter,
		Prefixes: []string{"fake-"},
	})

	orch := orchestrator.New(database, dispatcher, assembler, registry, estimator, logger, orchestrator.Config{
		WindowSize:      10,
		TokenLimit:      4000,
		MaxTokens:       2000,
		Temperature:     0.7,
		PipelineTimeout: 5 * time.Second,
	})

	return NewHandler(database, orch, NewHeaderIdentity(), "fake-model", logger), database
}

func sseLines(t *testing.T, body string) []string {
	t.Helper()
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			lines = append(lines, strings.TrimPrefix(line, "data: "))
		}
	}
	return lines
}

func postChatStream(t *testing.T, h *Handler, req ChatStreamRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/api/chat/stream", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleChatStream(w, r)
	return w
}

func TestChatStreamWireFormat(t *testing.T) {
	adapter := &replayAdapter{events: []provider.Event{
		{Delta: "Hello"}, {Delta: " world"}, {Done: true},
	}}
	h, database := newTestHandler(t, adapter)

	conv, err := database.CreateConversation(context.Background(), "demo", "", "fake-model")
	require.NoError(t, err)

	w := postChatStream(t, h, ChatStreamRequest{ConversationID: conv.ID, Message: "hi"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	lines := sseLines(t, w.Body.String())
	require.Len(t, lines, 3)
	assert.Equal(t, `{"content":"Hello"}`, lines[0])
	assert.Equal(t, `{"content":" world"}`, lines[1])
	assert.Equal(t, "[DONE]", lines[2])

	// Both sides of the exchange are durable afterwards.
	history, err := database.GetHistory(context.Background(), conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello world", history[1].Content)
}

func TestChatStreamMidStreamError(t *testing.T) {
	adapter := &replayAdapter{events: []provider.Event{
		{Delta: "partial"}, {Err: assert.AnError},
	}}
	h, database := newTestHandler(t, adapter)

	conv, err := database.CreateConversation(context.Background(), "demo", "", "fake-model")
	require.NoError(t, err)

	w := postChatStream(t, h, ChatStreamRequest{ConversationID: conv.ID, Message: "hi"})

	// Headers were already sent, so the failure rides the stream.
	assert.Equal(t, http.StatusOK, w.Code)
	lines := sseLines(t, w.Body.String())
	require.Len(t, lines, 2)
	assert.Equal(t, `{"content":"partial"}`, lines[0])
	assert.Contains(t, lines[1], `"error"`)

	history, err := database.GetHistory(context.Background(), conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "partial [incomplete]", history[1].Content)
}

func TestChatStreamUnroutableModel(t *testing.T) {
	h, database := newTestHandler(t, &replayAdapter{})

	conv, err := database.CreateConversation(context.Background(), "demo", "", "fake-model")
	require.NoError(t, err)

	w := postChatStream(t, h, ChatStreamRequest{ConversationID: conv.ID, Message: "hi", ModelID: "foo-bar"})

	// The user message was already accepted, so this is a wire error,
	// not an HTTP status.
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	lines := sseLines(t, w.Body.String())
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"error"`)

	history, err := database.GetHistory(context.Background(), conv.ID, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.RoleUser, history[0].Role)
}

func TestChatStreamUnknownConversation(t *testing.T) {
	h, _ := newTestHandler(t, &replayAdapter{})

	w := postChatStream(t, h, ChatStreamRequest{ConversationID: 9999, Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChatStreamUnownedConversation(t *testing.T) {
	h, database := newTestHandler(t, &replayAdapter{})

	conv, err := database.CreateConversation(context.Background(), "someone-else", "", "fake-model")
	require.NoError(t, err)

	w := postChatStream(t, h, ChatStreamRequest{ConversationID: conv.ID, Message: "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code, "unowned looks identical to unknown")
}

func TestChatStreamValidation(t *testing.T) {
	h, _ := newTestHandler(t, &replayAdapter{})

	cases := []ChatStreamRequest{
		{ConversationID: 0, Message: "hi"},
		{ConversationID: 1, Message: ""},
		{ConversationID: 1, Message: "   "},
	}
	for _, tc := range cases {
		w := postChatStream(t, h, tc)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.HandleChatStream(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/api/chat/stream", nil)
	w = httptest.NewRecorder()
	h.HandleChatStream(w, r)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestConversationLifecycle(t *testing.T) {
	h, _ := newTestHandler(t, &replayAdapter{})

	// Create with the default model filled in.
	body, _ := json.Marshal(CreateConversationRequest{Title: "First"})
	w := httptest.NewRecorder()
	h.GetConversations(w, httptest.NewRequest(http.MethodPost, "/api/conversations", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, w.Code)

	var created models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "First", created.Title)
	assert.Equal(t, "fake-model", created.ModelID)
	assert.Equal(t, "demo", created.OwnerID)

	// List sees it.
	w = httptest.NewRecorder()
	h.GetConversations(w, httptest.NewRequest(http.MethodGet, "/api/conversations", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var listed []models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)

	// Rename it.
	body, _ = json.Marshal(UpdateConversationRequest{Title: "Renamed"})
	w = httptest.NewRecorder()
	h.UpdateConversation(w, httptest.NewRequest(http.MethodPut, "/api/conversations/update?conversation_id=1", bytes.NewReader(body)))
	assert.Equal(t, http.StatusOK, w.Code)

	// Messages endpoint answers for it.
	w = httptest.NewRecorder()
	h.GetMessages(w, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	assert.Empty(t, msgs)

	// Delete it, then everything 404s.
	w = httptest.NewRecorder()
	h.DeleteConversation(w, httptest.NewRequest(http.MethodDelete, "/api/conversations/delete?conversation_id=1", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.GetMessages(w, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCrossOwnerAccessDenied(t *testing.T) {
	h, database := newTestHandler(t, &replayAdapter{})

	conv, err := database.CreateConversation(context.Background(), "alice", "hers", "fake-model")
	require.NoError(t, err)

	// All id-addressed operations from the default demo user must look
	// like the conversation does not exist.
	w := httptest.NewRecorder()
	h.GetMessages(w, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	body, _ := json.Marshal(UpdateConversationRequest{Title: "hijacked"})
	w = httptest.NewRecorder()
	h.UpdateConversation(w, httptest.NewRequest(http.MethodPut, "/api/conversations/update?conversation_id=1", bytes.NewReader(body)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.DeleteConversation(w, httptest.NewRequest(http.MethodDelete, "/api/conversations/delete?conversation_id=1", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Nothing was mutated.
	got, err := database.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hers", got.Title)

	// The owner herself still gets through.
	r := httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=1", nil)
	r.Header.Set("X-User-ID", "alice")
	w = httptest.NewRecorder()
	h.GetMessages(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStoreFailureIsInternalError(t *testing.T) {
	h, database := newTestHandler(t, &replayAdapter{})

	conv, err := database.CreateConversation(context.Background(), "demo", "", "fake-model")
	require.NoError(t, err)
	require.NoError(t, database.Close())

	// A broken store is a 500, never a 404.
	w := postChatStream(t, h, ChatStreamRequest{ConversationID: conv.ID, Message: "hi"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = httptest.NewRecorder()
	h.GetMessages(w, httptest.NewRequest(http.MethodGet, "/api/messages?conversation_id=1", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestIdentityHeaderScopesListing(t *testing.T) {
	h, database := newTestHandler(t, &replayAdapter{})

	_, err := database.CreateConversation(context.Background(), "alice", "hers", "fake-model")
	require.NoError(t, err)
	_, err = database.CreateConversation(context.Background(), "demo", "mine", "fake-model")
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	r.Header.Set("X-User-ID", "alice")
	w := httptest.NewRecorder()
	h.GetConversations(w, r)

	var listed []models.Conversation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "hers", listed[0].Title)
}
