// Package orchestrator coordinates one chat-stream request end to end:
// persist the user message, enrich, assemble the prompt, dispatch to a
// provider, relay normalized deltas, and persist the assistant message —
// completely or tagged incomplete — under any partial failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/checkmate-ai/checkmate-server/internal/provider"
	"github.com/checkmate-ai/checkmate-server/internal/tokens"
)

var (
	// ErrBusy rejects a request whose conversation already has a
	// generation in flight. Nothing is mutated.
	ErrBusy = errors.New("a generation is already in progress for this conversation")

	// ErrTimeout reports that the overall pipeline deadline expired.
	ErrTimeout = errors.New("pipeline deadline exceeded")
)

// incompleteTag marks assistant messages persisted after a broken stream.
const incompleteTag = "[incomplete]"

// state tracks where a request is in its lifecycle, for logging and for
// the single-flight guard.
type state string

const (
	stateReceived         state = "RECEIVED"
	statePersistUser      state = "PERSIST_USER"
	stateEnrich           state = "ENRICH"
	stateAssemble         state = "ASSEMBLE"
	stateDispatch         state = "DISPATCH"
	stateStreaming        state = "STREAMING"
	statePersistAssistant state = "PERSIST_ASSISTANT"
	stateDone             state = "DONE"
	stateFailed           state = "FAILED"
)

// Store is the slice of the conversation store the orchestrator needs.
type Store interface {
	GetConversation(ctx context.Context, id int64) (*models.Conversation, error)
	AppendMessage(ctx context.Context, convID int64, role models.Role, content, modelID string, tokenCount int) (*models.Message, error)
	UpdateConversationTitle(ctx context.Context, id int64, title string) error
}

// Enricher fetches external context; it never fails (see enrich package).
type Enricher interface {
	Enrich(ctx context.Context, userText string) *models.EnrichmentContext
}

// Assembler builds the bounded prompt.
type Assembler interface {
	Assemble(ctx context.Context, convID int64, userText string, enr *models.EnrichmentContext, windowSize, tokenLimit int) ([]models.Message, error)
}

// Router resolves a model id to an adapter and canonical backend model.
type Router interface {
	Resolve(modelID string) (provider.Adapter, string, error)
}

// EmitFunc delivers one normalized chunk to the client. An error means
// the client is unreachable.
type EmitFunc func(models.StreamChunk) error

type Request struct {
	ConversationID int64
	Message        string
	ModelID        string // optional per-request override of the conversation model
}

type Config struct {
	WindowSize      int
	TokenLimit      int
	MaxTokens       int
	Temperature     float64
	PipelineTimeout time.Duration
	PersistTimeout  time.Duration
}

type Orchestrator struct {
	store     Store
	enricher  Enricher
	assembler Assembler
	router    Router
	estimator *tokens.Estimator
	logger    *zap.Logger
	cfg       Config

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func New(store Store, enricher Enricher, assembler Assembler, router Router, estimator *tokens.Estimator, logger *zap.Logger, cfg Config) *Orchestrator {
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:     store,
		enricher:  enricher,
		assembler: assembler,
		router:    router,
		estimator: estimator,
		logger:    logger,
		cfg:       cfg,
		inFlight:  make(map[int64]struct{}),
	}
}

// acquire reserves the conversation for this request. At most one
// generation may be in flight per conversation id.
func (o *Orchestrator) acquire(convID int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[convID]; busy {
		return false
	}
	o.inFlight[convID] = struct{}{}
	return true
}

func (o *Orchestrator) release(convID int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, convID)
}

// ChatStream runs the full pipeline for one request. Failures before the
// request is accepted (unknown conversation, busy conversation) are
// returned without emitting anything, so the transport can answer with a
// plain status code. Once the user message is persisted the request owns
// its stream: every outcome, success or failure, is delivered as exactly
// one terminal chunk through emit, and the error is also returned for
// logging.
func (o *Orchestrator) ChatStream(ctx context.Context, req Request, emit EmitFunc) error {
	requestID := uuid.NewString()
	log := o.logger.With(
		zap.String("request_id", requestID),
		zap.Int64("conversation_id", req.ConversationID),
	)

	st := stateReceived

	if !o.acquire(req.ConversationID) {
		log.Warn("rejected concurrent generation", zap.String("state", string(st)))
		return ErrBusy
	}
	defer o.release(req.ConversationID)

	conv, err := o.store.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return err
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = conv.ModelID
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.PipelineTimeout)
	defer cancel()

	// PERSIST_USER runs before any external call so the input survives
	// any downstream failure.
	st = statePersistUser
	userMsg, err := o.store.AppendMessage(ctx, conv.ID, models.RoleUser, req.Message, modelID, o.estimator.ForText(req.Message))
	if err != nil {
		log.Error("failed to persist user message", zap.Error(err), zap.String("state", string(st)))
		return fmt.Errorf("failed to persist user message: %w", err)
	}
	o.maybeTitle(ctx, conv, req.Message, log)

	// ENRICH absorbs all its failures internally.
	st = stateEnrich
	enr := o.enricher.Enrich(ctx, req.Message)

	st = stateAssemble
	prompt, err := o.assembler.Assemble(ctx, conv.ID, req.Message, enr, o.cfg.WindowSize, o.cfg.TokenLimit)
	if err != nil {
		return o.fail(ctx, log, st, emit, err)
	}

	st = stateDispatch
	adapter, canonicalModel, err := o.router.Resolve(modelID)
	if err != nil {
		log.Warn("unroutable model", zap.String("model", modelID), zap.String("state", string(st)))
		return o.fail(ctx, log, st, emit, err)
	}

	limits := provider.Limits{MaxTokens: o.cfg.MaxTokens, Temperature: o.cfg.Temperature}
	events, err := adapter.Stream(ctx, canonicalModel, prompt, limits)
	if err != nil {
		return o.fail(ctx, log, st, emit, o.classify(ctx, err))
	}

	st = stateStreaming
	log.Info("streaming",
		zap.String("provider", adapter.Name()),
		zap.String("model", canonicalModel),
		zap.Int("prompt_messages", len(prompt)),
		zap.Int64("user_message_id", userMsg.ID),
	)

	var acc strings.Builder
	for event := range events {
		switch {
		case event.Err != nil:
			return o.failPartial(ctx, log, emit, conv, modelID, acc.String(), o.classify(ctx, event.Err))
		case event.Done:
			return o.finish(ctx, log, emit, conv, modelID, acc.String())
		default:
			acc.WriteString(event.Delta)
			if err := emit(models.ContentChunk(event.Delta)); err != nil {
				// Client gone: cancel upstream and persist what we have.
				cancel()
				return o.failPartial(ctx, log, emit, conv, modelID, acc.String(), fmt.Errorf("client disconnected: %w", err))
			}
		}
	}

	// The adapter closed its channel without a terminal event; treat it
	// as a broken stream.
	return o.failPartial(ctx, log, emit, conv, modelID, acc.String(), errors.New("provider stream ended without terminal event"))
}

// classify maps low-level errors onto the failure taxonomy: a tripped
// pipeline deadline is Timeout, everything else stays a provider error.
func (o *Orchestrator) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

// finish runs PERSIST_ASSISTANT for a complete generation; DONE is
// reached only after the message is durably stored.
func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, emit EmitFunc, conv *models.Conversation, modelID, content string) error {
	persistCtx, cancel := o.persistContext(ctx)
	defer cancel()

	if _, err := o.store.AppendMessage(persistCtx, conv.ID, models.RoleAssistant, content, modelID, o.estimator.ForText(content)); err != nil {
		log.Error("failed to persist assistant message", zap.Error(err), zap.String("state", string(statePersistAssistant)))
		return o.fail(ctx, log, statePersistAssistant, emit, fmt.Errorf("failed to persist assistant message: %w", err))
	}

	if err := emit(models.DoneChunk()); err != nil {
		log.Warn("client disconnected before terminal event", zap.Error(err))
	}
	log.Info("request complete", zap.String("state", string(stateDone)), zap.Int("content_bytes", len(content)))
	return nil
}

// failPartial flushes whatever deltas were accumulated before failing:
// partial text is persisted tagged incomplete, no deltas means no
// assistant message at all.
func (o *Orchestrator) failPartial(ctx context.Context, log *zap.Logger, emit EmitFunc, conv *models.Conversation, modelID, partial string, cause error) error {
	if partial != "" {
		persistCtx, cancel := o.persistContext(ctx)
		defer cancel()

		tagged := partial + " " + incompleteTag
		if _, err := o.store.AppendMessage(persistCtx, conv.ID, models.RoleAssistant, tagged, modelID, o.estimator.ForText(tagged)); err != nil {
			log.Error("failed to persist partial assistant message", zap.Error(err))
		} else {
			log.Info("persisted partial assistant message", zap.Int("content_bytes", len(partial)))
		}
	}
	return o.fail(ctx, log, stateStreaming, emit, cause)
}

// fail emits the single terminal error chunk and returns the cause.
func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, from state, emit EmitFunc, cause error) error {
	log.Error("pipeline failed",
		zap.Error(cause),
		zap.String("state", string(from)),
		zap.String("to", string(stateFailed)))
	if err := emit(models.ErrorChunk(cause.Error())); err != nil {
		log.Warn("could not deliver terminal error", zap.Error(err))
	}
	return cause
}

// persistContext detaches persistence from a possibly canceled request
// context so partial results survive client disconnects.
func (o *Orchestrator) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
}

// maybeTitle gives a fresh conversation a title derived from its first
// user message. Best effort.
func (o *Orchestrator) maybeTitle(ctx context.Context, conv *models.Conversation, message string, log *zap.Logger) {
	if conv.Title != "" && conv.Title != "New Conversation" {
		return
	}
	title := titleFromMessage(message)
	if err := o.store.UpdateConversationTitle(ctx, conv.ID, title); err != nil {
		log.Warn("failed to update conversation title", zap.Error(err))
		return
	}
	conv.Title = title
}

func titleFromMessage(message string) string {
	content := strings.TrimSpace(message)
	if content == "" {
		return "New Conversation"
	}
	if len(content) <= 60 {
		return content
	}
	truncated := content[:60]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 30 {
		return content[:lastSpace] + "..."
	}
	return truncated + "..."
}
