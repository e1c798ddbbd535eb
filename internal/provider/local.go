package provider

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/checkmate-ai/checkmate-server/internal/models"
)

// Local streams from a self-hosted, ollama-style endpoint through
// langchaingo. It mainly serves development setups without API keys.
type Local struct {
	llm *openai.LLM
}

func NewLocal(baseURL, token, defaultModel string) (*Local, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(defaultModel),
	)
	if err != nil {
		return nil, err
	}
	return &Local{llm: llm}, nil
}

func (p *Local) Name() string { return "local" }

func (p *Local) Stream(ctx context.Context, model string, messages []models.Message, limits Limits) (<-chan Event, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(chatMessageType(m.Role), m.Content))
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		_, err := p.llm.GenerateContent(ctx, content,
			llms.WithModel(model),
			llms.WithMaxTokens(limits.MaxTokens),
			llms.WithTemperature(limits.Temperature),
			llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				select {
				case ch <- Event{Delta: string(chunk)}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			ch <- Event{Err: err}
			return
		}
		ch <- Event{Done: true}
	}()
	return ch, nil
}

func chatMessageType(role models.Role) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
