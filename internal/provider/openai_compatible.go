package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/checkmate-ai/checkmate-server/internal/models"
)

// OpenAICompatible streams chat completions from any backend speaking the
// OpenAI wire protocol. One instance serves one family; OpenAI itself and
// Groq are both wired through it with different base URLs and alias
// tables.
type OpenAICompatible struct {
	name   string
	client *openai.Client
}

type OpenAIConfig struct {
	Name       string
	APIKey     string
	BaseURL    string // optional; for Groq or self-hosted servers
	HTTPClient *http.Client
}

func NewOpenAICompatible(cfg OpenAIConfig) (*OpenAICompatible, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &OpenAICompatible{name: cfg.Name, client: openai.NewClientWithConfig(config)}, nil
}

func (p *OpenAICompatible) Name() string { return p.name }

func (p *OpenAICompatible) Stream(ctx context.Context, model string, messages []models.Message, limits Limits) (<-chan Event, error) {
	in := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		in = append(in, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    in,
		MaxTokens:   limits.MaxTokens,
		Temperature: float32(limits.Temperature),
		Stream:      true,
	}
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					ch <- Event{Done: true}
					return
				}
				ch <- Event{Err: err}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case ch <- Event{Delta: choice.Delta.Content}:
				case <-ctx.Done():
					ch <- Event{Err: ctx.Err()}
					return
				}
			}
		}
	}()
	return ch, nil
}
