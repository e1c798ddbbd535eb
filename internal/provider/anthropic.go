package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/checkmate-ai/checkmate-server/internal/models"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// Anthropic streams from the Anthropic Messages API. Its wire shape
// differs from the OpenAI protocol in both the request (system prompt is
// a top-level field, not a message) and the event stream
// (content_block_delta / message_stop instead of choices/[DONE]), so the
// translation is done by hand over SSE.
type Anthropic struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type AnthropicConfig struct {
	APIKey     string
	BaseURL    string // optional override, used in tests
	HTTPClient *http.Client
}

func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Anthropic{baseURL: baseURL, apiKey: cfg.APIKey, client: client}, nil
}

func (p *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
}

func (p *Anthropic) Stream(ctx context.Context, model string, messages []models.Message, limits Limits) (<-chan Event, error) {
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   limits.MaxTokens,
		Temperature: limits.Temperature,
		Stream:      true,
	}
	for _, m := range messages {
		// Anthropic carries the system prompt outside the message list.
		if m.Role == models.RoleSystem {
			if req.System != "" {
				req.System += "\n\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("anthropic returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		p.relay(ctx, resp.Body, ch)
	}()
	return ch, nil
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// relay translates the native SSE stream into normalized Events and
// guarantees exactly one terminal event.
func (p *Anthropic) relay(ctx context.Context, body io.Reader, ch chan<- Event) {
	reader := bufio.NewReader(body)
	for {
		select {
		case <-ctx.Done():
			ch <- Event{Err: ctx.Err()}
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Upstream closed without message_stop.
				ch <- Event{Err: errors.New("anthropic stream ended unexpectedly")}
			} else {
				ch <- Event{Err: err}
			}
			return
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var ev anthropicEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
				ch <- Event{Delta: ev.Delta.Text}
			}
		case "message_stop":
			ch <- Event{Done: true}
			return
		case "error":
			ch <- Event{Err: fmt.Errorf("anthropic stream error: %s", ev.Error.Message)}
			return
		}
	}
}
