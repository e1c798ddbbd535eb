// Package config holds all environment-backed configuration.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// HTTP server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8100"`
	DBPath   string `env:"DB_PATH" envDefault:"checkmate.db"`

	// Pipeline
	DefaultModel     string        `env:"DEFAULT_MODEL" envDefault:"groq-llama-3.1-70b"`
	HistoryWindow    int           `env:"HISTORY_WINDOW" envDefault:"10"`
	PromptTokenLimit int           `env:"PROMPT_TOKEN_LIMIT" envDefault:"4000"`
	MaxTokens        int           `env:"MAX_TOKENS_PER_REQUEST" envDefault:"2000"`
	Temperature      float64       `env:"TEMPERATURE" envDefault:"0.7"`
	PipelineTimeout  time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"120s"`

	// Enrichment
	EnrichCallTimeout    time.Duration `env:"ENRICH_CALL_TIMEOUT" envDefault:"5s"`
	EnrichOverallTimeout time.Duration `env:"ENRICH_TIMEOUT" envDefault:"8s"`
	SearchResultCount    int           `env:"SEARCH_RESULT_COUNT" envDefault:"5"`
	MarketSymbols        []string      `env:"MARKET_SYMBOLS" envDefault:"BTCUSDT,ETHUSDT,SOLUSDT"`

	// Collaborator credentials. A missing key disables that provider
	// family or enrichment source; nothing else breaks.
	BraveAPIKey     string `env:"BRAVE_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	GroqAPIKey      string `env:"GROQ_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	GroqBaseURL  string `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	LocalBaseURL string `env:"LOCAL_BASE_URL" envDefault:"http://localhost:11434/v1/"`
	LocalModel   string `env:"LOCAL_MODEL" envDefault:"llama3.1:8b"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
