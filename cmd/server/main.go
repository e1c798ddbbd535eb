package main

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/checkmate-ai/checkmate-server/internal/api"
	"github.com/checkmate-ai/checkmate-server/internal/config"
	"github.com/checkmate-ai/checkmate-server/internal/db"
	"github.com/checkmate-ai/checkmate-server/internal/enrich"
	"github.com/checkmate-ai/checkmate-server/internal/orchestrator"
	"github.com/checkmate-ai/checkmate-server/internal/prompt"
	"github.com/checkmate-ai/checkmate-server/internal/provider"
	"github.com/checkmate-ai/checkmate-server/internal/tokens"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to initialize database",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer database.Close()

	if err := database.SeedDefaults(context.Background(), map[string]string{
		"max_tokens_per_request": strconv.Itoa(cfg.MaxTokens),
		"default_ai_model":       cfg.DefaultModel,
	}); err != nil {
		logger.Fatal("failed to seed settings", zap.Error(err))
	}

	estimator := tokens.NewEstimator()

	// Enrichment collaborators. Brave needs a key, Binance market data
	// is public.
	var searcher enrich.WebSearcher
	if cfg.BraveAPIKey != "" {
		searcher = enrich.NewBraveClient(cfg.BraveAPIKey, logger)
	} else {
		logger.Warn("BRAVE_API_KEY not set, web search enrichment disabled")
	}
	dispatcher := enrich.NewDispatcher(searcher, enrich.NewBinanceClient(logger), logger,
		enrich.WithTimeouts(cfg.EnrichCallTimeout, cfg.EnrichOverallTimeout),
		enrich.WithSearchCount(cfg.SearchResultCount),
		enrich.WithSymbols(cfg.MarketSymbols),
	)

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		logger.Fatal("failed to build provider registry", zap.Error(err))
	}

	assembler := prompt.NewAssembler(database, estimator)
	orch := orchestrator.New(database, dispatcher, assembler, registry, estimator, logger, orchestrator.Config{
		WindowSize:      cfg.HistoryWindow,
		TokenLimit:      cfg.PromptTokenLimit,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		PipelineTimeout: cfg.PipelineTimeout,
	})

	handler := api.NewHandler(database, orch, api.NewHeaderIdentity(), cfg.DefaultModel, logger)

	http.HandleFunc("/api/chat/stream", handler.HandleChatStream)
	http.HandleFunc("/api/conversations", handler.GetConversations)
	http.HandleFunc("/api/messages", handler.GetMessages)
	http.HandleFunc("/api/conversations/delete", handler.DeleteConversation)
	http.HandleFunc("/api/conversations/update", handler.UpdateConversation)

	logger.Info("starting server", zap.String("addr", cfg.HTTPAddr))
	if err := http.ListenAndServe(cfg.HTTPAddr, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}

// buildRegistry constructs the immutable adapter registry once at
// startup. Families whose credentials are missing are skipped; the local
// family is always available.
func buildRegistry(cfg *config.Config, logger *zap.Logger) (*provider.Registry, error) {
	var families []provider.Family

	if cfg.GroqAPIKey != "" {
		groq, err := provider.NewOpenAICompatible(provider.OpenAIConfig{
			Name:    "groq",
			APIKey:  cfg.GroqAPIKey,
			BaseURL: cfg.GroqBaseURL,
		})
		if err != nil {
			return nil, err
		}
		families = append(families, provider.Family{
			Adapter: groq,
			Aliases: map[string]string{
				"groq-llama-3.1-70b": "llama-3.1-70b-versatile",
				"groq-llama-3.1-8b":  "llama-3.1-8b-instant",
				"groq-mixtral":       "mixtral-8x7b-32768",
			},
			Prefixes: []string{"llama-", "mixtral-"},
		})
	} else {
		logger.Warn("GROQ_API_KEY not set, groq family disabled")
	}

	if cfg.OpenAIAPIKey != "" {
		oai, err := provider.NewOpenAICompatible(provider.OpenAIConfig{
			Name:   "openai",
			APIKey: cfg.OpenAIAPIKey,
		})
		if err != nil {
			return nil, err
		}
		families = append(families, provider.Family{
			Adapter: oai,
			Aliases: map[string]string{
				"chatgpt": "gpt-4o-mini",
			},
			Prefixes: []string{"gpt-", "o1-", "o3-"},
		})
	} else {
		logger.Warn("OPENAI_API_KEY not set, openai family disabled")
	}

	if cfg.AnthropicAPIKey != "" {
		anthropic, err := provider.NewAnthropic(provider.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			return nil, err
		}
		families = append(families, provider.Family{
			Adapter: anthropic,
			Aliases: map[string]string{
				"claude-sonnet": "claude-3-5-sonnet-20241022",
				"claude-haiku":  "claude-3-5-haiku-20241022",
			},
			Prefixes: []string{"claude-"},
		})
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, anthropic family disabled")
	}

	local, err := provider.NewLocal(cfg.LocalBaseURL, "unused", cfg.LocalModel)
	if err != nil {
		return nil, err
	}
	families = append(families, provider.Family{
		Adapter: local,
		Aliases: map[string]string{
			"local-default": cfg.LocalModel,
		},
		Prefixes: []string{"llama3", "qwen", "mistral", "phi"},
	})

	return provider.NewRegistry(families...), nil
}
