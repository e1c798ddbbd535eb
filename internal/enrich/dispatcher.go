// Package enrich augments user prompts with time-sensitive external
// context: web search results and cryptocurrency market data. Enrichment
// is best-effort; a failing or slow provider is logged and dropped, never
// surfaced to the caller.
package enrich

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// WebSearcher is the web search collaborator. An empty result list is a
// valid, non-error response.
type WebSearcher interface {
	Search(ctx context.Context, query string, count int) ([]models.SearchResult, error)
}

// MarketDataSource is the market data collaborator.
type MarketDataSource interface {
	MarketData(ctx context.Context, symbols []string) (map[string]models.MarketStats, error)
}

// Default vocabularies for the substring classifier. The heuristic is
// deliberately simple and is known to misfire on some phrasings; changing
// it changes which requests pay for external calls.
var (
	DefaultFreshnessVocab = []string{"latest", "news", "recent", "today", "headline", "happening"}
	DefaultMarketVocab    = []string{"bitcoin", "crypto", "price", "trading", "btc", "eth", "ethereum", "coin", "market cap"}
)

type Dispatcher struct {
	web    WebSearcher
	market MarketDataSource
	logger *zap.Logger

	freshnessVocab []string
	marketVocab    []string

	callTimeout    time.Duration
	overallTimeout time.Duration
	searchCount    int
	symbols        []string
}

type Option func(*Dispatcher)

func WithVocabularies(freshness, market []string) Option {
	return func(d *Dispatcher) {
		d.freshnessVocab = freshness
		d.marketVocab = market
	}
}

func WithTimeouts(perCall, overall time.Duration) Option {
	return func(d *Dispatcher) {
		d.callTimeout = perCall
		d.overallTimeout = overall
	}
}

func WithSearchCount(n int) Option {
	return func(d *Dispatcher) { d.searchCount = n }
}

func WithSymbols(symbols []string) Option {
	return func(d *Dispatcher) { d.symbols = symbols }
}

func NewDispatcher(web WebSearcher, market MarketDataSource, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		web:            web,
		market:         market,
		logger:         logger,
		freshnessVocab: DefaultFreshnessVocab,
		marketVocab:    DefaultMarketVocab,
		callTimeout:    5 * time.Second,
		overallTimeout: 8 * time.Second,
		searchCount:    5,
		symbols:        []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func matchesVocab(text string, vocab []string) bool {
	lower := strings.ToLower(text)
	for _, term := range vocab {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// NeedsWebSearch reports whether the freshness vocabulary classifies the
// text as time-sensitive.
func (d *Dispatcher) NeedsWebSearch(text string) bool {
	return matchesVocab(text, d.freshnessVocab)
}

// NeedsMarketData reports whether the market vocabulary classifies the
// text as a market question.
func (d *Dispatcher) NeedsMarketData(text string) bool {
	return matchesVocab(text, d.marketVocab)
}

// Enrich classifies userText and fans out to the triggered collaborators
// concurrently. It waits for all triggered calls to settle, bounded by the
// overall deadline, and merges whatever sections succeeded. Enrich never
// fails: the zero-value context is a valid result.
func (d *Dispatcher) Enrich(ctx context.Context, userText string) *models.EnrichmentContext {
	result := &models.EnrichmentContext{}

	wantWeb := d.web != nil && d.NeedsWebSearch(userText)
	wantMarket := d.market != nil && d.NeedsMarketData(userText)
	if !wantWeb && !wantMarket {
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, d.overallTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs error
	)
	g, ctx := errgroup.WithContext(ctx)

	if wantWeb {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
			defer cancel()

			results, err := d.web.Search(callCtx, userText, d.searchCount)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			result.WebResults = results
			return nil
		})
	}

	if wantMarket {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
			defer cancel()

			data, err := d.market.MarketData(callCtx, d.symbols)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierr.Append(errs, err)
				return nil
			}
			result.MarketData = data
			return nil
		})
	}

	// Goroutines report failures through errs, not their return value,
	// so one failing provider never cancels its sibling.
	g.Wait()

	if errs != nil {
		d.logger.Warn("enrichment degraded, continuing without failed sections",
			zap.Error(errs),
			zap.Bool("web_triggered", wantWeb),
			zap.Bool("market_triggered", wantMarket))
	}

	return result
}
