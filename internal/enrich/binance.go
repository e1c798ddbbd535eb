package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"go.uber.org/zap"
	"resty.dev/v3"
)

const binanceBaseURL = "https://api.binance.com/api/v3"

// BinanceClient implements MarketDataSource against the Binance public
// 24h ticker endpoint. No API key is required for public market data.
type BinanceClient struct {
	client *resty.Client
}

func NewBinanceClient(logger *zap.Logger) *BinanceClient {
	return &BinanceClient{
		client: newRestyClient("binance", binanceBaseURL, logger),
	}
}

// Binance reports all numeric fields as strings.
type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
	OpenPrice          string `json:"openPrice"`
}

func (c *BinanceClient) MarketData(ctx context.Context, symbols []string) (map[string]models.MarketStats, error) {
	if len(symbols) == 0 {
		return map[string]models.MarketStats{}, nil
	}

	list, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}

	var tickers []binanceTicker
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", string(list)).
		SetResult(&tickers).
		Get("/ticker/24hr")
	if err != nil {
		return nil, fmt.Errorf("failed to call binance: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("binance returned status %d", resp.StatusCode())
	}

	data := make(map[string]models.MarketStats, len(tickers))
	for _, t := range tickers {
		data[t.Symbol] = models.MarketStats{
			Price:  parseFloat(t.LastPrice),
			Change: parseFloat(t.PriceChangePercent),
			Volume: parseFloat(t.Volume),
			High:   parseFloat(t.HighPrice),
			Low:    parseFloat(t.LowPrice),
			Open:   parseFloat(t.OpenPrice),
		}
	}
	return data, nil
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
