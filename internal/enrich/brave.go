package enrich

import (
	"context"
	"fmt"
	"strconv"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"go.uber.org/zap"
	"resty.dev/v3"
)

const braveBaseURL = "https://api.search.brave.com/res/v1"

// BraveClient implements WebSearcher against the Brave Search API.
type BraveClient struct {
	client *resty.Client
	apiKey string
}

func NewBraveClient(apiKey string, logger *zap.Logger) *BraveClient {
	return &BraveClient{
		client: newRestyClient("brave-search", braveBaseURL, logger),
		apiKey: apiKey,
	}
}

type braveWebResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			URL         string `json:"url"`
			Age         string `json:"age"`
			Profile     struct {
				Name string `json:"name"`
			} `json:"profile"`
		} `json:"results"`
	} `json:"web"`
}

func (c *BraveClient) Search(ctx context.Context, query string, count int) ([]models.SearchResult, error) {
	var out braveWebResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetHeader("X-Subscription-Token", c.apiKey).
		SetHeader("Accept", "application/json").
		SetQueryParam("q", query).
		SetQueryParam("count", strconv.Itoa(count)).
		SetResult(&out).
		Get("/web/search")
	if err != nil {
		return nil, fmt.Errorf("failed to call brave search: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("brave search returned status %d", resp.StatusCode())
	}

	results := make([]models.SearchResult, 0, len(out.Web.Results))
	for _, r := range out.Web.Results {
		results = append(results, models.SearchResult{
			Title:       r.Title,
			Description: r.Description,
			URL:         r.URL,
			Published:   r.Age,
			Source:      r.Profile.Name,
		})
	}
	return results, nil
}
