package models

// SearchResult is one entry returned by the web search collaborator.
type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Published   string `json:"published,omitempty"`
	Source      string `json:"source,omitempty"`
}

// MarketStats is the 24h snapshot for one trading symbol.
type MarketStats struct {
	Price  float64 `json:"price"`
	Change float64 `json:"change"`
	Volume float64 `json:"volume"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Open   float64 `json:"open"`
}

// EnrichmentContext carries whatever external context was fetched for a
// request. It is never persisted. A nil field means the corresponding
// provider was not triggered or failed.
type EnrichmentContext struct {
	WebResults []SearchResult
	MarketData map[string]MarketStats
}

// Empty reports whether no enrichment section succeeded.
func (e *EnrichmentContext) Empty() bool {
	return e == nil || (len(e.WebResults) == 0 && len(e.MarketData) == 0)
}
