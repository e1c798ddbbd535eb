// Package prompt builds the bounded, token-budgeted message list sent to
// a generation provider.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/checkmate-ai/checkmate-server/internal/tokens"
)

// BaseInstruction is the leading system prompt for every request.
const BaseInstruction = `You are a helpful AI assistant. Answer clearly and concisely. ` +
	`When external context is provided below, prefer it over your training data for ` +
	`time-sensitive questions, and cite sources from it where relevant.`

const (
	webSectionLabel    = "Web search results"
	marketSectionLabel = "Cryptocurrency market data"
)

// HistorySource is the slice of the conversation store the assembler
// needs: the most recent limit messages, oldest first.
type HistorySource interface {
	GetHistory(ctx context.Context, convID int64, limit int) ([]models.Message, error)
}

type Assembler struct {
	history   HistorySource
	estimator *tokens.Estimator
}

func NewAssembler(history HistorySource, estimator *tokens.Estimator) *Assembler {
	return &Assembler{history: history, estimator: estimator}
}

// Assemble returns the message list for one provider call: a system
// message carrying the base instruction plus any enrichment sections,
// up to windowSize history messages oldest first, then the new user
// message. Oldest history is dropped one message at a time until the
// estimated token cost fits tokenLimit; the system message and the new
// user message are never dropped.
func (a *Assembler) Assemble(ctx context.Context, convID int64, userText string, enr *models.EnrichmentContext, windowSize, tokenLimit int) ([]models.Message, error) {
	// The current user message is persisted before assembly, so the
	// fetched window ends with it; one extra message is requested so that
	// windowSize prior messages remain after it is stripped and
	// re-appended last.
	history, err := a.history.GetHistory(ctx, convID, windowSize+1)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser && history[n-1].Content == userText {
		history = history[:n-1]
	}
	if len(history) > windowSize {
		history = history[len(history)-windowSize:]
	}

	system := models.Message{
		Role:    models.RoleSystem,
		Content: systemContent(enr),
	}
	user := models.Message{
		Role:    models.RoleUser,
		Content: userText,
	}

	for {
		assembled := make([]models.Message, 0, len(history)+2)
		assembled = append(assembled, system)
		assembled = append(assembled, history...)
		assembled = append(assembled, user)

		if a.estimator.ForMessages(assembled) <= tokenLimit || len(history) == 0 {
			return assembled, nil
		}
		history = history[1:]
	}
}

func systemContent(enr *models.EnrichmentContext) string {
	var b strings.Builder
	b.WriteString(BaseInstruction)

	if enr == nil {
		return b.String()
	}

	if len(enr.WebResults) > 0 {
		b.WriteString("\n\n## " + webSectionLabel + "\n")
		for _, r := range enr.WebResults {
			b.WriteString(fmt.Sprintf("- %s: %s (%s)", r.Title, r.Description, r.URL))
			if r.Published != "" {
				b.WriteString(" [" + r.Published + "]")
			}
			b.WriteString("\n")
		}
	}

	if len(enr.MarketData) > 0 {
		b.WriteString("\n\n## " + marketSectionLabel + "\n")
		symbols := make([]string, 0, len(enr.MarketData))
		for sym := range enr.MarketData {
			symbols = append(symbols, sym)
		}
		sort.Strings(symbols)
		for _, sym := range symbols {
			s := enr.MarketData[sym]
			b.WriteString(fmt.Sprintf("- %s: price %.2f, 24h change %.2f%%, volume %.2f, high %.2f, low %.2f, open %.2f\n",
				sym, s.Price, s.Change, s.Volume, s.High, s.Low, s.Open))
		}
	}

	return b.String()
}
