package prompt

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/checkmate-ai/checkmate-server/internal/tokens"
)

type stubHistory struct {
	messages []models.Message
}

func (s *stubHistory) GetHistory(ctx context.Context, convID int64, limit int) ([]models.Message, error) {
	if limit >= len(s.messages) {
		return s.messages, nil
	}
	return s.messages[len(s.messages)-limit:], nil
}

func historyOf(n int) *stubHistory {
	msgs := make([]models.Message, 0, n)
	for i := 0; i < n; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msgs = append(msgs, models.Message{
			ID:      int64(i + 1),
			Role:    role,
			Content: fmt.Sprintf("history message number %d with a bit of padding text", i+1),
		})
	}
	return &stubHistory{messages: msgs}
}

func TestAssembleShape(t *testing.T) {
	a := NewAssembler(historyOf(4), tokens.NewEstimator())

	got, err := a.Assemble(context.Background(), 1, "new question", nil, 10, 100000)
	require.NoError(t, err)
	require.Len(t, got, 6)

	assert.Equal(t, models.RoleSystem, got[0].Role)
	assert.Contains(t, got[0].Content, "helpful AI assistant")
	assert.Equal(t, "history message number 1 with a bit of padding text", got[1].Content)
	assert.Equal(t, models.RoleUser, got[5].Role)
	assert.Equal(t, "new question", got[5].Content)
}

func TestEnrichmentSections(t *testing.T) {
	a := NewAssembler(historyOf(0), tokens.NewEstimator())

	marketOnly := &models.EnrichmentContext{
		MarketData: map[string]models.MarketStats{
			"BTCUSDT": {Price: 97123.45, Change: -1.2},
		},
	}
	got, err := a.Assemble(context.Background(), 1, "What's the Bitcoin price?", marketOnly, 10, 100000)
	require.NoError(t, err)
	assert.Contains(t, got[0].Content, "Cryptocurrency market data")
	assert.Contains(t, got[0].Content, "BTCUSDT")
	assert.NotContains(t, got[0].Content, "Web search results")

	webOnly := &models.EnrichmentContext{
		WebResults: []models.SearchResult{
			{Title: "AI news", Description: "things happened", URL: "https://example.com", Published: "2d ago"},
		},
	}
	got, err = a.Assemble(context.Background(), 1, "latest AI news", webOnly, 10, 100000)
	require.NoError(t, err)
	assert.Contains(t, got[0].Content, "Web search results")
	assert.Contains(t, got[0].Content, "https://example.com")
	assert.NotContains(t, got[0].Content, "Cryptocurrency market data")
}

func TestBudgetNeverExceeded(t *testing.T) {
	est := tokens.NewEstimator()
	a := NewAssembler(historyOf(15), est)

	// Find the full cost, then squeeze the budget below it.
	full, err := a.Assemble(context.Background(), 1, "new question", nil, 10, 1<<30)
	require.NoError(t, err)
	fullCost := est.ForMessages(full)

	for _, limit := range []int{fullCost, fullCost - 1, fullCost / 2, fullCost / 4} {
		got, err := a.Assemble(context.Background(), 1, "new question", nil, 10, limit)
		require.NoError(t, err)

		historyLen := len(got) - 2
		if historyLen > 0 {
			assert.LessOrEqual(t, est.ForMessages(got), limit,
				"estimate must fit the limit while history remains droppable")
		}
		assert.Equal(t, models.RoleSystem, got[0].Role)
		assert.Equal(t, "new question", got[len(got)-1].Content)
	}
}

func TestTinyLimitDropsHistoryNotEndpoints(t *testing.T) {
	a := NewAssembler(historyOf(15), tokens.NewEstimator())

	got, err := a.Assemble(context.Background(), 1, "new question", nil, 10, 60)
	require.NoError(t, err)

	assert.Less(t, len(got)-2, 10, "history must shrink under a tiny budget")
	assert.Equal(t, models.RoleSystem, got[0].Role)
	assert.Equal(t, models.RoleUser, got[len(got)-1].Role)
	assert.Equal(t, "new question", got[len(got)-1].Content)
}

func TestExhaustedHistoryKeepsSystemAndUser(t *testing.T) {
	a := NewAssembler(historyOf(15), tokens.NewEstimator())

	got, err := a.Assemble(context.Background(), 1, "new question", nil, 10, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, models.RoleSystem, got[0].Role)
	assert.Equal(t, models.RoleUser, got[1].Role)
}

func TestOldestDroppedFirst(t *testing.T) {
	est := tokens.NewEstimator()
	a := NewAssembler(historyOf(6), est)

	full, err := a.Assemble(context.Background(), 1, "q", nil, 10, 1<<30)
	require.NoError(t, err)

	// One token under the full cost forces exactly one drop, and it must
	// be the oldest history message.
	squeezed, err := a.Assemble(context.Background(), 1, "q", nil, 10, est.ForMessages(full)-1)
	require.NoError(t, err)
	require.Len(t, squeezed, len(full)-1)
	assert.Contains(t, squeezed[1].Content, "number 2")
}

func TestPersistedUserMessageNotDuplicated(t *testing.T) {
	history := historyOf(2)
	history.messages = append(history.messages, models.Message{
		ID:      3,
		Role:    models.RoleUser,
		Content: "new question",
	})
	a := NewAssembler(history, tokens.NewEstimator())

	got, err := a.Assemble(context.Background(), 1, "new question", nil, 10, 100000)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "new question", got[3].Content)
	assert.NotEqual(t, "new question", got[2].Content)
}

func TestWindowCoversPriorHistoryInFull(t *testing.T) {
	// Five prior messages plus the persisted current one: a window of
	// five must keep all five prior messages, not four.
	history := historyOf(5)
	history.messages = append(history.messages, models.Message{
		ID:      6,
		Role:    models.RoleUser,
		Content: "new question",
	})
	a := NewAssembler(history, tokens.NewEstimator())

	got, err := a.Assemble(context.Background(), 1, "new question", nil, 5, 100000)
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Contains(t, got[1].Content, "number 1")
	assert.Contains(t, got[5].Content, "number 5")
	assert.Equal(t, "new question", got[6].Content)
}
