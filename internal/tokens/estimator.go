// Package tokens estimates how many tokens a prompt will cost before it
// is sent to a provider. Estimates are conservative: the assembler only
// needs a stable upper-ish bound to trim history against a budget.
package tokens

import (
	"github.com/checkmate-ai/checkmate-server/internal/models"
	"github.com/pkoukk/tiktoken-go"
)

const (
	// encodingName covers the GPT-4/GPT-3.5 family and is close enough
	// for the other families we route to.
	encodingName = "cl100k_base"

	// fallbackCharsPerToken is the usual ~4 chars/token approximation,
	// used when the encoding cannot be loaded.
	fallbackCharsPerToken = 4

	// perMessageOverhead accounts for role and framing tokens added by
	// the provider around each message.
	perMessageOverhead = 4
)

type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator loads the tiktoken encoding. A load failure is not fatal:
// the estimator falls back to the character heuristic.
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// ForText estimates the token cost of a single string.
func (e *Estimator) ForText(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	n := len(text) / fallbackCharsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// ForMessages estimates the token cost of a full message list, including
// per-message framing overhead.
func (e *Estimator) ForMessages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead + e.ForText(m.Content)
	}
	return total
}
