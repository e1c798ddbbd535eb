// Package provider gives the pipeline one uniform streaming contract over
// every generation backend. Each backend family translates the common
// message list into its native request shape and its native event stream
// into Events, so nothing outside this package branches on backend
// identity.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/checkmate-ai/checkmate-server/internal/models"
)

// ErrUnroutableModel is returned when no family claims a model id. It is
// raised before any network call.
var ErrUnroutableModel = errors.New("no provider family claims this model")

// Event is one normalized streaming event. A stream carries zero or more
// delta events followed by exactly one terminal event: Done or Err.
type Event struct {
	Delta string
	Err   error
	Done  bool
}

// Limits bounds one generation call.
type Limits struct {
	MaxTokens   int
	Temperature float64
}

// Adapter is implemented once per backend family. The returned channel is
// lazy, finite and non-restartable; it is closed after the terminal event.
// Implementations must stop promptly when ctx is canceled.
type Adapter interface {
	Name() string
	Stream(ctx context.Context, model string, messages []models.Message, limits Limits) (<-chan Event, error)
}

// Family binds an adapter to the model ids it claims: exact aliases
// mapping short names to canonical backend ids, and model-id prefixes
// accepted verbatim.
type Family struct {
	Adapter  Adapter
	Aliases  map[string]string
	Prefixes []string
}

// Registry is the immutable routing table over all configured families.
// It is built once at startup and passed by reference; there is no
// process-global state.
type Registry struct {
	families []Family
}

func NewRegistry(families ...Family) *Registry {
	return &Registry{families: families}
}

// Resolve routes a model id to its family's adapter and the canonical
// backend model id. Alias hits win over prefix hits within a family;
// families are consulted in registration order.
func (r *Registry) Resolve(modelID string) (Adapter, string, error) {
	for _, f := range r.families {
		if canonical, ok := f.Aliases[modelID]; ok {
			return f.Adapter, canonical, nil
		}
	}
	for _, f := range r.families {
		for _, prefix := range f.Prefixes {
			if strings.HasPrefix(modelID, prefix) {
				return f.Adapter, modelID, nil
			}
		}
	}
	return nil, "", fmt.Errorf("%w: %q", ErrUnroutableModel, modelID)
}
