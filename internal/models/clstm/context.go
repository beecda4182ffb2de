package clstm

import (
	"fmt"
	"strconv"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/pkg/itemctx"
)

// ContextLookup resolves the context vectors of a window of item IDs.
type ContextLookup struct {
	provider itemctx.Provider
	keyOf    func(id int) string
	policy   string
	observer Observer

	zero   []float64
	warned map[string]bool
}

// NewContextLookup resolves item IDs through keyOf (the raw item key of an
// ID) and provider. A nil keyOf uses the decimal ID itself as key. policy is
// MissingError or MissingZero.
func NewContextLookup(provider itemctx.Provider, keyOf func(int) string, policy string, observer Observer) *ContextLookup {
	if keyOf == nil {
		keyOf = strconv.Itoa
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &ContextLookup{
		provider: provider,
		keyOf:    keyOf,
		policy:   policy,
		observer: observer,
		zero:     make([]float64, provider.Dim()),
		warned:   make(map[string]bool),
	}
}

// Dim is the context dimensionality.
func (c *ContextLookup) Dim() int {
	return c.provider.Dim()
}

// Vector returns the context of one item ID.
func (c *ContextLookup) Vector(id int) ([]float64, error) {
	key := c.keyOf(id)
	if v, ok := c.provider.Vector(key); ok {
		return v, nil
	}

	if c.policy != MissingZero {
		return nil, fmt.Errorf("%w: item %q (id %d)", itemctx.ErrMissingContext, key, id)
	}

	c.observer.ObserveMissingContext(key)
	if !c.warned[key] {
		c.warned[key] = true
		logging.Warn().Str("item", key).Int("id", id).Msg("no context vector, using zeros")
	}
	return c.zero, nil
}

// Window returns the contexts of x, shaped like x.
func (c *ContextLookup) Window(x [][]int) ([][][]float64, error) {
	out := make([][][]float64, len(x))
	for b, row := range x {
		out[b] = make([][]float64, len(row))
		for t, id := range row {
			v, err := c.Vector(id)
			if err != nil {
				return nil, err
			}
			out[b][t] = v
		}
	}
	return out, nil
}
