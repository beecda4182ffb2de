// Package itemctx supplies the per-item context vectors that condition the
// contextual recurrent model: genre indicators, matrix factorization item
// factors, or vectors stored in a JSON file or Redis.
package itemctx

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrMissingContext is returned when an item has no context vector.
	ErrMissingContext = errors.New("missing context vector")

	// ErrDimension is returned when a vector does not match the provider's
	// dimensionality.
	ErrDimension = errors.New("context dimension mismatch")
)

// Provider maps an item key to a fixed-size context vector.
type Provider interface {
	// Vector returns the context of key. The returned slice must not be
	// modified.
	Vector(key string) ([]float64, bool)
	// Dim is the length of every vector.
	Dim() int
}

// MapProvider is an in-memory Provider.
type MapProvider struct {
	dim     int
	vectors map[string][]float64
}

// NewMapProvider creates an empty provider of the given dimensionality.
func NewMapProvider(dim int) *MapProvider {
	return &MapProvider{dim: dim, vectors: make(map[string][]float64)}
}

// Set stores a copy of vec under key.
func (p *MapProvider) Set(key string, vec []float64) error {
	if len(vec) != p.dim {
		return fmt.Errorf("%w: item %q has %d values, want %d", ErrDimension, key, len(vec), p.dim)
	}
	p.vectors[key] = append([]float64(nil), vec...)
	return nil
}

func (p *MapProvider) Vector(key string) ([]float64, bool) {
	v, ok := p.vectors[key]
	return v, ok
}

func (p *MapProvider) Dim() int {
	return p.dim
}

// Len is the number of items with a vector.
func (p *MapProvider) Len() int {
	return len(p.vectors)
}

// Keys returns the item keys in sorted order.
func (p *MapProvider) Keys() []string {
	keys := make([]string, 0, len(p.vectors))
	for k := range p.vectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ZeroProvider returns the same all-zero vector for every key. It stands in
// for datasets that carry no item context.
type ZeroProvider struct {
	zero []float64
}

// NewZeroProvider creates a zero provider of the given dimensionality.
func NewZeroProvider(dim int) *ZeroProvider {
	return &ZeroProvider{zero: make([]float64, dim)}
}

func (p *ZeroProvider) Vector(string) ([]float64, bool) {
	return p.zero, true
}

func (p *ZeroProvider) Dim() int {
	return len(p.zero)
}

// Coverage counts how many of keys have a vector in p.
func Coverage(p Provider, keys []string) (found, missing int) {
	for _, k := range keys {
		if _, ok := p.Vector(k); ok {
			found++
		} else {
			missing++
		}
	}
	return found, missing
}
