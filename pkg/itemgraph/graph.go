// Package itemgraph builds a weighted item co-occurrence graph from
// consumption streams and samples random walks and skip-gram pairs from it.
package itemgraph

import (
	"math/rand"
	"sort"

	"github.com/cnclabs/contextrec/internal/logging"
)

// PowerSample flattens the degree distribution used for negative sampling.
const PowerSample = 0.75

// Graph is an undirected weighted graph over item IDs 0..n-1. Two items are
// linked with weight equal to the number of times they appear within window
// positions of each other.
type Graph struct {
	neighbors [][]int
	weights   [][]float64
	degree    []float64

	neighborAT []*Alias
	negativeAT *Alias
	numEdges   int
}

// FromStream builds the graph of one token stream.
func FromStream(stream []int, numItems, window int) *Graph {
	return FromSequences([][]int{stream}, numItems, window)
}

// FromSequences builds the graph of several streams. IDs outside
// [0, numItems) are ignored.
func FromSequences(seqs [][]int, numItems, window int) *Graph {
	if window < 1 {
		window = 1
	}
	adj := make([]map[int]float64, numItems)
	link := func(a, b int) {
		if adj[a] == nil {
			adj[a] = make(map[int]float64)
		}
		adj[a][b]++
	}

	for _, seq := range seqs {
		for i, a := range seq {
			if a < 0 || a >= numItems {
				continue
			}
			for j := i + 1; j <= i+window && j < len(seq); j++ {
				b := seq[j]
				if b < 0 || b >= numItems || b == a {
					continue
				}
				link(a, b)
				link(b, a)
			}
		}
	}

	g := &Graph{
		neighbors:  make([][]int, numItems),
		weights:    make([][]float64, numItems),
		degree:     make([]float64, numItems),
		neighborAT: make([]*Alias, numItems),
	}
	for v := 0; v < numItems; v++ {
		// ascending ID order so a seed fixes every walk
		for u := range adj[v] {
			g.neighbors[v] = append(g.neighbors[v], u)
		}
		sort.Ints(g.neighbors[v])
		for _, u := range g.neighbors[v] {
			w := adj[v][u]
			g.weights[v] = append(g.weights[v], w)
			g.degree[v] += w
		}
		g.neighborAT[v] = NewAlias(g.weights[v], 1)
		g.numEdges += len(g.neighbors[v])
	}
	g.negativeAT = NewAlias(g.degree, PowerSample)

	logging.Info().
		Int("vertices", numItems).
		Int("edges", g.numEdges/2).
		Msg("item graph built")
	return g
}

// NumVertices is the number of items.
func (g *Graph) NumVertices() int {
	return len(g.neighbors)
}

// NumEdges is the number of undirected edges.
func (g *Graph) NumEdges() int {
	return g.numEdges / 2
}

// Degree is the summed edge weight of v.
func (g *Graph) Degree(v int) float64 {
	return g.degree[v]
}

// Neighbors returns the neighbors of v and their edge weights.
func (g *Graph) Neighbors(v int) ([]int, []float64) {
	return g.neighbors[v], g.weights[v]
}

// Next draws a neighbor of v proportionally to edge weight, or -1 for an
// isolated vertex.
func (g *Graph) Next(v int, rng *rand.Rand) int {
	i := g.neighborAT[v].Sample(rng)
	if i < 0 {
		return -1
	}
	return g.neighbors[v][i]
}

// Negative draws a vertex proportionally to degree^PowerSample.
func (g *Graph) Negative(rng *rand.Rand) int {
	return g.negativeAT.Sample(rng)
}

// RandomWalk walks up to steps edges from start. The walk stops early at an
// isolated vertex.
func (g *Graph) RandomWalk(start, steps int, rng *rand.Rand) []int {
	walk := make([]int, 1, steps+1)
	walk[0] = start
	cur := start
	for i := 0; i < steps; i++ {
		next := g.Next(cur, rng)
		if next < 0 {
			break
		}
		walk = append(walk, next)
		cur = next
	}
	return walk
}

// SkipGrams pairs every walk position with each other position at most
// window away.
func SkipGrams(walk []int, window int) (vertices, contexts []int) {
	for i := range walk {
		start := max(i-window, 0)
		end := min(i+window+1, len(walk))
		for j := start; j < end; j++ {
			if i != j {
				vertices = append(vertices, walk[i])
				contexts = append(contexts, walk[j])
			}
		}
	}
	return vertices, contexts
}
