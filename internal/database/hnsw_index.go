package database

import (
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/face-gate/internal/facematch"
)

// HNSWIndex wraps an HNSW graph over user face embeddings.
// It only proposes candidates; callers re-rank them with exact distances.
type HNSWIndex struct {
	graph *hnsw.Graph[int64]
	mu    sync.RWMutex
}

// NewHNSWIndex creates a new empty HNSW index.
func NewHNSWIndex() *HNSWIndex {
	return &HNSWIndex{}
}

// Build replaces the graph with one built from the given candidates.
func (h *HNSWIndex) Build(candidates []facematch.Candidate) {
	g := hnsw.NewGraph[int64]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.CosineDistance

	for _, c := range candidates {
		if len(c.Embedding) == 0 {
			continue
		}
		g.Add(hnsw.MakeNode(c.UserID, c.Embedding.Float32()))
	}

	h.mu.Lock()
	h.graph = g
	h.mu.Unlock()
}

// Reset drops the graph; Search returns nothing until the next Build.
func (h *HNSWIndex) Reset() {
	h.mu.Lock()
	h.graph = nil
	h.mu.Unlock()
}

// Len returns the number of nodes in the graph.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.graph == nil {
		return 0
	}
	return h.graph.Len()
}

// Search returns the user IDs of the k approximate nearest neighbours.
func (h *HNSWIndex) Search(query facematch.Embedding, k int) []int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || h.graph.Len() == 0 || k <= 0 {
		return nil
	}

	neighbors := h.graph.Search(query.Float32(), k)
	ids := make([]int64, len(neighbors))
	for i, n := range neighbors {
		ids[i] = n.Key
	}
	return ids
}
