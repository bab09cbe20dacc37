package cluster

import (
	"math/rand"
	"sort"
)

// HNSW is a small, in-memory approximate-nearest-neighbor index used to
// keep the rebuild pipeline's eps-neighborhood queries from degrading to
// O(n^2) once a source accumulates thousands of historic races. It follows
// the layered-graph-plus-greedy-descent shape of the published HNSW
// algorithm, simplified to the single-threaded batch-build case this
// pipeline actually needs (no incremental insert-after-query).
type HNSW struct {
	items   []Item
	w       Weights
	m       int // max neighbors per node per layer
	efCons  int // candidate list size during construction
	layers  []map[int][]int
	nodeMax []int // top layer each node participates in
	entry   int
	rng     *rand.Rand
}

// NewHNSW builds the index over items. seed makes construction
// deterministic; the rebuild pipeline passes the item count, so the same
// input always yields the same graph.
func NewHNSW(items []Item, w Weights, seed int64) *HNSW {
	h := &HNSW{
		items:  items,
		w:      w,
		m:      8,
		efCons: 32,
		rng:    rand.New(rand.NewSource(seed)),
		entry:  -1,
	}
	for i := range items {
		h.insert(i)
	}
	return h
}

func (h *HNSW) randomLevel() int {
	level := 0
	for h.rng.Float64() < 0.5 && level < 8 {
		level++
	}
	return level
}

func (h *HNSW) insert(idx int) {
	level := h.randomLevel()
	for len(h.layers) <= level {
		h.layers = append(h.layers, make(map[int][]int))
	}
	h.nodeMax = append(h.nodeMax, level)

	if h.entry == -1 {
		h.entry = idx
		return
	}

	curr := h.entry
	for l := len(h.layers) - 1; l > level; l-- {
		curr = h.greedyStep(curr, idx, l)
	}
	for l := level; l >= 0; l-- {
		candidates := h.searchLayer(idx, curr, h.efCons, l)
		neighbors := selectNeighbors(h.items[idx], candidates, h.items, h.w, h.m)
		h.layers[l][idx] = neighbors
		for _, nb := range neighbors {
			h.layers[l][nb] = appendCapped(h.layers[l][nb], idx, h.items, h.w, h.m)
		}
		if len(candidates) > 0 {
			curr = candidates[0]
		}
	}
}

func appendCapped(existing []int, newID int, items []Item, w Weights, m int) []int {
	existing = append(existing, newID)
	if len(existing) <= m {
		return existing
	}
	sort.Slice(existing, func(i, j int) bool {
		return distance(items[existing[i]], items[newID], w) < distance(items[existing[j]], items[newID], w)
	})
	return existing[:m]
}

func (h *HNSW) greedyStep(from, target int, layer int) int {
	best := from
	bestDist := distance(h.items[from], h.items[target], h.w)
	for {
		improved := false
		for _, nb := range h.layers[layer][best] {
			d := distance(h.items[nb], h.items[target], h.w)
			if d < bestDist {
				bestDist = d
				best = nb
				improved = true
			}
		}
		if !improved {
			return best
		}
	}
}

// searchLayer returns up to ef candidate node indices near idx, sorted
// closest-first, via greedy expansion from entry on the given layer.
func (h *HNSW) searchLayer(idx, entry, ef, layer int) []int {
	visited := map[int]bool{entry: true}
	candidates := []int{entry}
	result := []int{entry}

	for len(candidates) > 0 {
		c := candidates[0]
		candidates = candidates[1:]
		for _, nb := range h.layers[layer][c] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			result = append(result, nb)
			candidates = append(candidates, nb)
		}
		if len(result) >= ef*4 {
			break
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return distance(h.items[idx], h.items[result[i]], h.w) < distance(h.items[idx], h.items[result[j]], h.w)
	})
	if len(result) > ef {
		result = result[:ef]
	}
	return result
}

func selectNeighbors(target Item, candidates []int, items []Item, w Weights, m int) []int {
	sort.Slice(candidates, func(i, j int) bool {
		return distance(target, items[candidates[i]], w) < distance(target, items[candidates[j]], w)
	})
	if len(candidates) > m {
		candidates = candidates[:m]
	}
	return candidates
}

// Query implements NeighborFinder: returns the indices within eps of
// items[i], found via a greedy descent from the index's entry point
// followed by a local expansion at layer 0.
func (h *HNSW) Query(i int, eps float64) []int {
	if h.entry == -1 || len(h.items) <= 1 {
		return nil
	}
	curr := h.entry
	for l := len(h.layers) - 1; l > 0; l-- {
		curr = h.greedyStep(curr, i, l)
	}
	candidates := h.searchLayer(i, curr, h.efCons, 0)

	var out []int
	for _, c := range candidates {
		if c == i {
			continue
		}
		if distance(h.items[i], h.items[c], h.w) <= eps {
			out = append(out, c)
		}
	}
	return out
}
