package cluster

// Label is the DBSCAN output for a single item's index in the input slice.
type Label int

const (
	Noise Label = -1
)

// DBSCAN runs the classic density-based clustering algorithm over items,
// using distance() (Levenshtein over title, Jaccard over metadata) as the
// metric. neighbors, when non-nil, is consulted instead of a brute-force
// scan so the rebuild pipeline can plug in the HNSW index for large inputs.
func DBSCAN(items []Item, eps float64, minSamples int, w Weights, neighbors NeighborFinder) []Label {
	n := len(items)
	labels := make([]Label, n)
	for i := range labels {
		labels[i] = Label(0) // 0 = unvisited
	}
	visited := make([]bool, n)
	nextCluster := Label(1)

	regionQuery := func(i int) []int {
		if neighbors != nil {
			return neighbors.Query(i, eps)
		}
		var out []int
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if distance(items[i], items[j], w) <= eps {
				out = append(out, j)
			}
		}
		return out
	}

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		neigh := regionQuery(i)
		if len(neigh) < minSamples {
			labels[i] = Noise
			continue
		}
		labels[i] = nextCluster
		seeds := append([]int(nil), neigh...)
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if !visited[j] {
				visited[j] = true
				jNeigh := regionQuery(j)
				if len(jNeigh) >= minSamples {
					seeds = append(seeds, jNeigh...)
				}
			}
			if labels[j] <= 0 {
				labels[j] = nextCluster
			}
		}
		nextCluster++
	}
	return labels
}

// NeighborFinder abstracts the eps-neighborhood query so DBSCAN can run
// against either a brute-force scan or the approximate HNSW index.
type NeighborFinder interface {
	Query(i int, eps float64) []int
}
