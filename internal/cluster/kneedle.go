package cluster

import "sort"

// Kneedle finds the "knee" in a sorted k-distance curve, the standard way
// to pick DBSCAN's eps parameter: plot each point's distance to its
// minSamples-th nearest neighbor in ascending order and take the point of
// maximum curvature. This follows Satopaa et al.'s Kneedle algorithm on the
// normalized curve, smoothed with an EMA to avoid a noisy single-sample
// spike from choosing the knee.
func Kneedle(kDistances []float64, sensitivity, emaSmoothing float64) float64 {
	n := len(kDistances)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return kDistances[0]
	}

	sorted := append([]float64(nil), kDistances...)
	sort.Float64s(sorted)

	smoothed := ema(sorted, emaSmoothing)

	xMin, xMax := 0.0, float64(n-1)
	yMin, yMax := smoothed[0], smoothed[n-1]
	xRange := xMax - xMin
	yRange := yMax - yMin
	if xRange == 0 || yRange == 0 {
		return smoothed[n-1]
	}

	// Normalize both axes to [0,1] and compute the difference curve
	// between the normalized data and the straight line connecting its
	// endpoints; the knee is where that difference is maximized.
	bestIdx := 0
	bestDiff := -1.0
	for i, y := range smoothed {
		xNorm := (float64(i) - xMin) / xRange
		yNorm := (y - yMin) / yRange
		diff := xNorm - yNorm
		diff *= sensitivity
		if diff > bestDiff {
			bestDiff = diff
			bestIdx = i
		}
	}
	return sorted[bestIdx]
}

func ema(xs []float64, alpha float64) []float64 {
	if alpha <= 0 {
		return append([]float64(nil), xs...)
	}
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// KDistances computes, for every item, the distance to its k-th nearest
// neighbor (k = minSamples), the raw input Kneedle expects.
func KDistances(items []Item, minSamples int, w Weights) []float64 {
	n := len(items)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		dists := make([]float64, 0, n-1)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			dists = append(dists, distance(items[i], items[j], w))
		}
		sort.Float64s(dists)
		k := minSamples - 1
		if k >= len(dists) {
			k = len(dists) - 1
		}
		if k < 0 {
			out[i] = 0
			continue
		}
		out[i] = dists[k]
	}
	return out
}
