package cluster

import (
	"sync/atomic"
	"time"

	"github.com/raceboard/server/internal/race"
)

// snapshot is the immutable result of one rebuild: clusters grouped by
// source, ready for the prediction cascade's "cluster hit" rung to query.
type snapshot struct {
	bySource map[string][]*race.Cluster
	builtAt  time.Time
}

// Registry holds the live cluster snapshot behind an atomic pointer so
// readers (the prediction cascade) never block on a rebuild
// in progress, and a rebuild swaps in its result with a single store
// instead of a lock, the same handoff shape the teacher's resource manager
// uses for its checkpoint-then-swap cache refresh.
type Registry struct {
	current atomic.Pointer[snapshot]
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.current.Store(&snapshot{bySource: map[string][]*race.Cluster{}})
	return r
}

// Swap installs a newly rebuilt set of clusters. Called only by the
// rebuild pipeline's swap stage.
func (r *Registry) Swap(clusters []*race.Cluster, builtAt time.Time) {
	bySource := make(map[string][]*race.Cluster)
	for _, c := range clusters {
		bySource[c.Source] = append(bySource[c.Source], c)
	}
	r.current.Store(&snapshot{bySource: bySource, builtAt: builtAt})
}

// Lookup finds the nearest cluster for (source, title, metadata), returning
// the cluster and its distance with no distance bound applied. The caller
// (internal/predict) decides whether that distance is close enough to trust.
func (r *Registry) Lookup(source, title string, metadata map[string]string, w Weights) (*race.Cluster, float64, bool) {
	snap := r.current.Load()
	clusters, ok := snap.bySource[source]
	if !ok || len(clusters) == 0 {
		return nil, 0, false
	}
	item := Item{Title: title, Metadata: metadata}
	var best *race.Cluster
	bestDist := -1.0
	for _, c := range clusters {
		rep := Item{Title: c.RepresentativeTitle, Metadata: c.RepresentativeMetadata}
		d := distance(item, rep, w)
		if bestDist < 0 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best, bestDist, best != nil
}

func (r *Registry) BuiltAt() time.Time {
	return r.current.Load().builtAt
}

func (r *Registry) SourceClusters(source string) []*race.Cluster {
	snap := r.current.Load()
	out := snap.bySource[source]
	cp := make([]*race.Cluster, len(out))
	copy(cp, out)
	return cp
}

func (r *Registry) All() []*race.Cluster {
	snap := r.current.Load()
	var out []*race.Cluster
	for _, cs := range snap.bySource {
		out = append(out, cs...)
	}
	return out
}
