package predict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceboard/server/internal/cluster"
	"github.com/raceboard/server/internal/race"
)

type fakeStatsLookup struct {
	stats map[string]*race.SourceStats
}

func (f fakeStatsLookup) GetSourceStats(source string) (*race.SourceStats, bool, error) {
	st, ok := f.stats[source]
	return st, ok, nil
}

func TestCascadeClusterHit(t *testing.T) {
	reg := cluster.NewRegistry()
	reg.Swap([]*race.Cluster{
		{ClusterID: "cargo:1", Source: "cargo", RepresentativeTitle: "cargo test foo", Stats: race.ClusterStats{Count: 30, Median: 42}},
	}, time.Now())

	c := NewCascade(reg, fakeStatsLookup{}, cluster.Weights{Title: 1, Metadata: 0}, nil, nil, 60)
	p := c.Predict("cargo", "cargo test foo", nil)
	require.Equal(t, 42, p.EtaSec)
	require.Equal(t, race.EtaCluster, p.Source)
}

func TestCascadeFallsBackToSourceStats(t *testing.T) {
	reg := cluster.NewRegistry()
	stats := fakeStatsLookup{stats: map[string]*race.SourceStats{
		"npm": {Source: "npm", Samples: []float64{10, 20, 30}, Median: 20},
	}}
	c := NewCascade(reg, stats, cluster.Weights{Title: 1, Metadata: 0}, nil, nil, 60)
	p := c.Predict("npm", "npm install", nil)
	require.Equal(t, 20, p.EtaSec)
}

func TestCascadeFallsBackToBootstrap(t *testing.T) {
	reg := cluster.NewRegistry()
	c := NewCascade(reg, fakeStatsLookup{}, cluster.Weights{Title: 1, Metadata: 0}, nil, map[string]int{"cargo": 45}, 60)
	p := c.Predict("cargo", "anything", nil)
	require.Equal(t, 45, p.EtaSec)
	require.Equal(t, race.EtaBootstrap, p.Source)
}

func TestCascadeFallsBackToDefault(t *testing.T) {
	reg := cluster.NewRegistry()
	c := NewCascade(reg, fakeStatsLookup{}, cluster.Weights{Title: 1, Metadata: 0}, nil, nil, 60)
	p := c.Predict("unknown-source", "x", nil)
	require.Equal(t, 60, p.EtaSec)
}

func TestCascadePrefersSourceOverrideOverBootstrap(t *testing.T) {
	reg := cluster.NewRegistry()
	c := NewCascade(reg, fakeStatsLookup{}, cluster.Weights{Title: 1, Metadata: 0},
		map[string]int{"cargo": 90}, map[string]int{"cargo": 45}, 60)
	p := c.Predict("cargo", "anything", nil)
	require.Equal(t, 90, p.EtaSec)
	require.Equal(t, race.EtaBootstrap, p.Source)
}
