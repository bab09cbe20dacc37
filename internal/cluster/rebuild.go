package cluster

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/store"
	"github.com/raceboard/server/internal/telemetry/logging"
)

// RaceSource is the read side of internal/store this package depends on to
// read finished races back out for a rebuild.
type RaceSource interface {
	ScanRaces(filter store.ScanFilter, limit int, fn func(*race.Race) bool) (string, error)
}

// ClusterSink is where a completed rebuild persists its result so it
// survives a restart instead of only living in the in-memory Registry.
type ClusterSink interface {
	UpsertCluster(c *race.Cluster) error
	DeleteCluster(id string) error
	LoadAllClusters() ([]*race.Cluster, error)
}

type RebuildConfig struct {
	EpsRange           [2]float64
	MinSamples         int
	Weights            Weights
	KneedleSensitivity float64
	EpsEMASmoothing    float64
	MaxDuration        time.Duration
}

// Rebuilder runs the scan -> cluster -> validate -> swap pipeline (spec
// C8), staged the way the teacher's internal/pipeline runs discovery ->
// extraction -> processing -> output: each stage completes fully before
// the next starts, because a rebuild is a full reindex, not a
// per-item streaming pipeline, and correctness depends on seeing every
// race before clustering any of them.
type Rebuilder struct {
	source RaceSource
	sink   ClusterSink
	reg    *Registry
	cfg    RebuildConfig
	log    logging.Logger
}

func NewRebuilder(source RaceSource, sink ClusterSink, reg *Registry, cfg RebuildConfig, log logging.Logger) *Rebuilder {
	if log == nil {
		log = logging.Noop()
	}
	return &Rebuilder{source: source, sink: sink, reg: reg, cfg: cfg, log: log}
}

// Run executes one full rebuild cycle. It is safe to call concurrently with
// readers of Registry; it is not safe to call concurrently with itself, so
// the caller (the cron-triggered scheduler in internal/app) must serialize
// invocations.
func (rb *Rebuilder) Run(ctx context.Context) error {
	start := time.Now()
	deadline := start.Add(rb.cfg.MaxDuration)
	if rb.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	bySource, err := rb.scan(ctx)
	if err != nil {
		return fmt.Errorf("rebuild scan stage: %w", err)
	}

	var allClusters []*race.Cluster
	for source, items := range bySource {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		clusters := rb.clusterSource(source, items)
		allClusters = append(allClusters, clusters...)
	}

	validated := rb.validate(allClusters)

	if err := rb.persist(validated); err != nil {
		return fmt.Errorf("rebuild persist stage: %w", err)
	}

	rb.reg.Swap(validated, time.Now())
	rb.log.Info("cluster rebuild complete", "clusters", len(validated), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

type sourceItem struct {
	item        Item
	durationSec float64
}

func (rb *Rebuilder) scan(ctx context.Context) (map[string][]sourceItem, error) {
	bySource := make(map[string][]sourceItem)
	_, err := rb.source.ScanRaces(store.ScanFilter{}, 0, func(r *race.Race) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if !r.State.Terminal() || r.DurationSec == nil {
			return true
		}
		bySource[r.Source] = append(bySource[r.Source], sourceItem{
			item:        Item{ID: r.ID, Title: r.Title, Metadata: r.Metadata},
			durationSec: float64(*r.DurationSec),
		})
		return true
	})
	return bySource, err
}

func (rb *Rebuilder) clusterSource(source string, items []sourceItem) []*race.Cluster {
	n := len(items)
	if n < rb.cfg.MinSamples {
		return nil
	}

	plain := make([]Item, n)
	durations := make([]float64, n)
	for i, si := range items {
		plain[i] = si.item
		durations[i] = si.durationSec
	}

	eps := rb.chooseEps(plain)
	var finder NeighborFinder
	if n > 500 {
		finder = NewHNSW(plain, rb.cfg.Weights, int64(n))
	}
	labels := DBSCAN(plain, eps, rb.cfg.MinSamples, rb.cfg.Weights, finder)

	byLabel := make(map[Label][]int)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		byLabel[l] = append(byLabel[l], i)
	}

	now := time.Now()
	var clusters []*race.Cluster
	for label, idxs := range byLabel {
		samples := make([]float64, len(idxs))
		memberIDs := make([]string, 0, len(idxs))
		memberTitles := make([]string, 0, len(idxs))
		for j, idx := range idxs {
			samples[j] = durations[idx]
			if len(memberIDs) < race.MaxMemberIDs {
				memberIDs = append(memberIDs, plain[idx].ID)
			}
			if len(memberTitles) < race.MaxMemberTitle {
				memberTitles = append(memberTitles, plain[idx].Title)
			}
		}
		mean, median, stddev, p95, p99, lo, hi := race.Moments(samples)
		recent := samples
		if len(recent) > race.MaxRecentSamples {
			recent = recent[len(recent)-race.MaxRecentSamples:]
		}
		rep := representative(plain, idxs)
		clusters = append(clusters, &race.Cluster{
			ClusterID:              fmt.Sprintf("%s:%d", source, label),
			Source:                 source,
			RepresentativeTitle:    rep.Title,
			RepresentativeMetadata: rep.Metadata,
			Stats: race.ClusterStats{
				Count: len(samples), Mean: mean, Median: median, Stddev: stddev,
				Min: lo, Max: hi, P95: p95, P99: p99, RecentSamples: recent,
			},
			MemberRaceIDs: memberIDs,
			MemberTitles:  memberTitles,
			LastUpdated:   now,
			LastAccessed:  now,
		})
	}
	return clusters
}

// chooseEps runs Kneedle over the k-distance curve within the configured
// range, falling back to the range midpoint if the data is too sparse for
// a meaningful knee.
func (rb *Rebuilder) chooseEps(items []Item) float64 {
	kd := KDistances(items, rb.cfg.MinSamples, rb.cfg.Weights)
	if len(kd) == 0 {
		return (rb.cfg.EpsRange[0] + rb.cfg.EpsRange[1]) / 2
	}
	eps := Kneedle(kd, rb.cfg.KneedleSensitivity, rb.cfg.EpsEMASmoothing)
	if eps < rb.cfg.EpsRange[0] {
		return rb.cfg.EpsRange[0]
	}
	if eps > rb.cfg.EpsRange[1] {
		return rb.cfg.EpsRange[1]
	}
	return eps
}

// representative picks the member closest to the centroid of the group by
// average distance to all other members, a medoid rather than a synthetic
// average since titles/metadata aren't numeric.
func representative(items []Item, idxs []int) Item {
	if len(idxs) == 1 {
		return items[idxs[0]]
	}
	bestIdx := idxs[0]
	bestSum := -1.0
	for _, i := range idxs {
		sum := 0.0
		for _, j := range idxs {
			if i == j {
				continue
			}
			sum += distance(items[i], items[j], Weights{Title: 0.6, Metadata: 0.4})
		}
		if bestSum < 0 || sum < bestSum {
			bestSum = sum
			bestIdx = i
		}
	}
	return items[bestIdx]
}

// validate drops degenerate clusters (e.g. a stats computation that somehow
// produced zero count) before they'd ever reach the registry or storage.
func (rb *Rebuilder) validate(clusters []*race.Cluster) []*race.Cluster {
	out := clusters[:0]
	for _, c := range clusters {
		if c.Stats.Count < rb.cfg.MinSamples {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClusterID < out[j].ClusterID })
	return out
}

func (rb *Rebuilder) persist(clusters []*race.Cluster) error {
	existing, err := rb.sink.LoadAllClusters()
	if err != nil {
		return err
	}
	keep := make(map[string]bool, len(clusters))
	for _, c := range clusters {
		keep[c.ClusterID] = true
		if err := rb.sink.UpsertCluster(c); err != nil {
			return err
		}
	}
	for _, old := range existing {
		if !keep[old.ClusterID] {
			if err := rb.sink.DeleteCluster(old.ClusterID); err != nil {
				return err
			}
		}
	}
	return nil
}
