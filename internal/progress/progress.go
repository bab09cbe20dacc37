// Package progress implements the optimistic progress tracker (spec C6):
// progress only moves forward, and an ETA update from a lower-confidence
// source never overwrites one from a higher-confidence source that hasn't
// gone stale, the same "clamp and don't regress" pattern validate.ClampProgress
// applies to the percent field.
package progress

import (
	"strings"
	"time"

	"github.com/raceboard/server/internal/race"
)

// sourceRank orders eta sources by trustworthiness; exact beats adapter beats
// cluster beats bootstrap, matching the cascade in internal/predict.
var sourceRank = map[race.EtaSource]int{
	race.EtaExact:     4,
	race.EtaAdapter:    3,
	race.EtaCluster:    2,
	race.EtaBootstrap:  1,
}

// staleAfter is how long a previous ETA source's authority lasts before a
// lower-ranked source is allowed to override it anyway, so a stalled
// adapter doesn't pin a race to a stale exact ETA forever.
const staleAfter = 2 * time.Minute

// defaultUpdateInterval maps an eta source to the hint surfaced to UIs for
// how often they should expect a new estimate.
var defaultUpdateInterval = map[race.EtaSource]int{
	race.EtaExact:     60,
	race.EtaAdapter:   10,
	race.EtaCluster:   15,
	race.EtaBootstrap: 10,
}

// InferEtaSource derives the eta_source a race's source family implies:
// calendar-style sources report exact wall-clock ETAs, CI/CD adapters report
// adapter-computed ones, and everything else falls back to the statistical
// tiers.
func InferEtaSource(source string) race.EtaSource {
	switch {
	case source == "google-calendar" || strings.HasPrefix(source, "ics-"):
		return race.EtaExact
	case source == "gitlab" || source == "github" || source == "jenkins":
		return race.EtaAdapter
	default:
		return race.EtaBootstrap
	}
}

// ConfidenceFor returns the fixed confidence associated with an eta_source,
// used whenever a confidence isn't otherwise derived from sample data.
func ConfidenceFor(source race.EtaSource) float64 {
	switch source {
	case race.EtaExact:
		return 1.0
	case race.EtaCluster:
		return 0.7
	case race.EtaAdapter:
		return 0.5
	default:
		return 0.2
	}
}

// SeedEtaMetadata stamps a freshly created race with the eta_source,
// eta_confidence, and update_interval_hint its source family implies before
// any concrete eta_sec has arrived. It never touches eta_sec or eta_history,
// since no estimate exists yet to record.
func SeedEtaMetadata(r *race.Race, source race.EtaSource) {
	r.EtaSource = source
	r.EtaConfidence = ConfidenceFor(source)
	r.UpdateIntervalHint = defaultUpdateInterval[source]
}

// ApplyProgress clamps requested progress to the race's high-water mark and
// stamps last_progress_update when the clamp lets it through unchanged.
func ApplyProgress(r *race.Race, requested int, now time.Time) (applied int, accepted bool) {
	applied, accepted = race.ClampProgress(r, requested)
	r.SetMaxProgressSeen(applied)
	v := applied
	r.Progress = &v
	if accepted {
		r.LastProgressUpdate = &now
	}
	return applied, accepted
}

// ApplyEta applies a candidate ETA update, honoring source authority:
// a lower-ranked source is rejected unless the current source's estimate
// has gone stale (no update within staleAfter).
func ApplyEta(r *race.Race, etaSec int, source race.EtaSource, confidence float64, now time.Time) bool {
	if r.EtaSource != "" && r.LastEtaUpdate != nil {
		currentRank := sourceRank[r.EtaSource]
		newRank := sourceRank[source]
		stale := now.Sub(*r.LastEtaUpdate) > staleAfter
		if newRank < currentRank && !stale {
			return false
		}
	}

	// A revision is only emitted on a genuine value change; re-reporting the
	// same eta_sec from the same source must not push another eta_history
	// entry or bump last_eta_update.
	if r.EtaSec != nil && *r.EtaSec == etaSec && r.EtaSource == source {
		return true
	}

	v := etaSec
	r.EtaSec = &v
	r.EtaSource = source
	r.EtaConfidence = confidence
	r.LastEtaUpdate = &now
	r.UpdateIntervalHint = defaultUpdateInterval[source]

	r.EtaHistory = append(r.EtaHistory, race.EtaRevision{
		EtaSec:     etaSec,
		Timestamp:  now,
		Source:     source,
		Confidence: confidence,
	})
	if len(r.EtaHistory) > race.MaxEtaHistory {
		r.EtaHistory = r.EtaHistory[len(r.EtaHistory)-race.MaxEtaHistory:]
	}
	return true
}

// Finish freezes progress and ETA fields when a race reaches a terminal
// state: later calls to ApplyProgress/ApplyEta on a terminal race are the
// caller's bug, not something this package silently tolerates by re-opening
// the fields, so callers must check r.State.Terminal() before calling in.
func Finish(r *race.Race, now time.Time) {
	r.CompletedAt = &now
	elapsed := int(now.Sub(r.StartedAt).Seconds())
	r.DurationSec = &elapsed
	full := 100
	r.Progress = &full
	r.SetMaxProgressSeen(full)
}
