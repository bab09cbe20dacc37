// Package race holds the domain types shared by every transport: the REST
// ingestion/query handlers, the websocket fanout, the prediction engine and
// the clustering rebuild pipeline all operate on the same Race/Cluster
// structs so validation and ETA inference never drift between transports.
package race

import "time"

type State string

const (
	Queued   State = "queued"
	Running  State = "running"
	Passed   State = "passed"
	Failed   State = "failed"
	Canceled State = "canceled"
)

func (s State) Valid() bool {
	switch s {
	case Queued, Running, Passed, Failed, Canceled:
		return true
	}
	return false
}

func (s State) Terminal() bool {
	switch s {
	case Passed, Failed, Canceled:
		return true
	}
	return false
}

type EtaSource string

const (
	EtaExact     EtaSource = "exact"
	EtaAdapter   EtaSource = "adapter"
	EtaCluster   EtaSource = "cluster"
	EtaBootstrap EtaSource = "bootstrap"
)

// EtaRevision is one entry in a race's eta_history ring.
type EtaRevision struct {
	EtaSec     int       `json:"eta_sec"`
	Timestamp  time.Time `json:"timestamp"`
	Source     EtaSource `json:"source"`
	Confidence float64   `json:"confidence"`
}

type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Race is the unit of work tracked by the server. ReservedIDPrefix ("adapter:")
// is enforced by the ingestion handlers, not here, since only the REST layer
// knows which namespace a given request entered through.
type Race struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Title    string            `json:"title"`
	State    State             `json:"state"`
	Progress *int              `json:"progress,omitempty"`
	EtaSec   *int              `json:"eta_sec,omitempty"`
	Deeplink string            `json:"deeplink,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Events   []Event           `json:"events,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationSec *int       `json:"duration_sec,omitempty"`

	LastProgressUpdate *time.Time    `json:"last_progress_update,omitempty"`
	LastEtaUpdate       *time.Time   `json:"last_eta_update,omitempty"`
	EtaSource           EtaSource    `json:"eta_source,omitempty"`
	EtaConfidence       float64      `json:"eta_confidence,omitempty"`
	UpdateIntervalHint  int          `json:"update_interval_hint,omitempty"`
	EtaHistory          []EtaRevision `json:"eta_history,omitempty"`

	maxProgressSeen int
}

const ReservedIDPrefix = "adapter:"

const (
	MaxEtaHistory  = 5
	MaxMemberIDs   = 100
	MaxMemberTitle = 50
)

// Clone returns a deep-enough copy for safe concurrent handoff to subscribers.
func (r *Race) Clone() *Race {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Progress != nil {
		v := *r.Progress
		cp.Progress = &v
	}
	if r.EtaSec != nil {
		v := *r.EtaSec
		cp.EtaSec = &v
	}
	if r.CompletedAt != nil {
		v := *r.CompletedAt
		cp.CompletedAt = &v
	}
	if r.DurationSec != nil {
		v := *r.DurationSec
		cp.DurationSec = &v
	}
	if r.LastProgressUpdate != nil {
		v := *r.LastProgressUpdate
		cp.LastProgressUpdate = &v
	}
	if r.LastEtaUpdate != nil {
		v := *r.LastEtaUpdate
		cp.LastEtaUpdate = &v
	}
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	if r.Events != nil {
		cp.Events = append([]Event(nil), r.Events...)
	}
	if r.EtaHistory != nil {
		cp.EtaHistory = append([]EtaRevision(nil), r.EtaHistory...)
	}
	return &cp
}

// MaxProgressSeen tracks the server-clamped high-water mark independent of
// the currently reported Progress, so a late, smaller update can be rejected
// on that field alone without touching the rest of the patch.
func (r *Race) MaxProgressSeen() int { return r.maxProgressSeen }

func (r *Race) SetMaxProgressSeen(v int) { r.maxProgressSeen = v }

// Cluster groups similar races within a single source for ETA prediction.
type Cluster struct {
	ClusterID               string            `json:"cluster_id"`
	Source                  string            `json:"source"`
	RepresentativeTitle     string            `json:"representative_title"`
	RepresentativeMetadata  map[string]string `json:"representative_metadata,omitempty"`
	Stats                   ClusterStats      `json:"stats"`
	MemberRaceIDs           []string          `json:"member_race_ids,omitempty"`
	MemberTitles            []string          `json:"member_titles,omitempty"`
	LastUpdated             time.Time         `json:"last_updated"`
	LastAccessed            time.Time         `json:"last_accessed"`
}

type ClusterStats struct {
	Count         int       `json:"count"`
	Mean          float64   `json:"mean"`
	Median        float64   `json:"median"`
	Stddev        float64   `json:"stddev"`
	Min           float64   `json:"min"`
	Max           float64   `json:"max"`
	P95           float64   `json:"p95"`
	P99           float64   `json:"p99"`
	RecentSamples []float64 `json:"recent_samples,omitempty"`
}

const MaxRecentSamples = 100

// SourceStats is the per-source rolling duration history used by the
// "source average" rung of the prediction cascade.
type SourceStats struct {
	Source  string    `json:"source"`
	Samples []float64 `json:"samples"`
	Mean    float64   `json:"mean"`
	Median  float64   `json:"median"`
	Stddev  float64   `json:"stddev"`
	P95     float64   `json:"p95"`
}

const MaxSourceSamples = 1000
