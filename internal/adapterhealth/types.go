// Package adapterhealth tracks the liveness of each adapter instance (spec
// C9): every adapter that registers gets a sharded-map entry whose health
// state decays from running to delayed to absent to abandoned if it stops
// reporting, the same shard-per-key/circuit-breaker-state shape the
// teacher's rate limiter uses for per-domain request budgets.
package adapterhealth

import "time"

type HealthState string

const (
	Initializing HealthState = "initializing"
	Running      HealthState = "running"
	Warning      HealthState = "warning"
	Critical     HealthState = "critical"
	Delayed      HealthState = "delayed"
	Absent       HealthState = "absent"
	Abandoned    HealthState = "abandoned"
	Stopped      HealthState = "stopped"
	Exempt       HealthState = "exempt"
)

// Instance is one registered adapter process.
type Instance struct {
	AdapterType      string            `json:"adapter_type"`
	InstanceID       string            `json:"instance_id"`
	DisplayName      string            `json:"display_name,omitempty"`
	State            HealthState       `json:"state"`
	StateChangedAt   time.Time         `json:"state_changed_at"`
	RegisteredAt     time.Time         `json:"registered_at"`
	LastReportAt     *time.Time        `json:"last_report_at,omitempty"`
	ExpectedInterval time.Duration     `json:"expected_interval"`
	Capabilities     []string          `json:"capabilities,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	LastMetrics      map[string]string `json:"last_metrics,omitempty"`
	StoppedAt        *time.Time        `json:"stopped_at,omitempty"`
}

// RegisterRequest is the input to Registry.Register. Exempt instances never
// transition on Scan, for adapters whose liveness is tracked some other way
// (e.g. a supervisor process outside Raceboard's own health loop).
type RegisterRequest struct {
	AdapterType      string
	InstanceID       string
	DisplayName      string
	ExpectedInterval time.Duration
	Capabilities     []string
	Metadata         map[string]string
	Exempt           bool
}

func key(adapterType, instanceID string) string {
	return adapterType + "\x00" + instanceID
}
