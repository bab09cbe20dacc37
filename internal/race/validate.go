package race

import (
	"strings"

	"github.com/raceboard/server/internal/apperr"
)

// ValidateCreate checks the fields accepted by POST /race. Progress and
// EtaSec are pointer fields so "omitted" and "explicitly zero" are
// distinguishable upstream.
func ValidateCreate(id, source, title string, state State, progress, etaSec *int) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validationf("id must not be empty")
	}
	if strings.HasPrefix(id, ReservedIDPrefix) {
		return apperr.Validationf("id %q uses the reserved %q prefix", id, ReservedIDPrefix)
	}
	if state != "" && !state.Valid() {
		return apperr.Validationf("invalid state %q", state)
	}
	if progress != nil && (*progress < 0 || *progress > 100) {
		return apperr.Validationf("progress must be within [0,100], got %d", *progress)
	}
	if etaSec != nil && *etaSec < 0 {
		return apperr.Validationf("eta_sec must be >= 0, got %d", *etaSec)
	}
	return nil
}

// transitions enumerates the DAG from spec.md §3: queued -> running ->
// {passed|failed|canceled}, plus running -> canceled directly. Terminal
// states have no outgoing edges.
var transitions = map[State]map[State]bool{
	Queued:  {Running: true, Passed: true, Failed: true, Canceled: true},
	Running: {Passed: true, Failed: true, Canceled: true},
}

// CanTransition reports whether moving from `from` to `to` is legal. Equal
// states are always allowed (a republish of the same state is a no-op, not
// a transition).
func CanTransition(from, to State) bool {
	if from == to {
		return true
	}
	if from == "" {
		return true
	}
	if from.Terminal() {
		return false
	}
	return transitions[from][to]
}

// ClampProgress enforces server-side monotonicity: a decreasing update is
// rejected on this field alone, other fields in the same patch still apply.
// Returns the value to store and whether the caller's value was accepted.
func ClampProgress(current *Race, requested int) (applied int, ok bool) {
	high := current.MaxProgressSeen()
	if requested < high {
		return high, false
	}
	return requested, true
}
