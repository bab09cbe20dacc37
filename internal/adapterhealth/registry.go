package adapterhealth

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/raceboard/server/internal/apperr"
)

const shardCount = 16

// defaultInitializingGrace applies when Thresholds.InitializingGrace is
// unset (zero value), so existing configs without the key still get a
// sane first-report deadline.
const defaultInitializingGrace = 30 * time.Second

type shard struct {
	mu   sync.RWMutex
	data map[string]*Instance
}

// Clock is overridden in tests so the scanner's decay thresholds can be
// exercised without sleeping real wall-clock time, mirroring the teacher's
// rate limiter Clock seam.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Thresholds configures how long an adapter can go quiet before its state
// downgrades, and the multipliers are applied to ExpectedInterval rather than
// a single fixed duration since adapters self-report their own cadence.
type Thresholds struct {
	InitializingGrace time.Duration
	DelayedMult       float64
	AbsentMult        float64
	AbandonedMult     float64
	TTLAbandoned      time.Duration
	TTLStopped        time.Duration
	MaxPerType        int
	MaxTotal          int
}

type Registry struct {
	shards [shardCount]*shard
	clock  Clock
	thresh Thresholds
}

func NewRegistry(thresh Thresholds, clock Clock) *Registry {
	if clock == nil {
		clock = realClock{}
	}
	r := &Registry{clock: clock, thresh: thresh}
	for i := range r.shards {
		r.shards[i] = &shard{data: make(map[string]*Instance)}
	}
	return r
}

func (r *Registry) shardFor(k string) *shard {
	h := fnv.New32a()
	h.Write([]byte(k))
	return r.shards[h.Sum32()%shardCount]
}

func (r *Registry) Register(req RegisterRequest) (*Instance, error) {
	k := key(req.AdapterType, req.InstanceID)
	sh := r.shardFor(k)

	sh.mu.RLock()
	_, exists := sh.data[k]
	sh.mu.RUnlock()
	if !exists {
		if count := r.countType(req.AdapterType); count >= r.thresh.MaxPerType {
			return nil, apperr.New(apperr.RateLimited, "adapter_type at max registered instances")
		}
		if total := r.countTotal(); total >= r.thresh.MaxTotal {
			return nil, apperr.New(apperr.RateLimited, "registry at max total instances")
		}
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := r.clock.Now()
	state := Initializing
	if req.Exempt {
		state = Exempt
	}
	inst := &Instance{
		AdapterType:      req.AdapterType,
		InstanceID:       req.InstanceID,
		DisplayName:      req.DisplayName,
		State:            state,
		StateChangedAt:   now,
		RegisteredAt:     now,
		ExpectedInterval: req.ExpectedInterval,
		Capabilities:     req.Capabilities,
		Metadata:         req.Metadata,
	}
	sh.data[k] = inst
	cp := *inst
	return &cp, nil
}

// countType and countTotal read-lock each shard in turn, so they must be
// called with no shard lock held; Register counts before it locks its own
// shard. They scan every shard, which is fine at registration rate (not the
// hot report-ingestion path) and avoids a separate global counter that
// could drift from the maps under concurrent registers/deregisters. The
// count and the insert are not one critical section, so two concurrent
// registrations can both pass a cap that only one of them fits under.
func (r *Registry) countType(adapterType string) int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, inst := range sh.data {
			if inst.AdapterType == adapterType {
				n++
			}
		}
		sh.mu.RUnlock()
	}
	return n
}

func (r *Registry) countTotal() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.data)
		sh.mu.RUnlock()
	}
	return n
}

// Report records an adapter's self-reported state (Running, Warning, or
// Critical) along with whatever metrics it attached. Stopped and Exempt
// instances never transition via a report: a stopped adapter stays stopped,
// and an exempt one is tracked outside this state machine entirely.
func (r *Registry) Report(adapterType, instanceID string, metrics map[string]string, reported HealthState) (*Instance, error) {
	k := key(adapterType, instanceID)
	sh := r.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	inst, ok := sh.data[k]
	if !ok {
		return nil, apperr.NotFoundf("adapter instance %s/%s not registered", adapterType, instanceID)
	}
	now := r.clock.Now()
	inst.LastReportAt = &now
	inst.LastMetrics = metrics

	if inst.State != Stopped && inst.State != Exempt {
		next := Running
		if reported == Warning || reported == Critical {
			next = reported
		}
		if next != inst.State {
			inst.State = next
			inst.StateChangedAt = now
		}
	}
	cp := *inst
	return &cp, nil
}

func (r *Registry) Deregister(adapterType, instanceID string) error {
	k := key(adapterType, instanceID)
	sh := r.shardFor(k)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	inst, ok := sh.data[k]
	if !ok {
		return apperr.NotFoundf("adapter instance %s/%s not registered", adapterType, instanceID)
	}
	now := r.clock.Now()
	inst.State = Stopped
	inst.StateChangedAt = now
	inst.StoppedAt = &now
	return nil
}

func (r *Registry) Get(adapterType, instanceID string) (*Instance, bool) {
	k := key(adapterType, instanceID)
	sh := r.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	inst, ok := sh.data[k]
	if !ok {
		return nil, false
	}
	cp := *inst
	return &cp, true
}

func (r *Registry) List() []*Instance {
	var out []*Instance
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, inst := range sh.data {
			cp := *inst
			out = append(out, &cp)
		}
		sh.mu.RUnlock()
	}
	return out
}

// Scan recomputes every non-terminal, non-exempt instance's state from
// elapsed time since its last report, and permanently evicts Stopped
// instances stopped for longer than TTLStopped and Abandoned instances whose
// last report is older than TTLAbandoned. Intended to be called on
// a cron schedule by the composition root.
func (r *Registry) Scan() (transitioned int, evicted int) {
	now := r.clock.Now()
	for _, sh := range r.shards {
		sh.mu.Lock()
		for k, inst := range sh.data {
			switch inst.State {
			case Stopped:
				if inst.StoppedAt != nil && now.Sub(*inst.StoppedAt) > r.thresh.TTLStopped {
					delete(sh.data, k)
					evicted++
				}
				continue
			case Exempt:
				continue
			case Initializing:
				grace := r.thresh.InitializingGrace
				if grace <= 0 {
					grace = defaultInitializingGrace
				}
				if inst.LastReportAt == nil && now.Sub(inst.RegisteredAt) > grace {
					inst.State = Absent
					inst.StateChangedAt = now
					transitioned++
				}
				continue
			}

			if inst.LastReportAt == nil {
				continue
			}
			elapsed := now.Sub(*inst.LastReportAt)
			next := classify(inst.State, elapsed, inst.ExpectedInterval, r.thresh)
			if next != inst.State {
				inst.State = next
				inst.StateChangedAt = now
				transitioned++
			}
			if inst.State == Abandoned && elapsed > r.thresh.TTLAbandoned {
				delete(sh.data, k)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return transitioned, evicted
}

// classify returns the state elapsed time since the last report implies,
// or current unchanged if no decay threshold has been crossed — so a
// Warning/Critical self-report isn't silently reset to Running just
// because Scan ran again with no new timing breach.
func classify(current HealthState, elapsed, expected time.Duration, t Thresholds) HealthState {
	if expected <= 0 {
		expected = 30 * time.Second
	}
	switch {
	case elapsed > time.Duration(float64(expected)*t.AbandonedMult):
		return Abandoned
	case elapsed > time.Duration(float64(expected)*t.AbsentMult):
		return Absent
	case elapsed > time.Duration(float64(expected)*t.DelayedMult):
		return Delayed
	default:
		return current
	}
}
