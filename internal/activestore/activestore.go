// Package activestore is the in-memory working set of races (spec C2): the
// REST and streaming layers read and mutate races here, not in the durable
// store directly, the same way the teacher's resource manager keeps a
// capacity-capped in-memory cache in front of its disk spillover.
package activestore

import (
	"container/heap"
	"sync"

	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/race"
)

// ChangeKind describes why a Change event was emitted.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeEvent   ChangeKind = "event"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is fanned out to every streaming subscriber. Snapshot is nil for
// ChangeDeleted.
type Change struct {
	Kind     ChangeKind
	RaceID   string
	Snapshot *race.Race
}

type Store struct {
	mu       sync.RWMutex
	races    map[string]*race.Race
	order    *startedHeap // min-heap by StartedAt, for oldest-first eviction

	maxRaces         int
	maxEventsPerRace int

	subMu sync.Mutex
	subs  map[int]chan Change
	nextSub int

	onEvict func(*race.Race) // best-effort handoff to the durable store before eviction
}

func New(maxRaces, maxEventsPerRace int) *Store {
	h := &startedHeap{}
	heap.Init(h)
	return &Store{
		races:            make(map[string]*race.Race),
		order:            h,
		maxRaces:         maxRaces,
		maxEventsPerRace: maxEventsPerRace,
		subs:             make(map[int]chan Change),
	}
}

// OnEvict registers a callback invoked synchronously, while still holding
// the write lock, for every race the capacity cap evicts. The durable store
// write happens here so an evicted race is never lost, only demoted out of
// the active set.
func (s *Store) OnEvict(fn func(*race.Race)) { s.onEvict = fn }

func (s *Store) Get(id string) (*race.Race, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.races[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

func (s *Store) List() []*race.Race {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*race.Race, 0, len(s.races))
	for _, r := range s.races {
		out = append(out, r.Clone())
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.races)
}

// Put inserts or replaces a race, evicting the oldest-started race if the
// capacity cap would otherwise be exceeded. Returns the replaced race, if
// any, so callers can diff for a Change notification kind.
func (s *Store) Put(r *race.Race) (previous *race.Race) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.races[r.ID]; ok {
		previous = old
		if i := s.order.indexOf(r.ID); i >= 0 {
			heap.Remove(s.order, i)
		}
	} else if len(s.races) >= s.maxRaces {
		s.evictOldestLocked()
	}

	if len(r.Events) > s.maxEventsPerRace {
		r.Events = r.Events[len(r.Events)-s.maxEventsPerRace:]
	}

	s.races[r.ID] = r
	heap.Push(s.order, heapEntry{id: r.ID, startedAt: r.StartedAt})
	return previous
}

func (s *Store) evictOldestLocked() {
	for s.order.Len() > 0 {
		entry := heap.Pop(s.order).(heapEntry)
		victim, ok := s.races[entry.id]
		if !ok {
			continue // entry with no live race; Put and Delete remove their heap entries, so this is defensive only
		}
		delete(s.races, entry.id)
		if s.onEvict != nil {
			s.onEvict(victim)
		}
		return
	}
}

func (s *Store) Delete(id string) (*race.Race, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return nil, false
	}
	delete(s.races, id)
	if i := s.order.indexOf(id); i >= 0 {
		heap.Remove(s.order, i)
	}
	return r, true
}

// AppendEvent appends an event to an existing race's ring, trimming from
// the front once maxEventsPerRace is exceeded.
func (s *Store) AppendEvent(id string, ev race.Event) (*race.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return nil, apperr.NotFoundf("race %q not found", id)
	}
	r.Events = append(r.Events, ev)
	if len(r.Events) > s.maxEventsPerRace {
		r.Events = r.Events[len(r.Events)-s.maxEventsPerRace:]
	}
	return r, nil
}

// Mutate runs fn against the live race under the write lock, so callers like
// the progress tracker can apply clamping logic atomically with the read.
func (s *Store) Mutate(id string, fn func(*race.Race) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return apperr.NotFoundf("race %q not found", id)
	}
	return fn(r)
}

const subscriberBuffer = 64

// Subscribe returns a channel of Change events and an unsubscribe func. A
// subscriber that falls behind has its channel closed rather than blocking
// the writer; the streaming layer is responsible for sending a resync
// signal to clients that hit this.
func (s *Store) Subscribe() (<-chan Change, func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan Change, subscriberBuffer)
	s.subs[id] = ch
	s.subMu.Unlock()

	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Publish is called by the mutation call sites (ingest handlers, progress
// tracker, rebuild pipeline) after releasing the store lock, so subscriber
// delivery never happens while holding it.
func (s *Store) Publish(c Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- c:
		default:
			delete(s.subs, id)
			close(ch)
		}
	}
}
