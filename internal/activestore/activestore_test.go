package activestore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceboard/server/internal/race"
)

func TestPutGet(t *testing.T) {
	s := New(10, 10)
	r := &race.Race{ID: "a", StartedAt: time.Now()}
	s.Put(r)

	got, ok := s.Get("a")
	require.True(t, ok)
	require.Equal(t, "a", got.ID)
}

func TestEvictsOldestWhenFull(t *testing.T) {
	s := New(2, 10)
	base := time.Now()
	var evicted []string
	s.OnEvict(func(r *race.Race) { evicted = append(evicted, r.ID) })

	s.Put(&race.Race{ID: "a", StartedAt: base})
	s.Put(&race.Race{ID: "b", StartedAt: base.Add(time.Minute)})
	s.Put(&race.Race{ID: "c", StartedAt: base.Add(2 * time.Minute)})

	require.Equal(t, []string{"a"}, evicted)
	require.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	require.False(t, ok)
}

func TestReplaceDoesNotEvict(t *testing.T) {
	s := New(1, 10)
	base := time.Now()
	var evicted []string
	s.OnEvict(func(r *race.Race) { evicted = append(evicted, r.ID) })

	s.Put(&race.Race{ID: "a", StartedAt: base, Title: "first"})
	s.Put(&race.Race{ID: "a", StartedAt: base, Title: "second"})

	require.Empty(t, evicted)
	got, _ := s.Get("a")
	require.Equal(t, "second", got.Title)
}

func TestAppendEventTrimsRing(t *testing.T) {
	s := New(10, 2)
	s.Put(&race.Race{ID: "a", StartedAt: time.Now()})

	for i := 0; i < 5; i++ {
		_, err := s.AppendEvent("a", race.Event{EventType: "tick"})
		require.NoError(t, err)
	}
	got, _ := s.Get("a")
	require.Len(t, got.Events, 2)
}

func TestSubscribePublish(t *testing.T) {
	s := New(10, 10)
	ch, unsub := s.Subscribe()
	defer unsub()

	s.Publish(Change{Kind: ChangeCreated, RaceID: "a"})

	select {
	case c := <-ch:
		require.Equal(t, ChangeCreated, c.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
}

func TestDeleteRemovesFromHeap(t *testing.T) {
	s := New(2, 10)
	base := time.Now()
	s.Put(&race.Race{ID: "a", StartedAt: base})
	s.Put(&race.Race{ID: "b", StartedAt: base.Add(time.Minute)})

	_, ok := s.Delete("a")
	require.True(t, ok)

	var evicted []string
	s.OnEvict(func(r *race.Race) { evicted = append(evicted, r.ID) })
	s.Put(&race.Race{ID: "c", StartedAt: base.Add(2 * time.Minute)})
	s.Put(&race.Race{ID: "d", StartedAt: base.Add(3 * time.Minute)})

	require.Equal(t, []string{"b"}, evicted)
}
