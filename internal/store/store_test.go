package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceboard/server/internal/race"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(Options{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutGetRace(t *testing.T) {
	s := openTest(t)
	r := &race.Race{ID: "adapter:cargo:1", Source: "cargo", State: race.Queued, StartedAt: time.Now()}

	require.NoError(t, s.PutRace(r))

	got, err := s.GetRace(r.ID)
	require.NoError(t, err)
	require.Equal(t, r.ID, got.ID)
	require.Equal(t, r.Source, got.Source)
}

func TestGetRaceNotFound(t *testing.T) {
	s := openTest(t)
	_, err := s.GetRace("missing")
	require.Error(t, err)
}

func TestScanRacesOrdersAscendingByStartedAt(t *testing.T) {
	s := openTest(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		r := &race.Race{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.PutRace(r))
	}

	var order []string
	_, err := s.ScanRaces(ScanFilter{}, 0, func(r *race.Race) bool {
		order = append(order, r.ID)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestScanRacesRespectsLimitAndReturnsCursor(t *testing.T) {
	s := openTest(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		r := &race.Race{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.PutRace(r))
	}
	var order []string
	cursor, err := s.ScanRaces(ScanFilter{}, 1, func(r *race.Race) bool {
		order = append(order, r.ID)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, order)
	require.NotEmpty(t, cursor)
}

func TestScanRacesCursorChainCoversWindowExactlyOnce(t *testing.T) {
	s := openTest(t)
	base := time.Now()
	want := []string{"a", "b", "c", "d", "e"}
	for i, id := range want {
		r := &race.Race{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.PutRace(r))
	}

	var got []string
	cursor := ""
	for {
		var page []string
		next, err := s.ScanRaces(ScanFilter{Cursor: cursor}, 2, func(r *race.Race) bool {
			page = append(page, r.ID)
			return true
		})
		require.NoError(t, err)
		got = append(got, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	require.Equal(t, want, got)
}

func TestScanRacesFiltersByFromTo(t *testing.T) {
	s := openTest(t)
	base := time.Now()
	for i, id := range []string{"a", "b", "c", "d"} {
		r := &race.Race{ID: id, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.PutRace(r))
	}

	var order []string
	_, err := s.ScanRaces(ScanFilter{
		From: base.Add(30 * time.Second),
		To:   base.Add(2*time.Minute + 30*time.Second),
	}, 0, func(r *race.Race) bool {
		order = append(order, r.ID)
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, order)
}

func TestPurgeRacesRemovesAndAudits(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.PutRace(&race.Race{ID: "a", StartedAt: time.Now()}))
	require.NoError(t, s.PutRace(&race.Race{ID: "b", StartedAt: time.Now()}))

	removed, err := s.PurgeRaces([]string{"a", "missing"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = s.GetRace("a")
	require.Error(t, err)
	_, err = s.GetRace("b")
	require.NoError(t, err)
}

func TestDeleteRaceRemovesTimeIndex(t *testing.T) {
	s := openTest(t)
	r := &race.Race{ID: "x", StartedAt: time.Now()}
	require.NoError(t, s.PutRace(r))
	require.NoError(t, s.DeleteRace("x"))

	_, err := s.GetRace("x")
	require.Error(t, err)

	var order []string
	_, err = s.ScanRaces(ScanFilter{}, 0, func(r *race.Race) bool {
		order = append(order, r.ID)
		return true
	})
	require.NoError(t, err)
	require.Empty(t, order)
}

func TestReadOnlyRejectsWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	s, err := Open(Options{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	ro, err := Open(Options{Path: path, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	err = ro.PutRace(&race.Race{ID: "y", StartedAt: time.Now()})
	require.Error(t, err)
}

func TestIdempotencyTokenReuse(t *testing.T) {
	s := openTest(t)
	now := time.Now()

	existing, found, err := s.ReserveIdempotencyToken("tok-1", "race-1", now)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, existing)

	existing, found, err = s.ReserveIdempotencyToken("tok-1", "race-2", now)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "race-1", existing)
}

func TestIdempotencyTokenExpires(t *testing.T) {
	s := openTest(t)
	now := time.Now()

	_, found, err := s.ReserveIdempotencyToken("tok-2", "race-1", now)
	require.NoError(t, err)
	require.False(t, found)

	later := now.Add(25 * time.Hour)
	_, found, err = s.ReserveIdempotencyToken("tok-2", "race-2", later)
	require.NoError(t, err)
	require.False(t, found)
}

func TestClusterRoundTrip(t *testing.T) {
	s := openTest(t)
	c := &race.Cluster{ClusterID: "c1", Source: "cargo", LastUpdated: time.Now()}
	require.NoError(t, s.UpsertCluster(c))

	all, err := s.LoadAllClusters()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "c1", all[0].ClusterID)

	require.NoError(t, s.DeleteCluster("c1"))
	all, err = s.LoadAllClusters()
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestSnapshotProducesManifest(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.PutRace(&race.Race{ID: "a", StartedAt: time.Now()}))

	dir := t.TempDir()
	m, err := s.Snapshot(dir, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, m.SHA256)
	require.Greater(t, m.RawBytes, int64(0))
}
