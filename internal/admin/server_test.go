package admin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/store"
	"github.com/raceboard/server/internal/telemetry/metrics"
)

type fakeMaintainer struct {
	count int
}

func (f fakeMaintainer) RaceCount() (int, error) { return f.count, nil }
func (f fakeMaintainer) Snapshot(destDir string, now time.Time) (*store.Manifest, error) {
	return &store.Manifest{Path: destDir + "/snap.db.zst", TakenAt: now}, nil
}
func (f fakeMaintainer) Compact(tmpPath string) error { return nil }
func (f fakeMaintainer) PurgeRaces(ids []string, now time.Time) (int, error) {
	return len(ids), nil
}

func TestHealthEndpoint(t *testing.T) {
	active := activestore.New(10, 10)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, fakeMaintainer{count: 3}, mp, nil, t.TempDir(), false)
	r := mux.NewRouter()
	srv.Routes(r)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestStorageReportEndpoint(t *testing.T) {
	active := activestore.New(10, 10)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, fakeMaintainer{count: 7}, mp, nil, t.TempDir(), false)
	r := mux.NewRouter()
	srv.Routes(r)

	req := httptest.NewRequest("GET", "/admin/storage-report", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestPurgeRejectedWhenReadOnly(t *testing.T) {
	active := activestore.New(10, 10)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, fakeMaintainer{}, mp, nil, t.TempDir(), true)
	r := mux.NewRouter()
	srv.Routes(r)

	req := httptest.NewRequest("POST", "/admin/purge", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPurgeRemovesRaces(t *testing.T) {
	active := activestore.New(10, 10)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, fakeMaintainer{}, mp, nil, t.TempDir(), false)
	r := mux.NewRouter()
	srv.Routes(r)

	body, _ := json.Marshal(purgeRequest{RaceIDs: []string{"a", "b"}})
	req := httptest.NewRequest("POST", "/admin/purge", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, float64(2), resp["purged"])
}

func TestPurgeRejectsEmptyRaceIDs(t *testing.T) {
	active := activestore.New(10, 10)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, fakeMaintainer{}, mp, nil, t.TempDir(), false)
	r := mux.NewRouter()
	srv.Routes(r)

	body, _ := json.Marshal(purgeRequest{})
	req := httptest.NewRequest("POST", "/admin/purge", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpointServedWhenPrometheus(t *testing.T) {
	active := activestore.New(10, 10)
	mp, err := metrics.Select(metrics.BackendPrometheus, "test")
	require.NoError(t, err)
	srv := NewServer(active, fakeMaintainer{}, mp, nil, t.TempDir(), false)
	r := mux.NewRouter()
	srv.Routes(r)

	req := httptest.NewRequest("GET", "/admin/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
