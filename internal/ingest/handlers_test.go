package ingest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/cluster"
	"github.com/raceboard/server/internal/predict"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/telemetry/metrics"
)

type fakeStore struct {
	mu     sync.Mutex
	races  map[string]*race.Race
	tokens map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{races: map[string]*race.Race{}, tokens: map[string]string{}}
}

func (f *fakeStore) PutRace(r *race.Race) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.races[r.ID] = r
	return nil
}

func (f *fakeStore) DeleteRace(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.races, id)
	return nil
}

func (f *fakeStore) ReserveIdempotencyToken(token, raceID string, now time.Time) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.tokens[token]; ok {
		return existing, true, nil
	}
	f.tokens[token] = raceID
	return "", false, nil
}

func newTestServer() (*Server, *mux.Router) {
	active := activestore.New(100, 100)
	st := newFakeStore()
	reg := cluster.NewRegistry()
	cascade := predict.NewCascade(reg, nil, cluster.Weights{Title: 0.6, Metadata: 0.4}, nil, nil, 60)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, st, cascade, cluster.Weights{Title: 0.6, Metadata: 0.4}, mp, nil, Config{})
	r := mux.NewRouter()
	srv.Routes(r)
	return srv, r
}

func TestHandleCreate(t *testing.T) {
	_, r := newTestServer()
	body, _ := json.Marshal(createRequest{ID: "cargo:1", Source: "cargo", Title: "cargo test"})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got race.Race
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "cargo:1", got.ID)
}

func TestHandleCreateRejectsReservedID(t *testing.T) {
	_, r := newTestServer()
	body, _ := json.Marshal(createRequest{ID: "adapter:whatever", Source: "cargo", Title: "t"})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlePatchProgress(t *testing.T) {
	_, r := newTestServer()
	body, _ := json.Marshal(createRequest{ID: "cargo:2", Source: "cargo", Title: "t"})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	progressVal := 50
	patchBody, _ := json.Marshal(patchRequest{Progress: &progressVal})
	patchReq := httptest.NewRequest("PATCH", "/race/cargo:2", bytes.NewReader(patchBody))
	patchW := httptest.NewRecorder()
	r.ServeHTTP(patchW, patchReq)

	require.Equal(t, http.StatusOK, patchW.Code)
	var got race.Race
	require.NoError(t, json.Unmarshal(patchW.Body.Bytes(), &got))
	require.Equal(t, 50, *got.Progress)
}

func TestHandleCreateInfersAdapterEtaSourceColdStart(t *testing.T) {
	_, r := newTestServer()
	body, _ := json.Marshal(createRequest{ID: "gitlab:1", Source: "gitlab", Title: "pipeline"})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got race.Race
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, race.EtaAdapter, got.EtaSource)
	require.Equal(t, 0.5, got.EtaConfidence)
	require.Equal(t, 10, got.UpdateIntervalHint)
	require.Nil(t, got.EtaSec)
}

func TestHandleCreateCalendarSourceWithEtaSecGetsExactSource(t *testing.T) {
	_, r := newTestServer()
	etaSec := 1800
	body, _ := json.Marshal(createRequest{ID: "gcal:1", Source: "google-calendar", Title: "meeting", EtaSec: &etaSec})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got race.Race
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, race.EtaExact, got.EtaSource)
	require.Equal(t, 1.0, got.EtaConfidence)
	require.Equal(t, 60, got.UpdateIntervalHint)
	require.Equal(t, 1800, *got.EtaSec)
}

func TestHandleDeleteNotFound(t *testing.T) {
	_, r := newTestServer()
	req := httptest.NewRequest("DELETE", "/race/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestReadOnlyRejectsCreate(t *testing.T) {
	active := activestore.New(100, 100)
	st := newFakeStore()
	reg := cluster.NewRegistry()
	cascade := predict.NewCascade(reg, nil, cluster.Weights{Title: 0.6, Metadata: 0.4}, nil, nil, 60)
	mp, _ := metrics.Select(metrics.BackendNoop, "test")
	srv := NewServer(active, st, cascade, cluster.Weights{Title: 0.6, Metadata: 0.4}, mp, nil, Config{ReadOnly: true})
	r := mux.NewRouter()
	srv.Routes(r)

	body, _ := json.Marshal(createRequest{ID: "adapter:x", Source: "cargo", Title: "t"})
	req := httptest.NewRequest("POST", "/race", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
