package adapterhealth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

func newTestServer() (*Server, *mux.Router) {
	reg := NewRegistry(defaultThresholds(), &fakeClock{now: time.Now()})
	srv := NewServer(reg, nil)
	r := mux.NewRouter()
	srv.Routes(r)
	return srv, r
}

func TestRegisterThenHealthReportsRunning(t *testing.T) {
	_, r := newTestServer()

	body, _ := json.Marshal(registerRequest{AdapterType: "gitlab", InstanceID: "host-1", ExpectedInterval: 30})
	req := httptest.NewRequest("POST", "/adapter/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	reportBody, _ := json.Marshal(reportRequest{AdapterType: "gitlab", InstanceID: "host-1", State: Running})
	reportReq := httptest.NewRequest("POST", "/adapter/health", bytes.NewReader(reportBody))
	reportW := httptest.NewRecorder()
	r.ServeHTTP(reportW, reportReq)
	require.Equal(t, http.StatusOK, reportW.Code)

	var got Instance
	require.NoError(t, json.Unmarshal(reportW.Body.Bytes(), &got))
	require.Equal(t, Running, got.State)
}

func TestGetUnknownAdapterReturnsNotFound(t *testing.T) {
	_, r := newTestServer()
	req := httptest.NewRequest("GET", "/adapter/gitlab/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeregisterThenList(t *testing.T) {
	_, r := newTestServer()
	body, _ := json.Marshal(registerRequest{AdapterType: "gitlab", InstanceID: "host-1", ExpectedInterval: 30})
	req := httptest.NewRequest("POST", "/adapter/register", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	delReq := httptest.NewRequest("DELETE", "/adapter/gitlab/host-1", nil)
	delW := httptest.NewRecorder()
	r.ServeHTTP(delW, delReq)
	require.Equal(t, http.StatusNoContent, delW.Code)

	listReq := httptest.NewRequest("GET", "/adapters", nil)
	listW := httptest.NewRecorder()
	r.ServeHTTP(listW, listReq)
	require.Equal(t, http.StatusOK, listW.Code)

	var body2 struct {
		Adapters []Instance `json:"adapters"`
		Count    int        `json:"count"`
	}
	require.NoError(t, json.Unmarshal(listW.Body.Bytes(), &body2))
	require.Equal(t, 1, body2.Count)
	require.Equal(t, Stopped, body2.Adapters[0].State)
}
