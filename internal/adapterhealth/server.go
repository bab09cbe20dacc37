package adapterhealth

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/telemetry/logging"
)

// Server exposes the adapter registration/health REST surface (spec C9):
// adapters call it directly, so its wire shapes stay separate from the
// internal Instance/RegisterRequest types the registry itself works with,
// the same wire-request-vs-domain-type split internal/ingest uses.
type Server struct {
	reg *Registry
	log logging.Logger
}

func NewServer(reg *Registry, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{reg: reg, log: log}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/adapter/register", s.handleRegister).Methods("POST")
	r.HandleFunc("/adapter/health", s.handleReport).Methods("POST")
	r.HandleFunc("/adapter/{type}/{id}", s.handleGet).Methods("GET")
	r.HandleFunc("/adapter/{type}/{id}", s.handleDeregister).Methods("DELETE")
	r.HandleFunc("/adapters", s.handleList).Methods("GET")
}

type registerRequest struct {
	AdapterType      string            `json:"adapter_type"`
	InstanceID       string            `json:"instance_id"`
	DisplayName      string            `json:"display_name"`
	ExpectedInterval int               `json:"expected_interval_sec"`
	Capabilities     []string          `json:"capabilities"`
	Metadata         map[string]string `json:"metadata"`
	Exempt           bool              `json:"exempt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}
	if req.AdapterType == "" || req.InstanceID == "" {
		writeError(w, apperr.Validationf("adapter_type and instance_id are required"))
		return
	}
	inst, err := s.reg.Register(RegisterRequest{
		AdapterType:      req.AdapterType,
		InstanceID:       req.InstanceID,
		DisplayName:      req.DisplayName,
		ExpectedInterval: time.Duration(req.ExpectedInterval) * time.Second,
		Capabilities:     req.Capabilities,
		Metadata:         req.Metadata,
		Exempt:           req.Exempt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

type reportRequest struct {
	AdapterType string            `json:"adapter_type"`
	InstanceID  string            `json:"instance_id"`
	State       HealthState       `json:"state"`
	Metrics     map[string]string `json:"metrics"`
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}
	reported := req.State
	if reported == "" {
		reported = Running
	}
	inst, err := s.reg.Report(req.AdapterType, req.InstanceID, req.Metrics, reported)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	inst, ok := s.reg.Get(vars["type"], vars["id"])
	if !ok {
		writeError(w, apperr.NotFoundf("adapter instance %s/%s not registered", vars["type"], vars["id"]))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.reg.Deregister(vars["type"], vars["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	instances := s.reg.List()
	writeJSON(w, http.StatusOK, map[string]any{"adapters": instances, "count": len(instances)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.Unavailable, "internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(ae.Kind))
	json.NewEncoder(w).Encode(map[string]string{"error": ae.Message, "kind": string(ae.Kind)})
}
