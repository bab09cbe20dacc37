// Package admin implements the operator-facing endpoints (spec C10):
// liveness, metrics export, and storage maintenance actions, wired the same
// way the teacher engine's selectMetricsProvider backend feeds its own
// scrape handler.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/store"
	"github.com/raceboard/server/internal/telemetry/logging"
	"github.com/raceboard/server/internal/telemetry/metrics"
)

// Maintainer is the subset of internal/store admin drives maintenance
// operations against.
type Maintainer interface {
	RaceCount() (int, error)
	Snapshot(destDir string, now time.Time) (*store.Manifest, error)
	Compact(tmpPath string) error
	PurgeRaces(ids []string, now time.Time) (int, error)
}

type Server struct {
	active    *activestore.Store
	store     Maintainer
	metrics   metrics.Provider
	log       logging.Logger
	snapshotDir string
	readOnly  bool
}

func NewServer(active *activestore.Store, store Maintainer, mp metrics.Provider, log logging.Logger, snapshotDir string, readOnly bool) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{active: active, store: store, metrics: mp, log: log, snapshotDir: snapshotDir, readOnly: readOnly}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/admin/storage-report", s.handleStorageReport).Methods("GET")
	r.HandleFunc("/admin/compact", s.handleCompact).Methods("POST")
	r.HandleFunc("/admin/purge", s.handlePurge).Methods("POST")
	if h := s.metrics.Handler(); h != nil {
		r.Handle("/admin/metrics", h).Methods("GET")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"active_races": s.active.Len(),
		"read_only":    s.readOnly,
	})
}

func (s *Server) handleStorageReport(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.RaceCount()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"persisted_races": count,
		"active_races":    s.active.Len(),
	})
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	if s.readOnly {
		writeError(w, apperr.New(apperr.ReadOnly, "server is running in read-only mode"))
		return
	}
	tmpPath := s.snapshotDir + "/compact.tmp.db"
	if err := s.store.Compact(tmpPath); err != nil {
		writeError(w, apperr.Wrap(apperr.Unavailable, "compaction failed", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "compacted"})
}

type purgeRequest struct {
	RaceIDs []string `json:"race_ids"`
}

// handlePurge removes the named races from both the active set and durable
// storage, per the admin purge contract. A race still held in the active
// set is deleted there too so activestore's evict-to-store callback can't
// resurrect it after the purge.
func (s *Server) handlePurge(w http.ResponseWriter, r *http.Request) {
	if s.readOnly {
		writeError(w, apperr.New(apperr.ReadOnly, "server is running in read-only mode"))
		return
	}
	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}
	if len(req.RaceIDs) == 0 {
		writeError(w, apperr.Validationf("race_ids must not be empty"))
		return
	}
	for _, id := range req.RaceIDs {
		s.active.Delete(id)
	}
	removed, err := s.store.PurgeRaces(req.RaceIDs, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"purged": removed})
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
