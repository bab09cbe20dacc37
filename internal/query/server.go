// Package query implements the read-side REST API (spec C5): single-race
// lookup and the active/historic list endpoints UIs poll or page through.
package query

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/store"
	"github.com/raceboard/server/internal/telemetry/logging"
)

// HistoricSource is the read side of internal/store this package needs.
type HistoricSource interface {
	GetRace(id string) (*race.Race, error)
	ScanRaces(filter store.ScanFilter, limit int, fn func(*race.Race) bool) (string, error)
}

type Server struct {
	active *activestore.Store
	store  HistoricSource
	log    logging.Logger
}

func NewServer(active *activestore.Store, store HistoricSource, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{active: active, store: store, log: log}
}

func (s *Server) Routes(r *mux.Router) {
	r.HandleFunc("/race/{id}", s.handleGetRace).Methods("GET")
	r.HandleFunc("/races", s.handleListActive).Methods("GET")
	r.HandleFunc("/historic/races", s.handleListHistoric).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encodeJSON(w, v)
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.Unavailable, "internal error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(ae.Kind))
	encodeJSON(w, map[string]string{"error": ae.Message, "kind": string(ae.Kind)})
}

// handleGetRace checks the active set first since most lookups are for
// in-flight races; a hit there avoids a bbolt read entirely.
func (s *Server) handleGetRace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if rec, ok := s.active.Get(id); ok {
		writeJSON(w, http.StatusOK, rec)
		return
	}
	rec, err := s.store.GetRace(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListActive(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	state := r.URL.Query().Get("state")

	all := s.active.List()
	out := make([]*race.Race, 0, len(all))
	for _, rec := range all {
		if source != "" && rec.Source != source {
			continue
		}
		if state != "" && string(rec.State) != state {
			continue
		}
		out = append(out, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"races": out, "count": len(out)})
}

const defaultHistoricLimit = 100
const maxHistoricLimit = 1000

// handleListHistoric pages the durable time index ascending by
// (started_at, id), the order the cursor contract is defined over. source
// filtering happens after decode, so limit counts matching results rather
// than raw scanned rows; the store's own cursor still reflects the last
// key it actually walked regardless of whether that row matched.
func (s *Server) handleListHistoric(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultHistoricLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxHistoricLimit {
		limit = maxHistoricLimit
	}
	source := q.Get("source")
	includeEvents := q.Get("include_events") == "true"

	filter := store.ScanFilter{Cursor: q.Get("cursor")}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.Validationf("invalid from: %v", err))
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, apperr.Validationf("invalid to: %v", err))
			return
		}
		filter.To = t
	}

	out := make([]*race.Race, 0, limit)
	nextCursor, err := s.store.ScanRaces(filter, 0, func(rec *race.Race) bool {
		if source != "" && rec.Source != source {
			return true
		}
		if !includeEvents {
			rec.Events = nil
		}
		out = append(out, rec)
		return len(out) < limit
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := map[string]any{"races": out, "count": len(out)}
	if nextCursor != "" {
		resp["next_cursor"] = nextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}
