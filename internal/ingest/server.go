// Package ingest implements the adapter-facing REST API (spec C4): creating,
// patching, and deleting races, and appending events to one. Routing uses
// gorilla/mux, the same router the rest of this pack's service layer uses,
// with a middleware chain modeled on the teacher's metrics-wrapped
// http.ResponseWriter pattern.
package ingest

import (
	"time"

	"github.com/gorilla/mux"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/cluster"
	"github.com/raceboard/server/internal/predict"
	"github.com/raceboard/server/internal/race"
	"github.com/raceboard/server/internal/telemetry/logging"
	"github.com/raceboard/server/internal/telemetry/metrics"
)

// WriteThrough is the subset of internal/store the ingestion handlers
// write to, kept as an interface so this package's tests use an in-memory
// fake instead of a real bbolt file.
type WriteThrough interface {
	PutRace(r *race.Race) error
	DeleteRace(id string) error
	ReserveIdempotencyToken(token, raceID string, now time.Time) (string, bool, error)
}

type Server struct {
	active   *activestore.Store
	store    WriteThrough
	cascade  *predict.Cascade
	weights  cluster.Weights
	metrics  metrics.Provider
	log      logging.Logger
	readOnly bool

	maxBodyBytes int64
	reqTimeout   time.Duration
}

type Config struct {
	ReadOnly     bool
	MaxBodyBytes int64
	RequestTimeout time.Duration
}

func NewServer(active *activestore.Store, store WriteThrough, cascade *predict.Cascade, weights cluster.Weights, mp metrics.Provider, log logging.Logger, cfg Config) *Server {
	if log == nil {
		log = logging.Noop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Server{
		active:       active,
		store:        store,
		cascade:      cascade,
		weights:      weights,
		metrics:      mp,
		log:          log,
		readOnly:     cfg.ReadOnly,
		maxBodyBytes: cfg.MaxBodyBytes,
		reqTimeout:   cfg.RequestTimeout,
	}
}

// Routes mounts the ingestion endpoints onto r, wrapping every handler with
// the shared middleware chain.
func (s *Server) Routes(r *mux.Router) {
	r.Handle("/race", s.chain(s.handleCreate)).Methods("POST")
	r.Handle("/race/{id}", s.chain(s.handlePatch)).Methods("PATCH")
	r.Handle("/race/{id}", s.chain(s.handleDelete)).Methods("DELETE")
	r.Handle("/race/{id}/event", s.chain(s.handleAppendEvent)).Methods("POST")
}
