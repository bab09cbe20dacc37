package ingest

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/raceboard/server/internal/activestore"
	"github.com/raceboard/server/internal/apperr"
	"github.com/raceboard/server/internal/progress"
	"github.com/raceboard/server/internal/race"
)

type createRequest struct {
	ID       string            `json:"id"`
	Source   string            `json:"source"`
	Title    string            `json:"title"`
	State    race.State        `json:"state"`
	Progress *int              `json:"progress"`
	EtaSec   *int              `json:"eta_sec"`
	Deeplink string            `json:"deeplink"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}
	if req.State == "" {
		req.State = race.Queued
	}
	if err := race.ValidateCreate(req.ID, req.Source, req.Title, req.State, req.Progress, req.EtaSec); err != nil {
		writeError(w, err)
		return
	}

	now := time.Now()

	if token := r.Header.Get("Idempotency-Key"); token != "" {
		if existingID, found, err := s.store.ReserveIdempotencyToken(token, req.ID, now); err == nil && found {
			if existing, ok := s.active.Get(existingID); ok {
				writeJSON(w, http.StatusOK, existing)
				return
			}
		}
	}

	rec := &race.Race{
		ID: req.ID, Source: req.Source, Title: req.Title, State: req.State,
		Progress: req.Progress, Deeplink: req.Deeplink,
		Metadata: req.Metadata, StartedAt: now,
	}
	if req.Progress != nil {
		rec.SetMaxProgressSeen(*req.Progress)
	}

	// eta_source follows the race's source family regardless of whether an
	// explicit eta_sec arrived with it: calendar/ics adapters report exact
	// wall-clock ETAs, CI adapters report adapter-computed ones, and only a
	// race with neither gets a statistical prediction from the cascade.
	inferred := progress.InferEtaSource(rec.Source)
	switch {
	case req.EtaSec != nil:
		progress.ApplyEta(rec, *req.EtaSec, inferred, progress.ConfidenceFor(inferred), now)
	case inferred == race.EtaExact || inferred == race.EtaAdapter:
		progress.SeedEtaMetadata(rec, inferred)
	case s.cascade != nil:
		pred := s.cascade.Predict(rec.Source, rec.Title, rec.Metadata)
		progress.ApplyEta(rec, pred.EtaSec, pred.Source, pred.Confidence, now)
	}

	if err := s.store.PutRace(rec); err != nil {
		writeError(w, err)
		return
	}
	s.active.Put(rec)
	s.active.Publish(activestore.Change{Kind: activestore.ChangeCreated, RaceID: rec.ID, Snapshot: rec.Clone()})

	writeJSON(w, http.StatusCreated, rec)
}

type patchRequest struct {
	State    *race.State       `json:"state"`
	Progress *int              `json:"progress"`
	EtaSec   *int              `json:"eta_sec"`
	Title    *string           `json:"title"`
	Deeplink *string           `json:"deeplink"`
	Metadata map[string]string `json:"metadata"`
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}

	now := time.Now()
	var out *race.Race
	err := s.active.Mutate(id, func(rec *race.Race) error {
		if req.State != nil {
			if !race.CanTransition(rec.State, *req.State) {
				return apperr.New(apperr.Conflict, "illegal state transition")
			}
			rec.State = *req.State
			if rec.State.Terminal() {
				progress.Finish(rec, now)
			}
		}
		if req.Progress != nil && !rec.State.Terminal() {
			progress.ApplyProgress(rec, *req.Progress, now)
		}
		if req.EtaSec != nil && !rec.State.Terminal() {
			src := progress.InferEtaSource(rec.Source)
			progress.ApplyEta(rec, *req.EtaSec, src, progress.ConfidenceFor(src), now)
		}
		if req.Title != nil {
			rec.Title = *req.Title
		}
		if req.Deeplink != nil {
			rec.Deeplink = *req.Deeplink
		}
		if req.Metadata != nil {
			rec.Metadata = req.Metadata
		}
		out = rec
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.PutRace(out); err != nil {
		writeError(w, err)
		return
	}
	s.active.Publish(activestore.Change{Kind: activestore.ChangeUpdated, RaceID: id, Snapshot: out.Clone()})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.active.Delete(id); !ok {
		writeError(w, apperr.NotFoundf("race %q not found", id))
		return
	}
	if err := s.store.DeleteRace(id); err != nil {
		writeError(w, err)
		return
	}
	s.active.Publish(activestore.Change{Kind: activestore.ChangeDeleted, RaceID: id})
	w.WriteHeader(http.StatusNoContent)
}

type eventRequest struct {
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload"`
}

func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validationf("malformed request body: %v", err))
		return
	}
	if req.EventType == "" {
		writeError(w, apperr.Validationf("event_type must not be empty"))
		return
	}

	ev := race.Event{Timestamp: time.Now(), EventType: req.EventType, Payload: req.Payload}
	rec, err := s.active.AppendEvent(id, ev)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.store.PutRace(rec); err != nil {
		writeError(w, err)
		return
	}
	s.active.Publish(activestore.Change{Kind: activestore.ChangeEvent, RaceID: id, Snapshot: rec.Clone()})
	writeJSON(w, http.StatusOK, rec)
}
