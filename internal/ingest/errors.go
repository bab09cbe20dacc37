package ingest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/raceboard/server/internal/apperr"
)

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		ae = apperr.Wrap(apperr.Unavailable, "internal error", err)
	}
	if ae.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ae.RetryAfter))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(ae.Kind))
	json.NewEncoder(w).Encode(errorBody{Error: ae.Message, Kind: string(ae.Kind), Details: ae.Details})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readOnlyErr() error {
	return apperr.New(apperr.ReadOnly, "server is running in read-only mode")
}
