package ingest

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

var errNoRoute = errors.New("no matched route")

// routeTemplate returns the mux route pattern ("/race/{id}") rather than
// the literal request path, so the request-duration metric doesn't create
// one label series per race ID.
func routeTemplate(r *http.Request) (string, error) {
	route := mux.CurrentRoute(r)
	if route == nil {
		return "", errNoRoute
	}
	return route.GetPathTemplate()
}
