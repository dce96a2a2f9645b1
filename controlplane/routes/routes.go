// Package routes registers the control plane's read-only diagnostic routes
// onto a gorilla/mux router.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"resonance-engine/controlplane/controllers"
)

// Register wires ctrl's handlers onto r, plus an optional Prometheus
// /metrics handler when metrics is non-nil.
func Register(r *mux.Router, ctrl *controllers.Controller, metrics http.Handler) {
	r.HandleFunc("/health", ctrl.Health).Methods(http.MethodGet)
	r.HandleFunc("/session", ctrl.Session).Methods(http.MethodGet)
	r.HandleFunc("/values", ctrl.Values).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
}
