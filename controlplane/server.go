// Package controlplane assembles the read-only diagnostics HTTP surface
// into an *http.Server the engine CLI can start and stop alongside the
// rest of a session, following a main/routes/controllers split.
package controlplane

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"resonance-engine/controlplane/controllers"
	"resonance-engine/controlplane/middleware"
	"resonance-engine/controlplane/routes"
	"resonance-engine/core"
)

// NewServer builds an *http.Server exposing session's diagnostics on addr.
// It does not start listening; callers manage the server's lifecycle
// (typically via ListenAndServe in its own goroutine, Shutdown on session
// end).
func NewServer(session *core.Session, addr string) *http.Server {
	ctrl := controllers.New(session)
	r := mux.NewRouter()
	r.Use(middleware.Logger)

	var metrics http.Handler
	if t := session.Telemetry(); t != nil {
		metrics = t.Handler()
	}
	routes.Register(r, ctrl, metrics)

	return &http.Server{Addr: addr, Handler: r}
}

// MustLog announces the control plane's listen address through logrus's
// standard logger.
func MustLog(addr string) {
	logrus.Infof("control plane listening on %s", addr)
}
