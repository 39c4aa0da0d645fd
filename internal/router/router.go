// Package router builds the top-level HTTP handler: the middleware
// chain followed by dialect dispatch.
package router

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/conorvenus/microstack/internal/ledger"
	appmw "github.com/conorvenus/microstack/internal/middleware"
	"github.com/conorvenus/microstack/internal/objectstore"
	"github.com/conorvenus/microstack/internal/orchestrator"
	"github.com/conorvenus/microstack/internal/registry"
	"github.com/conorvenus/microstack/internal/runtime"
	"github.com/conorvenus/microstack/internal/wire/lambdaapi"
	"github.com/conorvenus/microstack/internal/wire/logsapi"
	"github.com/conorvenus/microstack/internal/wire/objectapi"
	"github.com/conorvenus/microstack/internal/wire/stackapi"
)

const functionPathPrefix = "/2015-03-31/functions"

// New builds the full server handler: middleware chain, then per
// -request dialect selection by path/header/content-type.
func New(
	logger zerolog.Logger,
	maxBodyBytes int64,
	led *ledger.Ledger,
	store *objectstore.Store,
	reg *registry.Registry,
	rt *runtime.Runtime,
	orch *orchestrator.Orchestrator,
) http.Handler {
	r := chi.NewRouter()

	r.Use(appmw.CORS)
	r.Use(appmw.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(appmw.RequestLogger(logger))
	r.Use(appmw.MaxBodyBytes(maxBodyBytes))

	r.Get("/microstack/health", health)

	r.Mount(functionPathPrefix, lambdaapi.Routes(reg, rt))

	logsHandler := logsapi.Handler(led)
	stackHandler := stackapi.Handler(orch)
	objectHandler := objectapi.Handler(store)

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Header.Get("X-Amz-Target") != "":
			logsHandler(w, r)
		case strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded"):
			stackHandler(w, r)
		default:
			objectHandler(w, r)
		}
	})

	r.NotFound(objectHandler)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { objectHandler(w, r) })

	return r
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
