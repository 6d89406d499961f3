// Package httpapi is the thin HTTP edge over the dispatcher: credential
// parsing, CORS, per-credential storm protection, idempotency replay for
// submit_result, and the admin surface. Handlers translate requests into
// dispatch.Dispatcher calls and back into spec.md §6/§7's wire shapes;
// no scheduling or rendezvous logic lives here.
package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1percentsync/sakura-dispatch/internal/config"
	"github.com/1percentsync/sakura-dispatch/internal/dispatch"
	"github.com/1percentsync/sakura-dispatch/internal/idempotency"
	"github.com/1percentsync/sakura-dispatch/internal/models"
	"github.com/1percentsync/sakura-dispatch/internal/notify"
	"github.com/1percentsync/sakura-dispatch/internal/queue"
	"github.com/1percentsync/sakura-dispatch/internal/store"
)

// API holds every dependency the HTTP edge needs, mirroring the teacher's
// API struct shape (one struct wired at startup, handlers as its methods).
type API struct {
	dispatcher  *dispatch.Dispatcher
	store       store.CredentialStore
	registry    *models.Registry
	hub         *notify.Hub
	idempotency *idempotency.Store
	cfg         config.DispatchConfig

	fetchLimiter  *queue.TokenBucketLimiter
	submitLimiter *queue.TokenBucketLimiter
}

// New builds an API. hub and idem may be nil (websocket wake-up and
// idempotency replay are both optional).
func New(d *dispatch.Dispatcher, st store.CredentialStore, registry *models.Registry, hub *notify.Hub, idem *idempotency.Store, cfg config.DispatchConfig) *API {
	return &API{
		dispatcher:  d,
		store:       st,
		registry:    registry,
		hub:         hub,
		idempotency: idem,
		cfg:         cfg,
		// Abuse protection complementing temp-ban: a worker or user hammering
		// fetch_task/submit_result can't storm the dispatcher while a
		// legitimate retry cycle is still within its window.
		fetchLimiter:  queue.NewTokenBucketLimiter(5, 10),
		submitLimiter: queue.NewTokenBucketLimiter(5, 10),
	}
}

// Routes builds the full handler tree, CORS-wrapped, matching the
// teacher's "wrap all routes with CORSMiddleware" pattern in main.go.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /{credential}/v1/chat/completions", a.handleChatCompletions)
	mux.HandleFunc("POST /{credential}/{model}/v1/chat/completions", a.handleChatCompletions)
	mux.HandleFunc("POST /{credential}/fetch_task", a.handleFetchTask)
	mux.HandleFunc("POST /{credential}/submit_result", a.handleSubmitResult)
	mux.HandleFunc("GET /{credential}/v1/models", a.handleListModels)
	mux.HandleFunc("GET /{credential}/{model}/v1/models", a.handleListModels)
	mux.HandleFunc("GET /{credential}/ws", a.handleWorkerSocket)

	mux.HandleFunc("GET /admin/users", a.adminAuth(a.handleAdminListUsers))
	mux.HandleFunc("POST /admin/users", a.adminAuth(a.handleAdminCreateOrRotateUser))
	mux.HandleFunc("POST /admin/users/{id}/ban", a.adminAuth(a.handleAdminSetBanned))
	mux.HandleFunc("POST /admin/users/{id}/credit", a.adminAuth(a.handleAdminAdjustCredit))
	mux.HandleFunc("POST /admin/users/{id}/rotate-token", a.adminAuth(a.handleAdminRotateToken))

	return corsMiddleware(mux)
}
