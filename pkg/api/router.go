// Package api exposes the ledger over HTTP.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/audit"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/clock"
	"github.com/shunichi-ikebuchi/ledger-engine/pkg/ledger"
)

// Dependencies are the services the router serves.
type Dependencies struct {
	Accounts *account.Store
	Engine   *ledger.Engine
	Audit    *audit.Recorder
	Clock    clock.Clock
	Logger   *slog.Logger
	Timeout  time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewReal()
	}
	if deps.Timeout <= 0 {
		deps.Timeout = 60 * time.Second
	}

	accountsHandler := NewAccountsHandler(deps.Accounts)
	transactionsHandler := NewTransactionsHandler(deps.Engine)
	auditHandler := NewAuditHandler(deps.Audit, deps.Clock)

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Timeout))

	r.Group(func(r chi.Router) {
		r.Use(OwnerMiddleware)

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", accountsHandler.List)
			r.Post("/", accountsHandler.Create)
			r.Get("/{id}", accountsHandler.Get)
			r.Post("/{id}/deactivate", accountsHandler.Deactivate)
		})

		r.Route("/transactions", func(r chi.Router) {
			r.Get("/", transactionsHandler.List)
			r.Post("/", transactionsHandler.Create)
			r.Get("/{id}", transactionsHandler.Get)
			r.Put("/{id}", transactionsHandler.Update)
			r.Delete("/{id}", transactionsHandler.Delete)
			r.Post("/{id}/merge", transactionsHandler.Merge)
			r.Post("/{id}/unmerge", transactionsHandler.Unmerge)
			r.Post("/{id}/not-duplicate", transactionsHandler.NotDuplicate)
			r.Get("/{id}/merged", transactionsHandler.Merged)
			r.Get("/{id}/duplicates", transactionsHandler.Duplicates)
		})

		r.Get("/usage", transactionsHandler.Usage)

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", auditHandler.List)
			r.Get("/summary", auditHandler.Summary)
			r.Get("/{entityType}/{entityId}", auditHandler.Entity)
		})
	})

	// Health check endpoint.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return r
}
