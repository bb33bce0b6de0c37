// Package httptransport exposes the lender's admin surface over HTTP. The
// handlers are thin: they decode, delegate to the composed lender, and map
// coded errors to statuses. All business rules live in the services.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flowlend/internal/lender"
	"flowlend/internal/platform/metrics"
	"flowlend/internal/platform/middleware"
	dErrors "flowlend/pkg/domain-errors"
)

type Handler struct {
	lender *lender.Lender
	logger *slog.Logger
}

func NewHandler(l *lender.Lender, logger *slog.Logger) *Handler {
	return &Handler{lender: l, logger: logger}
}

// NewRouter wires the admin surface. Health and metrics are open; everything
// else requires an authenticated principal.
func NewRouter(h *Handler, jwtSigningKey []byte, httpMetrics *metrics.HTTP) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestContext)
	if httpMetrics != nil {
		r.Use(httpMetrics.Middleware)
	}

	r.Get("/healthz", h.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(jwtSigningKey, h.logger))

		r.Get("/ledger/debt", h.handleCurrentDebt)
		r.Post("/ledger/repay", h.handleRepay)
		r.Post("/ledger/withdraw", h.handleWithdraw)
		r.Post("/ledger/cash-out", h.handleCashOut)
		r.Post("/ledger/customer", h.handleSetCustomer)
		r.Post("/ledger/buffer", h.handleSetBuffer)
		r.Post("/ledger/active-risk-module", h.handleSetActiveBackend)

		r.Post("/policies", h.handleCreatePolicy)
		r.Post("/policies/batch", h.handleCreateBatch)
		r.Get("/policies", h.handleListPolicies)

		r.Post("/callbacks/payout", h.handlePayoutCallback)
		r.Post("/callbacks/expire", h.handleExpireCallback)

		r.Post("/roles/grant", h.handleGrantRole)
		r.Post("/roles/revoke", h.handleRevokeRole)
		r.Get("/roles/{principal}", h.handleListRoles)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps coded domain errors onto HTTP statuses. The error code,
// not the message, is the machine-readable part of the contract.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case dErrors.CodeUnauthorized:
		status = http.StatusForbidden
	case dErrors.CodeBadRequest, dErrors.CodeInvalidAmount:
		status = http.StatusBadRequest
	case dErrors.CodeStalePrice, dErrors.CodeCrossPoolMismatch, dErrors.CodeTransferFailed:
		status = http.StatusConflict
	case dErrors.CodeUnknownPolicy, dErrors.CodeNotFound:
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{
		"error":   string(code),
		"message": err.Error(),
	})
}
