package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	policymodels "flowlend/internal/policy/models"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
	"flowlend/pkg/money"
	"flowlend/pkg/requestcontext"
)

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid request body")
	}
	return nil
}

// parseAmount accepts a decimal string; "max" means the clamp-to-available
// sentinel.
func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "max" {
		return money.MaxAmount, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, dErrors.Newf(dErrors.CodeInvalidAmount, "invalid amount %q", raw)
	}
	return amount, nil
}

type policyResponse struct {
	ID          string `json:"id"`
	Backend     string `json:"backend"`
	Holder      string `json:"holder"`
	Beneficiary string `json:"beneficiary"`
	Premium     string `json:"premium"`
	Coverage    string `json:"coverage"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func toPolicyResponse(p *policymodels.Policy) policyResponse {
	return policyResponse{
		ID:          p.ID.String(),
		Backend:     p.Backend.String(),
		Holder:      p.Holder.String(),
		Beneficiary: p.Beneficiary.String(),
		Premium:     p.Premium.String(),
		Coverage:    p.Coverage.String(),
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) handleCurrentDebt(w http.ResponseWriter, r *http.Request) {
	debt, err := h.lender.CurrentDebt(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_debt": debt.String()})
}

func (h *Handler) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	paid, err := h.lender.Repay(ctx, requestcontext.Principal(ctx), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

func (h *Handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      string `json:"amount"`
		Destination string `json:"destination"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	taken, err := h.lender.Withdraw(ctx, requestcontext.Principal(ctx), amount, id.Principal(req.Destination))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"withdrawn": taken.String()})
}

func (h *Handler) handleCashOut(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      string `json:"amount"`
		Destination string `json:"destination"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	paid, err := h.lender.CashOut(ctx, requestcontext.Principal(ctx), amount, id.Principal(req.Destination))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"paid": paid.String()})
}

func (h *Handler) handleSetCustomer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Customer string `json:"customer"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.lender.SetCustomer(ctx, requestcontext.Principal(ctx), id.Principal(req.Customer)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"customer": req.Customer})
}

func (h *Handler) handleSetBuffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Buffer string `json:"buffer"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	buffer, err := parseAmount(req.Buffer)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.lender.SetBuffer(ctx, requestcontext.Principal(ctx), buffer); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"buffer": buffer.String()})
}

func (h *Handler) handleSetActiveBackend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		// BackendID empty means return to the default backend.
		BackendID string `json:"backend_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.lender.SetActiveBackend(ctx, requestcontext.Principal(ctx), id.BackendID(req.BackendID)); err != nil {
		writeError(w, err)
		return
	}

	active, err := h.lender.ActiveBackend(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_backend": active.ID.String()})
}

func (h *Handler) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quote       string `json:"quote"`
		Beneficiary string `json:"beneficiary"`
		// Holder is optional; set it to hold the record in another name.
		Holder string `json:"holder"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	caller := requestcontext.Principal(ctx)

	var policy *policymodels.Policy
	var err error
	if req.Holder != "" {
		policy, err = h.lender.CreatePolicyFull(ctx, caller, req.Quote, id.Principal(req.Holder), id.Principal(req.Beneficiary))
	} else {
		policy, err = h.lender.CreatePolicy(ctx, caller, req.Quote, id.Principal(req.Beneficiary))
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPolicyResponse(policy))
}

func (h *Handler) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quotes      []string `json:"quotes"`
		Beneficiary string   `json:"beneficiary"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	policies, err := h.lender.CreatePoliciesInBatch(ctx, requestcontext.Principal(ctx), req.Quotes, id.Principal(req.Beneficiary))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyResponse(p))
	}
	writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.lender.PoliciesOf(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]policyResponse, 0, len(policies))
	for _, p := range policies {
		out = append(out, toPolicyResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handlePayoutCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payer    string `json:"payer"`
		PolicyID string `json:"policy_id"`
		Amount   string `json:"amount"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	err = h.lender.OnPayoutReceived(ctx, requestcontext.Principal(ctx),
		id.Principal(req.Payer), id.PolicyID(req.PolicyID), amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) handleExpireCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PolicyID string `json:"policy_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	if err := h.lender.OnPolicyExpired(ctx, requestcontext.Principal(ctx), id.PolicyID(req.PolicyID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "expired"})
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
		Role      string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	err := h.lender.Authz.Grant(ctx, requestcontext.Principal(ctx), id.Principal(req.Principal), id.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": req.Principal, "role": req.Role})
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Principal string `json:"principal"`
		Role      string `json:"role"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx := r.Context()
	err := h.lender.Authz.Revoke(ctx, requestcontext.Principal(ctx), id.Principal(req.Principal), id.Role(req.Role))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"principal": req.Principal, "role": req.Role})
}

func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	principal := id.Principal(chi.URLParam(r, "principal"))
	if principal.IsNil() {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "principal is required"))
		return
	}

	roles, err := h.lender.Authz.RolesOf(r.Context(), principal)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]string, 0, len(roles))
	for _, role := range roles {
		out = append(out, role.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{"principal": principal.String(), "roles": out})
}
