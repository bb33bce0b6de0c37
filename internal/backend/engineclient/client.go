// Package engineclient implements the issuing-engine port over HTTP for
// deployments where the engine is a remote service.
package engineclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"flowlend/internal/backend"
	id "flowlend/pkg/domain"
	dErrors "flowlend/pkg/domain-errors"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type createRequest struct {
	Backend     string `json:"backend"`
	Asset       string `json:"asset"`
	Payer       string `json:"payer"`
	Holder      string `json:"holder"`
	Beneficiary string `json:"beneficiary"`
	Premium     string `json:"premium"`
	Coverage    string `json:"coverage"`
	Expiry      string `json:"expiry"`
	QuoteID     string `json:"quote_id"`
}

type createResult struct {
	PolicyID       string `json:"policy_id"`
	ChargedPremium string `json:"charged_premium"`
}

func toWire(req backend.CreateRequest) createRequest {
	return createRequest{
		Backend:     req.Backend.String(),
		Asset:       req.Asset.String(),
		Payer:       req.Payer.String(),
		Holder:      req.Holder.String(),
		Beneficiary: req.Beneficiary.String(),
		Premium:     req.Premium.String(),
		Coverage:    req.Coverage.String(),
		Expiry:      req.Expiry.Format(time.RFC3339),
		QuoteID:     req.QuoteID.String(),
	}
}

func fromWire(res createResult) (*backend.CreateResult, error) {
	charged, err := decimal.NewFromString(res.ChargedPremium)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "engine returned an unparseable premium")
	}
	return &backend.CreateResult{
		PolicyID:       id.PolicyID(res.PolicyID),
		ChargedPremium: charged,
	}, nil
}

func (c *Client) CreatePolicy(ctx context.Context, req backend.CreateRequest) (*backend.CreateResult, error) {
	var res createResult
	if err := c.post(ctx, "/policies", toWire(req), &res); err != nil {
		return nil, err
	}
	return fromWire(res)
}

func (c *Client) CreatePoliciesInBatch(ctx context.Context, reqs []backend.CreateRequest) ([]backend.CreateResult, error) {
	wire := make([]createRequest, 0, len(reqs))
	for _, req := range reqs {
		wire = append(wire, toWire(req))
	}
	var res []createResult
	if err := c.post(ctx, "/policies/batch", wire, &res); err != nil {
		return nil, err
	}

	out := make([]backend.CreateResult, 0, len(res))
	for _, r := range res {
		parsed, err := fromWire(r)
		if err != nil {
			return nil, err
		}
		out = append(out, *parsed)
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build engine request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "engine is unreachable")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return dErrors.New(dErrors.CodeTransferFailed, "engine could not charge the premium")
	case resp.StatusCode == http.StatusBadRequest:
		return dErrors.New(dErrors.CodeBadRequest, "engine rejected the request")
	case resp.StatusCode >= 300:
		return dErrors.Newf(dErrors.CodeInternal, "engine returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "decode engine response")
	}
	return nil
}
