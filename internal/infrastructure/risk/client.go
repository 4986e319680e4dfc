// Package risk scores transfers against the external risk service.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bankline/internal/domain/transfer"
	"bankline/internal/shared/config"
	"bankline/internal/shared/upstream"
)

const (
	service      = "risk"
	evaluatePath = "/evaluate"
)

// Client calls the risk service. The per-call deadline comes from the
// caller's context; the transfer authorizer owns timeouts and retries.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

var _ transfer.RiskEvaluator = (*Client)(nil)

func NewClient(cfg config.RiskConfig) *Client {
	return &Client{
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
	}
}

type evaluateRequest struct {
	TransferID string `json:"transfer_id"`
	UserID     string `json:"client_user_id"`
	ItemID     int64  `json:"item_id"`
	AccountID  string `json:"account_id"`
	Amount     string `json:"amount"`
}

// evaluateResponse accepts the verdict either at the top level or inside
// a ruleset block.
type evaluateResponse struct {
	Outcome string `json:"outcome"`
	Ruleset *struct {
		Result string `json:"result"`
	} `json:"ruleset"`
}

type errorResponse struct {
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// Evaluate returns the verdict with the full response body as payload.
func (c *Client) Evaluate(ctx context.Context, req transfer.RiskRequest) (*transfer.RiskDecision, error) {
	if c.apiKey == "" {
		return nil, upstream.MissingCredentials(service)
	}

	body, err := json.Marshal(evaluateRequest{
		TransferID: req.TransferID,
		UserID:     strconv.FormatInt(req.UserID, 10),
		ItemID:     req.ItemID,
		AccountID:  req.AccountID,
		Amount:     req.Amount.StringFixed(2),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+evaluatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, upstream.FromTransport(service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstream.FromTransport(service, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		json.Unmarshal(respBody, &errResp)
		return nil, upstream.FromResponse(service, resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
	}

	var parsed evaluateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, &upstream.Error{Service: service, Kind: upstream.KindRejected, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}

	outcome := parsed.Outcome
	if outcome == "" && parsed.Ruleset != nil {
		outcome = parsed.Ruleset.Result
	}
	return &transfer.RiskDecision{Outcome: outcome, Payload: json.RawMessage(respBody)}, nil
}
