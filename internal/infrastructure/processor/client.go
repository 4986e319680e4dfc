// Package processor moves funds through the external payment processor.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"bankline/internal/domain/linktoken"
	"bankline/internal/domain/transfer"
	"bankline/internal/shared/config"
	"bankline/internal/shared/upstream"
)

const (
	service            = "processor"
	processorName      = "dwolla"
	fundingSourcesPath = "/funding-sources"
	transfersPath      = "/transfers"
)

// TokenIssuer hands out a processor token for one aggregator account.
type TokenIssuer interface {
	CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (string, error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	tokens     TokenIssuer
}

var (
	_ transfer.Processor      = (*Client)(nil)
	_ linktoken.FundingLinker = (*Client)(nil)
)

func NewClient(cfg config.ProcessorConfig, tokens TokenIssuer) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		tokens:  tokens,
	}
}

type fundingSourceRequest struct {
	CustomerID     string `json:"customer_id"`
	ProcessorToken string `json:"processor_token"`
	AccountID      string `json:"account_id"`
}

type fundingSourceResponse struct {
	URL string `json:"url"`
}

// LinkFundingSource registers the account with the processor and returns
// the funding source URL transfers are drawn from.
func (c *Client) LinkFundingSource(ctx context.Context, userID int64, accessToken, accountID string) (string, error) {
	token, err := c.tokens.CreateProcessorToken(ctx, accessToken, accountID, processorName)
	if err != nil {
		return "", err
	}

	var resp fundingSourceResponse
	err = c.post(ctx, fundingSourcesPath, fundingSourceRequest{
		CustomerID:     strconv.FormatInt(userID, 10),
		ProcessorToken: token,
		AccountID:      accountID,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", &upstream.Error{Service: service, Kind: upstream.KindRejected, Message: "no funding source url"}
	}
	return resp.URL, nil
}

type money struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type transferRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
	FundingSource  string `json:"funding_source"`
	Amount         money  `json:"amount"`
}

type transferResponse struct {
	Reference   string    `json:"id"`
	Status      string    `json:"status"`
	Amount      money     `json:"amount"`
	ConfirmedAt time.Time `json:"created"`
}

// Submit sends the transfer. The transfer id doubles as idempotency key so
// a retried submission cannot move funds twice. A response that is not
// processed or pending yields a nil confirmation.
func (c *Client) Submit(ctx context.Context, s transfer.Submission) (*transfer.Confirmation, error) {
	var resp transferResponse
	err := c.post(ctx, transfersPath, transferRequest{
		IdempotencyKey: s.TransferID,
		FundingSource:  s.FundingSourceURL,
		Amount:         money{Value: s.Amount.StringFixed(2), Currency: "USD"},
	}, &resp)
	if err != nil {
		return nil, err
	}

	if resp.Status != "processed" && resp.Status != "pending" {
		return nil, nil
	}

	amount, err := decimal.NewFromString(resp.Amount.Value)
	if err != nil {
		return nil, &upstream.Error{Service: service, Kind: upstream.KindRejected, Message: "invalid confirmed amount", Err: err}
	}
	return &transfer.Confirmation{Reference: resp.Reference, Amount: amount, ConfirmedAt: resp.ConfirmedAt}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.apiKey == "" {
		return upstream.MissingCredentials(service)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return upstream.FromTransport(service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstream.FromTransport(service, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		json.Unmarshal(respBody, &errResp)
		return upstream.FromResponse(service, resp.StatusCode, errResp.Code, errResp.Message)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &upstream.Error{Service: service, Kind: upstream.KindRejected, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}
