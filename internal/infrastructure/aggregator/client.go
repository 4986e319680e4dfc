// Package aggregator is the HTTP client for the bank-aggregation provider.
// Every failure leaves this package as an *upstream.Error.
package aggregator

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

	"bankline/internal/domain/account"
	"bankline/internal/domain/identity"
	"bankline/internal/domain/item"
	"bankline/internal/domain/linktoken"
	"bankline/internal/shared/config"
	"bankline/internal/shared/upstream"
)

const (
	service        = "aggregator"
	defaultTimeout = 30 * time.Second
	clientName     = "Bankline"

	linkTokenCreatePath     = "/link/token/create"
	publicTokenExchangePath = "/item/public_token/exchange"
	accountsGetPath         = "/accounts/get"
	balanceGetPath          = "/accounts/balance/get"
	identityGetPath         = "/identity/get"
	itemRemovePath          = "/item/remove"
	processorTokenPath      = "/processor/token/create"
	sandboxResetLoginPath   = "/sandbox/item/reset_login"
)

// Client talks to the aggregator's JSON-over-POST API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	secret       string
	webhookURL   string
	redirectURI  string
	products     []string
	countryCodes []string
	sandbox      bool
}

var (
	_ linktoken.Aggregator     = (*Client)(nil)
	_ linktoken.IdentitySource = (*Client)(nil)
	_ item.Provider            = (*Client)(nil)
	_ account.BalanceSource    = (*Client)(nil)
)

func NewClient(cfg config.AggregatorConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		secret:       cfg.Secret,
		webhookURL:   cfg.WebhookURL,
		redirectURI:  cfg.RedirectURI,
		products:     cfg.Products,
		countryCodes: cfg.CountryCodes,
		sandbox:      cfg.IsSandbox(),
	}
}

// ErrorResponse is the aggregator's error body.
type ErrorResponse struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type linkTokenUser struct {
	ClientUserID string `json:"client_user_id"`
}

type linkTokenCreateRequest struct {
	ClientName   string        `json:"client_name"`
	Language     string        `json:"language"`
	CountryCodes []string      `json:"country_codes"`
	User         linkTokenUser `json:"user"`
	Products     []string      `json:"products,omitempty"`
	AccessToken  string        `json:"access_token,omitempty"`
	Webhook      string        `json:"webhook,omitempty"`
	RedirectURI  string        `json:"redirect_uri,omitempty"`
}

type linkTokenCreateResponse struct {
	LinkToken  string    `json:"link_token"`
	Expiration time.Time `json:"expiration"`
}

// CreateLinkToken asks for a link token. Update mode passes the item's
// access token and omits products.
func (c *Client) CreateLinkToken(ctx context.Context, req linktoken.TokenRequest) (*linktoken.IssuedToken, error) {
	body := linkTokenCreateRequest{
		ClientName:   clientName,
		Language:     "en",
		CountryCodes: c.countryCodes,
		User:         linkTokenUser{ClientUserID: strconv.FormatInt(req.UserID, 10)},
		Webhook:      c.webhookURL,
		RedirectURI:  c.redirectURI,
	}
	if req.AccessToken != "" {
		body.AccessToken = req.AccessToken
	} else {
		body.Products = c.products
	}

	var resp linkTokenCreateResponse
	if err := c.post(ctx, linkTokenCreatePath, body, &resp); err != nil {
		return nil, err
	}
	if resp.LinkToken == "" {
		return nil, &upstream.Error{Service: service, Kind: upstream.KindRejected, Message: "empty link token"}
	}
	return &linktoken.IssuedToken{Value: resp.LinkToken, Expiration: resp.Expiration}, nil
}

type exchangeResponse struct {
	AccessToken string `json:"access_token"`
	ItemID      string `json:"item_id"`
}

func (c *Client) ExchangePublicToken(ctx context.Context, publicToken string) (*linktoken.Exchange, error) {
	var resp exchangeResponse
	if err := c.post(ctx, publicTokenExchangePath, map[string]string{"public_token": publicToken}, &resp); err != nil {
		return nil, err
	}
	return &linktoken.Exchange{AccessToken: resp.AccessToken, ProviderItemID: resp.ItemID}, nil
}

// Account is an account as the aggregator reports it.
type Account struct {
	AccountID string   `json:"account_id"`
	Name      string   `json:"name"`
	Mask      string   `json:"mask"`
	Type      string   `json:"type"`
	Subtype   string   `json:"subtype"`
	Balances  Balances `json:"balances"`
}

// Balances uses decimal so amounts never pass through float64.
type Balances struct {
	Available       decimal.NullDecimal `json:"available"`
	Current         decimal.NullDecimal `json:"current"`
	ISOCurrencyCode string              `json:"iso_currency_code"`
}

type accountsResponse struct {
	Accounts []Account `json:"accounts"`
}

func (c *Client) GetAccounts(ctx context.Context, accessToken string) ([]linktoken.RemoteAccount, error) {
	var resp accountsResponse
	if err := c.post(ctx, accountsGetPath, map[string]string{"access_token": accessToken}, &resp); err != nil {
		return nil, err
	}

	accounts := make([]linktoken.RemoteAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		ra := linktoken.RemoteAccount{
			ID:       a.AccountID,
			Name:     a.Name,
			Mask:     a.Mask,
			Type:     a.Type,
			Subtype:  a.Subtype,
			Currency: a.Balances.ISOCurrencyCode,
		}
		if ra.Currency == "" {
			ra.Currency = "USD"
		}
		if a.Balances.Available.Valid {
			v := a.Balances.Available.Decimal
			ra.Available = &v
		}
		if a.Balances.Current.Valid {
			v := a.Balances.Current.Decimal
			ra.Current = &v
		}
		accounts = append(accounts, ra)
	}
	return accounts, nil
}

type balanceOptions struct {
	AccountIDs []string `json:"account_ids,omitempty"`
}

type balanceGetRequest struct {
	AccessToken string          `json:"access_token"`
	Options     *balanceOptions `json:"options,omitempty"`
}

// GetBalances fetches real-time balances. The aggregator contacts the bank
// for this call, so it is slower than GetAccounts.
func (c *Client) GetBalances(ctx context.Context, accessToken string, accountIDs []string) ([]account.Balance, error) {
	body := balanceGetRequest{AccessToken: accessToken}
	if len(accountIDs) > 0 {
		body.Options = &balanceOptions{AccountIDs: accountIDs}
	}

	var resp accountsResponse
	if err := c.post(ctx, balanceGetPath, body, &resp); err != nil {
		return nil, err
	}

	balances := make([]account.Balance, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		b := account.Balance{AccountID: a.AccountID}
		if a.Balances.Available.Valid {
			v := a.Balances.Available.Decimal
			b.Available = &v
		}
		if a.Balances.Current.Valid {
			v := a.Balances.Current.Decimal
			b.Current = &v
		}
		balances = append(balances, b)
	}
	return balances, nil
}

type identityEmail struct {
	Data string `json:"data"`
}

type identityOwner struct {
	Names  []string        `json:"names"`
	Emails []identityEmail `json:"emails"`
}

type identityResponse struct {
	Accounts []struct {
		AccountID string          `json:"account_id"`
		Owners    []identityOwner `json:"owners"`
	} `json:"accounts"`
}

// GetIdentity returns the owners of every account on the item. Owners
// listed on several accounts are returned once.
func (c *Client) GetIdentity(ctx context.Context, accessToken string) ([]identity.Owner, error) {
	var resp identityResponse
	if err := c.post(ctx, identityGetPath, map[string]string{"access_token": accessToken}, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var owners []identity.Owner
	for _, a := range resp.Accounts {
		for _, o := range a.Owners {
			owner := identity.Owner{Names: o.Names}
			for _, e := range o.Emails {
				owner.Emails = append(owner.Emails, e.Data)
			}
			key := fmt.Sprint(owner.Names, owner.Emails)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			owners = append(owners, owner)
		}
	}
	return owners, nil
}

func (c *Client) RemoveItem(ctx context.Context, accessToken string) error {
	return c.post(ctx, itemRemovePath, map[string]string{"access_token": accessToken}, nil)
}

// ResetLogin forces the item into a login-required state. Sandbox only.
func (c *Client) ResetLogin(ctx context.Context, accessToken string) error {
	if !c.sandbox {
		return &upstream.Error{Service: service, Kind: upstream.KindInvalidRequest, Code: "SANDBOX_ONLY", Message: "reset login is only available in sandbox"}
	}
	return c.post(ctx, sandboxResetLoginPath, map[string]string{"access_token": accessToken}, nil)
}

type processorTokenResponse struct {
	ProcessorToken string `json:"processor_token"`
}

// CreateProcessorToken lets the payment processor act on one account.
func (c *Client) CreateProcessorToken(ctx context.Context, accessToken, accountID, processor string) (string, error) {
	body := map[string]string{
		"access_token": accessToken,
		"account_id":   accountID,
		"processor":    processor,
	}
	var resp processorTokenResponse
	if err := c.post(ctx, processorTokenPath, body, &resp); err != nil {
		return "", err
	}
	return resp.ProcessorToken, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.clientID == "" || c.secret == "" {
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
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PLAID-CLIENT-ID", c.clientID)
	req.Header.Set("PLAID-SECRET", c.secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return upstream.FromTransport(service, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return upstream.FromTransport(service, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil {
			return upstream.FromResponse(service, resp.StatusCode, "", string(respBody))
		}
		return upstream.FromResponse(service, resp.StatusCode, errResp.ErrorCode, errResp.ErrorMessage)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &upstream.Error{Service: service, Kind: upstream.KindRejected, Status: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}
