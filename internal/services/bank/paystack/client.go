package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ftc-tickets/internal/services/bank"
)

type Config struct {
	// BaseURL is the base url of the Paystack API.
	BaseURL string `json:"baseUrl" mapstructure:"base_url"`

	// SecretKey authenticates every call and signs inbound webhooks.
	SecretKey string `json:"secretKey" mapstructure:"secret_key"`

	// CallbackURL is where Paystack redirects the buyer after checkout.
	CallbackURL string `json:"callbackUrl" mapstructure:"callback_url"`

	// Timeout bounds every remote call.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// Client is the Paystack connector. Amounts cross the wire in kobo
// (naira x 100).
type Client struct {
	baseURL     string
	secretKey   string
	callbackURL string

	// hc is the http client.
	hc *http.Client
}

var _ bank.Gateway = (*Client)(nil)

// New creates a new Paystack client. The base url is validated here so the
// per-call request builders never have to.
func New(cfg *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("paystack.New: url.Parse: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("paystack.New: base url %q must be absolute", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		baseURL:     base.String(),
		secretKey:   cfg.SecretKey,
		callbackURL: cfg.CallbackURL,

		hc: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

type initializeRequest struct {
	Email       string        `json:"email"`
	Amount      int64         `json:"amount"`
	Metadata    bank.Metadata `json:"metadata"`
	CallbackURL string        `json:"callback_url,omitempty"`
}

// Initiate creates a payment intent and returns the checkout redirect.
func (c *Client) Initiate(ctx context.Context, email string, amount decimal.Decimal, meta bank.Metadata) (*bank.Intent, error) {
	body, err := json.Marshal(initializeRequest{
		Email:       email,
		Amount:      amount.Mul(decimal.NewFromInt(100)).IntPart(),
		Metadata:    meta,
		CallbackURL: c.callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("paystack.Initiate: json.Marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transaction/initialize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("paystack.Initiate: http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paystack.Initiate: http.Do: %w", err)
	}
	defer resp.Body.Close()

	var reply struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AuthorizationURL string `json:"authorization_url"`
			AccessCode       string `json:"access_code"`
			Reference        string `json:"reference"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("paystack.Initiate: json.Decode: %w", err)
	}
	if !reply.Status {
		return nil, fmt.Errorf("paystack.Initiate: reply.Status: false, reply.Message: %v", reply.Message)
	}
	if reply.Data.Reference == "" {
		return nil, fmt.Errorf("paystack.Initiate: no payment reference received")
	}

	return &bank.Intent{
		Reference:   reply.Data.Reference,
		RedirectURL: reply.Data.AuthorizationURL,
	}, nil
}

// Verify asks Paystack for the authoritative state of a charge.
func (c *Client) Verify(ctx context.Context, reference string) (*bank.Charge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/transaction/verify/%s", c.baseURL, url.PathEscape(reference)), nil)
	if err != nil {
		return nil, fmt.Errorf("paystack.Verify: http.NewReq: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("paystack.Verify: http.Do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("paystack.Verify: reference %s not found", reference)
	}

	var reply struct {
		Status  bool   `json:"status"`
		Message string `json:"message"`
		Data    struct {
			Reference string          `json:"reference"`
			Status    string          `json:"status"`
			Amount    decimal.Decimal `json:"amount"`
			Metadata  bank.Metadata   `json:"metadata"`
			Customer  struct {
				Email string `json:"email"`
			} `json:"customer"`
		} `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("paystack.Verify: json.Decode: %w", err)
	}
	if !reply.Status {
		return nil, fmt.Errorf("paystack.Verify: reply.Status: false, reply.Message: %v", reply.Message)
	}

	return &bank.Charge{
		Reference:  reply.Data.Reference,
		Status:     reply.Data.Status,
		Amount:     reply.Data.Amount.Div(decimal.NewFromInt(100)),
		PayerEmail: reply.Data.Customer.Email,
		Metadata:   reply.Data.Metadata,
	}, nil
}
