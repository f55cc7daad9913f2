// Package paystack is a small client for the Paystack transaction API.
// Amounts cross this boundary in minor currency units.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/joao-fontenele/shopflow/internal/domain"
)

const DefaultBaseURL = "https://api.paystack.co"

// ErrRejected means the gateway answered but refused the request, for
// example an unknown reference. It is a definitive verdict, not an outage.
var ErrRejected = fmt.Errorf("%w: rejected by gateway", domain.ErrPaymentFailed)

type Client struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewClient(baseURL, secretKey string, client *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    client,
	}
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Reference   string
	CallbackURL string
	Currency    string
	Metadata    any
}

type InitializeResult struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

// Transaction is the gateway's view of one payment attempt.
type Transaction struct {
	ID            int64
	Status        string
	Reference     string
	AmountMinor   int64
	Currency      string
	CustomerEmail string
	PaidAt        *time.Time
	// Raw is the verbatim data object, kept as payment metadata.
	Raw json.RawMessage
}

// Successful reports an explicit success verdict.
func (t *Transaction) Successful() bool {
	return t.Status == "success"
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeBody struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Metadata    any    `json:"metadata,omitempty"`
}

func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	data, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.AmountMinor,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Currency:    req.Currency,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal initialize request: %w", err)
	}

	raw, err := c.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	var out InitializeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode initialize response: %v", domain.ErrGatewayUnavailable, err)
	}
	return &out, nil
}

type verifyData struct {
	ID        int64      `json:"id"`
	Status    string     `json:"status"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	PaidAt    *time.Time `json:"paid_at"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

func (c *Client) Verify(ctx context.Context, reference string) (*Transaction, error) {
	raw, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var d verifyData
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("%w: decode verify response: %v", domain.ErrGatewayUnavailable, err)
	}

	return &Transaction{
		ID:            d.ID,
		Status:        d.Status,
		Reference:     d.Reference,
		AmountMinor:   d.Amount,
		Currency:      d.Currency,
		CustomerEmail: d.Customer.Email,
		PaidAt:        d.PaidAt,
		Raw:           raw,
	}, nil
}

// do sends one request and returns the envelope's data object. Transport
// failures, deadlines and 5xx answers are outages; other refusals are ErrRejected.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, transportError(ctx, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(payload, &env)

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: gateway refused credentials (status %d)", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, env.Message)
	case decodeErr != nil:
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, decodeErr)
	case !env.Status:
		return nil, fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}

	return env.Data, nil
}

func transportError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
}
