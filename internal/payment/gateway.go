package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/safar/settlement-core/internal/config"
	"github.com/shopspring/decimal"
)

// Gateway is the external payment gateway as the core uses it.
type Gateway interface {
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error)
	FetchPayment(ctx context.Context, gatewayPaymentID string) (*GatewayPayment, error)
}

// GatewayOrder is a payment intent. Amounts are in minor currency units.
type GatewayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type GatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
	Status   string `json:"status"`
}

// MajorAmount converts the minor-unit amount back to currency units.
func (p *GatewayPayment) MajorAmount() decimal.Decimal {
	return decimal.New(p.Amount, -2)
}

func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// Client talks to the gateway's REST API with basic auth.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

func NewClient(cfg config.PaymentConfig) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string) (*GatewayOrder, error) {
	body, err := json.Marshal(map[string]any{
		"amount":   ToMinorUnits(amount),
		"currency": currency,
		"receipt":  receipt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway order: %w", err)
	}

	var order GatewayOrder
	if err := c.do(ctx, http.MethodPost, "/orders", body, &order); err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	return &order, nil
}

func (c *Client) FetchPayment(ctx context.Context, gatewayPaymentID string) (*GatewayPayment, error) {
	var p GatewayPayment
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(gatewayPaymentID), nil, &p); err != nil {
		return nil, fmt.Errorf("fetch gateway payment %s: %w", gatewayPaymentID, err)
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data), Took: time.Since(started)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type StatusError struct {
	StatusCode int
	Body       string
	Took       time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d after %s: %s", e.StatusCode, e.Took.Round(time.Millisecond), e.Body)
}
