package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultAPIBase = "https://api.stripe.com"

// Client talks to the payment provider's REST API. Sessions are created on
// the provider's side; the storefront only ever holds the session id and the
// hosted-page redirect URL.
type Client struct {
	secretKey  string
	apiBase    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(secretKey string, logger *zap.Logger) *Client {
	return &Client{
		secretKey: secretKey,
		apiBase:   defaultAPIBase,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// APIError is a provider-side failure with the provider's own message and
// classification preserved for logging.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("payment provider error: %s", e.Message)
	}
	return fmt.Sprintf("payment provider error: status %d", e.StatusCode)
}

// LineItem is one price line on the hosted checkout page. UnitAmount is in
// minor currency units.
type LineItem struct {
	Name        string
	Description string
	ImageURL    string
	UnitAmount  int64
	Currency    string
	Quantity    int
}

// CheckoutSessionParams describes one hosted checkout attempt. Metadata is
// opaque to the provider and round-trips back on webhook events; under
// deferred order creation it is the only channel carrying the draft order.
type CheckoutSessionParams struct {
	LineItems     []LineItem
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutSession is the provider's representation of one checkout attempt.
type CheckoutSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	CustomerEmail string            `json:"customer_email"`
	AmountTotal   int64             `json:"amount_total"`
	Metadata      map[string]string `json:"metadata"`
}

// Paid reports whether money has actually moved for this session. A
// completed session is not necessarily paid (async payment methods).
func (s *CheckoutSession) Paid() bool {
	return s.PaymentStatus == "paid"
}

// CreateCheckoutSession creates a hosted checkout session and returns it
// with the redirect URL populated.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("customer_email", params.CustomerEmail)

	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", item.Currency)
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitAmount, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
		if item.ImageURL != "" {
			form.Set(prefix+"[price_data][product_data][images][0]", item.ImageURL)
		}
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	for key, value := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}

	c.logger.Info("Checkout session created",
		zap.String("session_id", session.ID))

	return &session, nil
}

// GetCheckoutSession retrieves a session by id. Used by the payment
// verification endpoint to learn the provider's view of the payment.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, dest interface{}) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payment provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var wrapper struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(data, &wrapper); err == nil && wrapper.Error != nil {
			apiErr.Type = wrapper.Error.Type
			apiErr.Code = wrapper.Error.Code
			apiErr.Message = wrapper.Error.Message
		}
		c.logger.Error("Payment provider call failed",
			zap.Int("status", resp.StatusCode),
			zap.String("type", apiErr.Type),
			zap.String("code", apiErr.Code),
			zap.String("message", apiErr.Message))
		return apiErr
	}

	return json.Unmarshal(data, dest)
}
