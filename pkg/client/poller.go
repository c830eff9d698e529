// Package client implements the storefront's success-page polling: after
// the hosted payment page redirects the browser back, the order only becomes
// visible once the payment webhook lands, so the client polls the
// verification endpoint a bounded number of times before settling for a
// "still processing" screen.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/storefront/pkg/models"
)

// VerificationResult is the payment-verification response. Exactly one of
// three shapes comes back: confirmed (Success), webhook-not-yet-landed
// (Processing), or payment-not-completed (neither).
type VerificationResult struct {
	Success       bool          `json:"success"`
	Processing    bool          `json:"processing,omitempty"`
	PaymentStatus string        `json:"payment_status,omitempty"`
	Order         *models.Order `json:"order,omitempty"`
}

// Verifier checks one payment session's state.
type Verifier interface {
	VerifyPayment(ctx context.Context, sessionID string) (*VerificationResult, error)
}

// Status is the poller's terminal state.
type Status int

const (
	// StatusConfirmed: the order exists and payment completed.
	StatusConfirmed Status = iota
	// StatusNotPaid: the provider reports the session was never paid.
	StatusNotPaid
	// StatusStillProcessing: attempts exhausted while the webhook had not
	// landed. Not an error; the order page renders a processing state.
	StatusStillProcessing
)

type PollConfig struct {
	Attempts int
	Interval time.Duration
}

// DefaultPollConfig bounds user-visible wait at attempts x interval while
// tolerating normal webhook delivery lag.
var DefaultPollConfig = PollConfig{
	Attempts: 5,
	Interval: 2 * time.Second,
}

// Poll drives the bounded retry loop: a terminal answer stops immediately, a
// transient "not yet" sleeps one interval and retries, and exhausting the
// attempt budget lands on StatusStillProcessing rather than an error.
// Transient verifier failures count against the attempt budget too, so the
// loop always terminates.
func Poll(ctx context.Context, v Verifier, sessionID string, cfg PollConfig) (Status, *models.Order, error) {
	if cfg.Attempts <= 0 {
		cfg = DefaultPollConfig
	}

	for attempt := 0; attempt < cfg.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return StatusStillProcessing, nil, ctx.Err()
			}
		}

		result, err := v.VerifyPayment(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil {
				return StatusStillProcessing, nil, ctx.Err()
			}
			continue
		}

		switch {
		case result.Success:
			return StatusConfirmed, result.Order, nil
		case result.Processing:
			continue
		default:
			return StatusNotPaid, nil, nil
		}
	}

	return StatusStillProcessing, nil, nil
}

// HTTPVerifier calls the storefront's own verification endpoint, the way the
// success page does.
type HTTPVerifier struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (h *HTTPVerifier) VerifyPayment(ctx context.Context, sessionID string) (*VerificationResult, error) {
	endpoint := fmt.Sprintf("%s/payment-verification?session_id=%s", h.BaseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := h.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("payment verification returned status %d", resp.StatusCode)
	}

	var result VerificationResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
