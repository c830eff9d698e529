package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Webhook event types the order lifecycle reacts to. Anything else parses
// into an Event with a nil Session and is acked without action.
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventCheckoutSessionExpired   = "checkout.session.expired"
)

// signatureTolerance bounds how stale a signed timestamp may be before the
// delivery is rejected as a replay.
const signatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
)

// Event is one webhook delivery, modeled as a tagged union over the known
// event types. Session is populated for checkout.session.* events; for
// everything else Raw carries the payload for logging only.
type Event struct {
	ID      string
	Type    string
	Session *CheckoutSession
	Raw     json.RawMessage
}

// ConstructEvent verifies the delivery's signature against the raw body and
// only then parses it. Verification failure is a security boundary: the
// payload must not be interpreted at all.
func ConstructEvent(payload []byte, sigHeader, secret string) (*Event, error) {
	if err := VerifySignature(payload, sigHeader, secret); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

// VerifySignature checks the provider's signature header, of the form
// "t=<unix>,v1=<hex hmac>[,v1=...]", where each v1 is an HMAC-SHA256 of
// "<t>.<body>" under the shared webhook secret.
func VerifySignature(payload []byte, sigHeader, secret string) error {
	return verifySignatureAt(payload, sigHeader, secret, time.Now())
}

func verifySignatureAt(payload []byte, sigHeader, secret string, now time.Time) error {
	if sigHeader == "" {
		return ErrMissingSignature
	}

	var timestamp int64
	var signatures [][]byte
	for _, part := range strings.Split(sigHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return ErrInvalidSignature
			}
			timestamp = ts
		case "v1":
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, sig)
		}
	}

	if timestamp == 0 || len(signatures) == 0 {
		return ErrInvalidSignature
	}

	signedAt := time.Unix(timestamp, 0)
	if now.Sub(signedAt) > signatureTolerance || signedAt.Sub(now) > signatureTolerance {
		return ErrStaleSignature
	}

	expected := computeSignature(payload, secret, timestamp)
	for _, sig := range signatures {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload produces a signature header valid for payload at time t.
// Test helper for exercising the webhook endpoint end to end.
func SignPayload(payload []byte, secret string, t time.Time) string {
	ts := t.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeSignature(payload, secret, ts)))
}

func computeSignature(payload []byte, secret string, timestamp int64) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return mac.Sum(nil)
}

// ParseEvent decodes the event envelope. Unknown event types are not an
// error; they decode into an Event carrying only the raw payload.
func ParseEvent(payload []byte) (*Event, error) {
	var envelope struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse webhook event: %w", err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("webhook event has no type")
	}

	event := &Event{
		ID:   envelope.ID,
		Type: envelope.Type,
		Raw:  envelope.Data.Object,
	}

	switch envelope.Type {
	case EventCheckoutSessionCompleted, EventCheckoutSessionExpired:
		var session CheckoutSession
		if err := json.Unmarshal(envelope.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("failed to parse checkout session from event: %w", err)
		}
		event.Session = &session
	}

	return event, nil
}
