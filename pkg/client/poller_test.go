package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/example/storefront/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedVerifier returns one scripted response per call, in order, and
// repeats the last one if polled past the end of the script.
type scriptedVerifier struct {
	script []func() (*VerificationResult, error)
	calls  int
}

func (s *scriptedVerifier) VerifyPayment(ctx context.Context, sessionID string) (*VerificationResult, error) {
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i]()
}

func processing() (*VerificationResult, error) {
	return &VerificationResult{Success: false, Processing: true}, nil
}

func confirmed() (*VerificationResult, error) {
	return &VerificationResult{Success: true, Order: &models.Order{OrderNumber: "ORD-1"}}, nil
}

func notPaid() (*VerificationResult, error) {
	return &VerificationResult{Success: false, PaymentStatus: "unpaid"}, nil
}

func failing() (*VerificationResult, error) {
	return nil, fmt.Errorf("connection refused")
}

var fastPoll = PollConfig{Attempts: 5, Interval: 0}

func TestPollConfirmsOnceWebhookLands(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){
		processing, processing, confirmed,
	}}

	status, order, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
	require.NotNil(t, order)
	assert.Equal(t, "ORD-1", order.OrderNumber)
	assert.Equal(t, 3, v.calls)
}

func TestPollImmediateConfirmation(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){confirmed}}

	status, _, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
	assert.Equal(t, 1, v.calls)
}

func TestPollNotPaidIsTerminal(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){notPaid}}

	status, order, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusNotPaid, status)
	assert.Nil(t, order)
	assert.Equal(t, 1, v.calls, "an unpaid session never resolves by waiting")
}

func TestPollExhaustionIsNotAnError(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){processing}}

	status, order, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusStillProcessing, status)
	assert.Nil(t, order)
	assert.Equal(t, 5, v.calls)
}

func TestPollTransientErrorsCountAgainstBudget(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){
		failing, failing, confirmed,
	}}

	status, _, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
	assert.Equal(t, 3, v.calls)
}

func TestPollAllErrorsExhausts(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){failing}}

	status, _, err := Poll(context.Background(), v, "cs_1", fastPoll)
	require.NoError(t, err)
	assert.Equal(t, StatusStillProcessing, status)
	assert.Equal(t, 5, v.calls)
}

func TestPollHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := &scriptedVerifier{script: []func() (*VerificationResult, error){failing}}
	status, _, err := Poll(ctx, v, "cs_1", PollConfig{Attempts: 5, Interval: 0})
	assert.Equal(t, StatusStillProcessing, status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPollZeroConfigFallsBackToDefault(t *testing.T) {
	v := &scriptedVerifier{script: []func() (*VerificationResult, error){confirmed}}

	status, _, err := Poll(context.Background(), v, "cs_1", PollConfig{})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
}
