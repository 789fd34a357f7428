package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_HoldCaptureRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	pi, err := m.CreatePaymentIntent(ctx, 5000, "pm_test", CaptureManual, nil)
	require.NoError(t, err)
	assert.Equal(t, "requires_confirmation", pi.Status)

	pi, err = m.ConfirmPaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "requires_capture", pi.Status)
	assert.NotEmpty(t, pi.LatestChargeID)

	pi, err = m.CapturePaymentIntent(ctx, pi.ID)
	require.NoError(t, err)
	assert.Equal(t, "succeeded", pi.Status)
}

func TestMemory_TransferAndReversal(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10000)

	tr, err := m.CreateTransfer(ctx, 3000, "acct_worker", "task_1", "")
	require.NoError(t, err)

	bal, err := m.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), bal)

	err = m.CreateTransferReversal(ctx, tr.ID, 1000)
	require.NoError(t, err)

	bal, err = m.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(8000), bal)
}

func TestMemory_ReversalBeyondTransferAmount_Fails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10000)

	tr, err := m.CreateTransfer(ctx, 1000, "acct_worker", "task_1", "")
	require.NoError(t, err)

	err = m.CreateTransferReversal(ctx, tr.ID, 2000)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestMemory_FailInsufficientFundsHook(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(10000)

	tr, err := m.CreateTransfer(ctx, 5000, "acct_worker", "task_1", "")
	require.NoError(t, err)

	m.FailInsufficientFunds[tr.ID] = true
	err = m.CreateTransferReversal(ctx, tr.ID, 1000)
	assert.True(t, errors.Is(err, ErrInsufficientFunds))

	// Hook only fires once; the next reversal should succeed normally.
	err = m.CreateTransferReversal(ctx, tr.ID, 1000)
	assert.NoError(t, err)
}

func TestMemory_VerifyWebhook_RequiresSignatureAndSecret(t *testing.T) {
	m := NewMemory(0)
	_, err := m.VerifyWebhook([]byte(`{}`), "", "whsec_test")
	assert.Error(t, err)

	evt, err := m.VerifyWebhook([]byte(`{"id":"evt_1"}`), "sig", "whsec_test")
	require.NoError(t, err)
	assert.NotEmpty(t, evt.ID)
}
