// Package gateway wraps the external payment gateway (a Stripe-compatible
// processor) behind a small interface the Money State Engine drives as
// SAGA steps. Every call is retried with jittered backoff and guarded by a
// per-operation circuit breaker; the gateway itself is the authoritative
// system of record for money-in-transit, never this module.
package gateway

import (
	"context"
	"errors"
)

// ErrInsufficientFunds is returned by ReverseTransfer when the destination
// account's balance cannot absorb the reversal. The Money State Engine
// treats this as NEGATIVE_BALANCE, not a generic GATEWAY_ERROR.
var ErrInsufficientFunds = errors.New("gateway: insufficient funds for reversal")

// CaptureMethod mirrors the gateway's payment-intent capture mode.
type CaptureMethod string

const (
	CaptureManual    CaptureMethod = "manual"
	CaptureAutomatic CaptureMethod = "automatic"
)

// PaymentIntent is the subset of gateway payment-intent state the core needs.
type PaymentIntent struct {
	ID              string
	Status          string
	LatestChargeID  string
}

// Transfer is a gateway transfer of funds to a connected worker account.
type Transfer struct {
	ID string
}

// Event is a verified, parsed gateway webhook event.
type Event struct {
	ID      string
	Type    string
	Payload []byte
}

// Client is the payment gateway contract the Money State Engine and the
// Webhook Recovery Pipeline depend on. Implementations: Stripe (production)
// and Memory (tests).
type Client interface {
	CreatePaymentIntent(ctx context.Context, amountCents int64, paymentMethodID string, capture CaptureMethod, metadata map[string]string) (*PaymentIntent, error)
	ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error

	CreateTransfer(ctx context.Context, amountCents int64, destinationAccountID, transferGroup, sourceChargeID string) (*Transfer, error)
	CreateTransferReversal(ctx context.Context, transferID string, amountCents int64) error
	RefundCharge(ctx context.Context, chargeOrIntentID string) error

	VerifyWebhook(rawBody []byte, signature, secret string) (*Event, error)

	// Balance returns the gateway's reported available balance for the
	// platform account, in cents. Used by the reconciliation job.
	Balance(ctx context.Context) (int64, error)

	// AccountBalance returns the available balance of a connected
	// destination account, in cents. FORCE_REFUND snapshots this before
	// attempting a transfer reversal.
	AccountBalance(ctx context.Context, accountID string) (int64, error)
}
