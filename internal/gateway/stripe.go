package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/balance"
	"github.com/stripe/stripe-go/v81/paymentintent"
	"github.com/stripe/stripe-go/v81/refund"
	"github.com/stripe/stripe-go/v81/transfer"
	"github.com/stripe/stripe-go/v81/transferreversal"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/localtask/core/internal/circuitbreaker"
	"github.com/localtask/core/internal/retry"
	"github.com/localtask/core/internal/traces"
)

// ErrGatewayUnavailable is returned when the per-operation circuit breaker
// is open and the call is rejected before ever reaching Stripe.
var ErrGatewayUnavailable = errors.New("gateway: circuit open, operation unavailable")

// StripeClient implements Client against a real Stripe-compatible gateway.
// Every call is wrapped by a per-operation circuit breaker and a jittered
// retry; 4xx-class gateway errors are never retried.
type StripeClient struct {
	secretKey   string
	breaker     *circuitbreaker.Breaker
	maxAttempts int
	retryBase   time.Duration
}

// NewStripeClient creates a gateway client. secretKey is the Stripe API key;
// it is set as stripe.Key globally the way the stripe-go SDK expects.
func NewStripeClient(secretKey string) *StripeClient {
	stripe.Key = secretKey
	return &StripeClient{
		secretKey:   secretKey,
		breaker:     circuitbreaker.New(5, 0),
		maxAttempts: 3,
		retryBase:   200 * time.Millisecond,
	}
}

// call wraps a single gateway operation with a span, the circuit breaker,
// and retry.
func (c *StripeClient) call(ctx context.Context, op string, fn func() error) error {
	ctx, span := traces.StartSpan(ctx, "gateway."+op)
	defer span.End()

	if !c.breaker.Allow(op) {
		return fmt.Errorf("%w: %s", ErrGatewayUnavailable, op)
	}
	err := retry.Do(ctx, c.maxAttempts, c.retryBase, func() error {
		if err := fn(); err != nil {
			if isPermanentStripeError(err) {
				return retry.Permanent(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		c.breaker.RecordFailure(op)
		return err
	}
	c.breaker.RecordSuccess(op)
	return nil
}

func (c *StripeClient) CreatePaymentIntent(ctx context.Context, amountCents int64, paymentMethodID string, capture CaptureMethod, metadata map[string]string) (*PaymentIntent, error) {
	var result *PaymentIntent
	err := c.call(ctx, "create_payment_intent", func() error {
		params := &stripe.PaymentIntentParams{
			Amount:        stripe.Int64(amountCents),
			Currency:      stripe.String(string(stripe.CurrencyUSD)),
			PaymentMethod: stripe.String(paymentMethodID),
			CaptureMethod: stripe.String(string(capture)),
		}
		params.Context = ctx
		for k, v := range metadata {
			params.AddMetadata(k, v)
		}
		pi, err := paymentintent.New(params)
		if err != nil {
			return err
		}
		result = fromStripePaymentIntent(pi)
		return nil
	})
	return result, err
}

func (c *StripeClient) ConfirmPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var result *PaymentIntent
	err := c.call(ctx, "confirm_payment_intent", func() error {
		params := &stripe.PaymentIntentConfirmParams{}
		params.Context = ctx
		pi, err := paymentintent.Confirm(id, params)
		if err != nil {
			return err
		}
		result = fromStripePaymentIntent(pi)
		return nil
	})
	return result, err
}

func (c *StripeClient) CapturePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	var result *PaymentIntent
	err := c.call(ctx, "capture_payment_intent", func() error {
		params := &stripe.PaymentIntentCaptureParams{}
		params.Context = ctx
		pi, err := paymentintent.Capture(id, params)
		if err != nil {
			return err
		}
		result = fromStripePaymentIntent(pi)
		return nil
	})
	return result, err
}

func (c *StripeClient) CancelPaymentIntent(ctx context.Context, id string) error {
	return c.call(ctx, "cancel_payment_intent", func() error {
		params := &stripe.PaymentIntentCancelParams{}
		params.Context = ctx
		_, err := paymentintent.Cancel(id, params)
		return err
	})
}

func (c *StripeClient) CreateTransfer(ctx context.Context, amountCents int64, destinationAccountID, transferGroup, sourceChargeID string) (*Transfer, error) {
	var result *Transfer
	err := c.call(ctx, "create_transfer", func() error {
		params := &stripe.TransferParams{
			Amount:        stripe.Int64(amountCents),
			Currency:      stripe.String(string(stripe.CurrencyUSD)),
			Destination:   stripe.String(destinationAccountID),
			TransferGroup: stripe.String(transferGroup),
		}
		if sourceChargeID != "" {
			params.SourceTransaction = stripe.String(sourceChargeID)
		}
		params.Context = ctx
		tr, err := transfer.New(params)
		if err != nil {
			return err
		}
		result = &Transfer{ID: tr.ID}
		return nil
	})
	return result, err
}

func (c *StripeClient) CreateTransferReversal(ctx context.Context, transferID string, amountCents int64) error {
	return c.call(ctx, "create_transfer_reversal", func() error {
		params := &stripe.TransferReversalParams{
			ID:     stripe.String(transferID),
			Amount: stripe.Int64(amountCents),
		}
		params.Context = ctx
		_, err := transferreversal.New(params)
		if err != nil {
			if isInsufficientFunds(err) {
				return retry.Permanent(ErrInsufficientFunds)
			}
			return err
		}
		return nil
	})
}

func (c *StripeClient) RefundCharge(ctx context.Context, chargeOrIntentID string) error {
	return c.call(ctx, "refund_charge", func() error {
		params := &stripe.RefundParams{}
		if strings.HasPrefix(chargeOrIntentID, "pi_") {
			params.PaymentIntent = stripe.String(chargeOrIntentID)
		} else {
			params.Charge = stripe.String(chargeOrIntentID)
		}
		params.Context = ctx
		_, err := refund.New(params)
		return err
	})
}

func (c *StripeClient) VerifyWebhook(rawBody []byte, signature, secret string) (*Event, error) {
	evt, err := webhook.ConstructEvent(rawBody, signature, secret)
	if err != nil {
		return nil, err
	}
	return &Event{ID: evt.ID, Type: string(evt.Type), Payload: rawBody}, nil
}

func (c *StripeClient) Balance(ctx context.Context) (int64, error) {
	var total int64
	err := c.call(ctx, "get_balance", func() error {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		bal, err := balance.Get(params)
		if err != nil {
			return err
		}
		for _, a := range bal.Available {
			total += a.Amount
		}
		return nil
	})
	return total, err
}

func (c *StripeClient) AccountBalance(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := c.call(ctx, "get_account_balance", func() error {
		params := &stripe.BalanceParams{}
		params.Context = ctx
		params.SetStripeAccount(accountID)
		bal, err := balance.Get(params)
		if err != nil {
			return err
		}
		for _, a := range bal.Available {
			total += a.Amount
		}
		return nil
	})
	return total, err
}

func fromStripePaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	result := &PaymentIntent{
		ID:     pi.ID,
		Status: string(pi.Status),
	}
	if pi.LatestCharge != nil {
		result.LatestChargeID = pi.LatestCharge.ID
	}
	return result
}

func isPermanentStripeError(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Type {
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard, stripe.ErrorTypeIdempotency, stripe.ErrorType("permission_error"):
		return true
	default:
		return false
	}
}

func isInsufficientFunds(err error) bool {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return false
	}
	return serr.Code == "balance_insufficient" || serr.Code == "insufficient_funds"
}
