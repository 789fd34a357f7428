package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/localtask/core/internal/idgen"
)

// Memory is an in-memory Client fake for tests. It never touches the
// network; balances and transfers are tracked in plain maps guarded by a
// mutex. It is intentionally permissive — callers that want to exercise a
// failure path set one of the Fail* hooks before calling.
type Memory struct {
	mu sync.Mutex

	intents   map[string]*PaymentIntent
	charges   map[string]string // charge id -> owning payment intent id
	transfers map[string]int64  // transfer id -> amount cents
	reversed  map[string]int64  // transfer id -> total cents reversed so far
	refunds   map[string]int    // charge or intent id -> refund count
	balance   int64
	accounts  map[string]int64 // connected account id -> available cents

	// FailInsufficientFunds, when set, names a transfer ID whose next
	// reversal attempt returns ErrInsufficientFunds instead of succeeding.
	FailInsufficientFunds map[string]bool

	// FailConfirm and FailTransfer force the next matching call to error,
	// for exercising SAGA compensation paths.
	FailConfirm  bool
	FailTransfer bool
}

// NewMemory creates a Memory gateway fake seeded with the given platform
// balance in cents.
func NewMemory(startingBalanceCents int64) *Memory {
	return &Memory{
		intents:               make(map[string]*PaymentIntent),
		charges:               make(map[string]string),
		transfers:             make(map[string]int64),
		reversed:              make(map[string]int64),
		refunds:               make(map[string]int),
		balance:               startingBalanceCents,
		accounts:              make(map[string]int64),
		FailInsufficientFunds: make(map[string]bool),
	}
}

// SeedPaymentIntent registers an intent as if it had been created and
// confirmed in a previous process life, for crash-recovery tests.
func (m *Memory) SeedPaymentIntent(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[id] = &PaymentIntent{ID: id, Status: status}
}

// SeedAccountBalance sets a connected account's available balance.
func (m *Memory) SeedAccountBalance(accountID string, cents int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID] = cents
}

// RefundCount reports how many refunds were issued against a charge or
// intent, for test assertions on compensation paths.
func (m *Memory) RefundCount(chargeOrIntentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunds[chargeOrIntentID]
}

// IntentStatus reports a payment intent's current status, for tests.
func (m *Memory) IntentStatus(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return ""
	}
	return pi.Status
}

func (m *Memory) CreatePaymentIntent(_ context.Context, amountCents int64, _ string, capture CaptureMethod, _ map[string]string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi := &PaymentIntent{
		ID:     idgen.WithPrefix("pi"),
		Status: "requires_confirmation",
	}
	if capture == CaptureAutomatic {
		pi.Status = "succeeded"
		pi.LatestChargeID = idgen.WithPrefix("ch")
		m.charges[pi.LatestChargeID] = pi.ID
	}
	m.intents[pi.ID] = pi
	m.balance += amountCents
	return pi, nil
}

func (m *Memory) ConfirmPaymentIntent(_ context.Context, id string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailConfirm {
		m.FailConfirm = false
		return nil, fmt.Errorf("gateway memory: confirm failed")
	}
	pi, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("gateway memory: unknown payment intent %s", id)
	}
	pi.Status = "requires_capture"
	if pi.LatestChargeID == "" {
		pi.LatestChargeID = idgen.WithPrefix("ch")
		m.charges[pi.LatestChargeID] = pi.ID
	}
	return pi, nil
}

func (m *Memory) CapturePaymentIntent(_ context.Context, id string) (*PaymentIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return nil, fmt.Errorf("gateway memory: unknown payment intent %s", id)
	}
	pi.Status = "succeeded"
	if pi.LatestChargeID == "" {
		pi.LatestChargeID = idgen.WithPrefix("ch")
		m.charges[pi.LatestChargeID] = pi.ID
	}
	return pi, nil
}

func (m *Memory) CancelPaymentIntent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.intents[id]
	if !ok {
		return fmt.Errorf("gateway memory: unknown payment intent %s", id)
	}
	pi.Status = "canceled"
	return nil
}

func (m *Memory) CreateTransfer(_ context.Context, amountCents int64, destinationAccountID string, _ string, _ string) (*Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTransfer {
		m.FailTransfer = false
		return nil, fmt.Errorf("gateway memory: transfer failed")
	}
	t := &Transfer{ID: idgen.WithPrefix("tr")}
	m.transfers[t.ID] = amountCents
	m.balance -= amountCents
	m.accounts[destinationAccountID] += amountCents
	return t, nil
}

func (m *Memory) CreateTransferReversal(_ context.Context, transferID string, amountCents int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInsufficientFunds[transferID] {
		delete(m.FailInsufficientFunds, transferID)
		return ErrInsufficientFunds
	}
	total, ok := m.transfers[transferID]
	if !ok {
		return fmt.Errorf("gateway memory: unknown transfer %s", transferID)
	}
	if m.reversed[transferID]+amountCents > total {
		return ErrInsufficientFunds
	}
	m.reversed[transferID] += amountCents
	m.balance += amountCents
	return nil
}

func (m *Memory) RefundCharge(_ context.Context, chargeOrIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, isIntent := m.intents[chargeOrIntentID]
	_, isCharge := m.charges[chargeOrIntentID]
	if !isIntent && !isCharge {
		return fmt.Errorf("gateway memory: unknown charge or intent %s", chargeOrIntentID)
	}
	m.refunds[chargeOrIntentID]++
	return nil
}

func (m *Memory) VerifyWebhook(rawBody []byte, signature, secret string) (*Event, error) {
	if signature == "" || secret == "" {
		return nil, fmt.Errorf("gateway memory: missing signature or secret")
	}
	return &Event{ID: idgen.WithPrefix("evt"), Type: "test.event", Payload: rawBody}, nil
}

func (m *Memory) Balance(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance, nil
}

func (m *Memory) AccountBalance(_ context.Context, accountID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[accountID], nil
}
