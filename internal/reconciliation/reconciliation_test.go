package reconciliation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedgerSummer struct {
	total int64
	err   error
}

func (m *mockLedgerSummer) SumHeldEscrow(_ context.Context) (int64, error) {
	return m.total, m.err
}

type mockGatewayBalance struct {
	balance int64
	err     error
}

func (m *mockGatewayBalance) Balance(_ context.Context) (int64, error) {
	return m.balance, m.err
}

type mockRunStore struct {
	runs []*Run
}

func (m *mockRunStore) InsertRun(_ context.Context, run *Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func TestReconcile_Matches(t *testing.T) {
	svc := NewService(&mockLedgerSummer{total: 10000}, &mockGatewayBalance{balance: 10000}, &mockRunStore{}, 100)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Match)
	assert.Equal(t, int64(0), result.Diff)
}

func TestReconcile_WithinThreshold(t *testing.T) {
	svc := NewService(&mockLedgerSummer{total: 10000}, &mockGatewayBalance{balance: 10050}, &mockRunStore{}, 100)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Match)
}

func TestReconcile_Drift(t *testing.T) {
	runs := &mockRunStore{}
	svc := NewService(&mockLedgerSummer{total: 10000}, &mockGatewayBalance{balance: 15000}, runs, 100)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Match)
	assert.Equal(t, int64(5000), result.Diff)
	require.Len(t, runs.runs, 1)
	assert.Equal(t, 1, runs.runs[0].MismatchesFound)
}

func TestReconcile_LedgerError(t *testing.T) {
	svc := NewService(&mockLedgerSummer{err: errors.New("db down")}, &mockGatewayBalance{balance: 1}, &mockRunStore{}, 100)

	_, err := svc.Reconcile(context.Background())
	assert.Error(t, err)
}

func TestReconcile_GatewayError(t *testing.T) {
	svc := NewService(&mockLedgerSummer{total: 1}, &mockGatewayBalance{err: errors.New("timeout")}, &mockRunStore{}, 100)

	_, err := svc.Reconcile(context.Background())
	assert.Error(t, err)
}

func TestReconcile_DefaultThreshold(t *testing.T) {
	svc := NewService(&mockLedgerSummer{total: 100}, &mockGatewayBalance{balance: 100}, nil, 0)
	assert.Equal(t, int64(100), svc.alertThreshold)

	result, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Match)
}
