package balance

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/provideplatform/xchain/account"
	"github.com/provideplatform/xchain/common"
	"github.com/provideplatform/xchain/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLedger struct {
	amount *big.Int
	err    error
}

func (l *brokenLedger) GetBalance(ctx context.Context, address account.Address, at uint64) (*big.Int, error) {
	return l.amount, l.err
}

func (l *brokenLedger) FinalizedTime(ctx context.Context) (uint64, error) {
	return 0, l.err
}

func testAddress(t *testing.T) account.Address {
	addr, err := account.Resolve("5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY")
	require.NoError(t, err)
	return addr
}

func TestQueryBalanceAt(t *testing.T) {
	alice := testAddress(t)
	l := ledger.NewMemoryLedger(100)
	l.SetBalance(alice, 10, big.NewInt(1000))
	oracle := NewOracle(l)

	snapshot, err := oracle.QueryBalanceAt(context.Background(), alice, 42)
	require.NoError(t, err)
	assert.Equal(t, alice, snapshot.Address())
	assert.Equal(t, uint64(42), snapshot.AsOf())
	assert.Equal(t, "1000", snapshot.Amount().String())

	// snapshot amount cannot be mutated through the accessor
	snapshot.Amount().SetInt64(1)
	assert.Equal(t, "1000", snapshot.Amount().String())
}

func TestQueryBalanceAtZeroIsNotMissing(t *testing.T) {
	alice := testAddress(t)
	l := ledger.NewMemoryLedger(100)
	l.SetBalance(alice, 10, big.NewInt(0))

	snapshot, err := NewOracle(l).QueryBalanceAt(context.Background(), alice, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, snapshot.Amount().Sign())
}

func TestQueryBalanceAtFutureTime(t *testing.T) {
	alice := testAddress(t)
	l := ledger.NewMemoryLedger(100)
	l.SetBalance(alice, 10, big.NewInt(1000))

	_, err := NewOracle(l).QueryBalanceAt(context.Background(), alice, 101)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrTimeNotYetFinalized))
	assert.True(t, common.KindOf(err).Retryable())
	assert.Contains(t, err.Error(), alice.String())
}

func TestQueryBalanceAtUnknownAccount(t *testing.T) {
	l := ledger.NewMemoryLedger(100)

	_, err := NewOracle(l).QueryBalanceAt(context.Background(), testAddress(t), 50)
	assert.True(t, errors.Is(err, common.ErrAccountNotFound))
}

func TestQueryBalanceAtTransportFailure(t *testing.T) {
	l := ledger.NewMemoryLedger(100)
	l.SetUnavailable(true)

	_, err := NewOracle(l).QueryBalanceAt(context.Background(), testAddress(t), 50)
	assert.True(t, errors.Is(err, common.ErrTransportUnavailable))
	assert.True(t, errors.Is(err, ledger.ErrUnavailable))
}

func TestQueryBalanceAtDeadline(t *testing.T) {
	_, err := NewOracle(&brokenLedger{err: context.DeadlineExceeded}).QueryBalanceAt(context.Background(), testAddress(t), 1)
	assert.True(t, errors.Is(err, common.ErrTransportUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueryBalanceAtRejectsInvalidLedgerResponse(t *testing.T) {
	_, err := NewOracle(&brokenLedger{amount: big.NewInt(-1)}).QueryBalanceAt(context.Background(), testAddress(t), 1)
	assert.True(t, errors.Is(err, common.ErrInvalidLedgerResponse))

	_, err = NewOracle(&brokenLedger{}).QueryBalanceAt(context.Background(), testAddress(t), 1)
	assert.True(t, errors.Is(err, common.ErrInvalidLedgerResponse))
}

func TestSnapshotJSON(t *testing.T) {
	alice := testAddress(t)
	l := ledger.NewMemoryLedger(100)
	l.SetBalance(alice, 1, new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil))

	snapshot, err := NewOracle(l).QueryBalanceAt(context.Background(), alice, 5)
	require.NoError(t, err)

	raw, err := json.Marshal(snapshot)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, alice.String(), decoded["address"])
	assert.Equal(t, "1000000000000000000000000000000", decoded["amount"])
	assert.Equal(t, float64(5), decoded["as_of"])
}
