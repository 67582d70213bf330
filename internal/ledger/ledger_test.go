package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stemrun/stemcore/internal/errs"
	"github.com/stemrun/stemcore/internal/ledger"
)

func versions() ledger.PolicyVersions {
	return ledger.PolicyVersions{Affordance: "v1", CostPolicy: "v1", Ruleset: "v1"}
}

func TestReserveSettleRoundTrip_NoAdjustment(t *testing.T) {
	l := ledger.New(10_000)

	rid, err := l.Reserve(1, 500, 10, "cat:x", "ref-reserve-1", versions())
	require.NoError(t, err)
	require.Equal(t, int64(9_500), l.Balance())

	require.NoError(t, l.Settle(1, rid, "r1", 500, "act:1", versions()))
	require.Equal(t, int64(9_500), l.Balance())
	require.NoError(t, l.AssertConsistent())
}

func TestSettleIdempotence(t *testing.T) {
	l := ledger.New(10_000)

	rid, err := l.Reserve(1, 500, 10, "cat:x", "ref1", versions())
	require.NoError(t, err)

	require.NoError(t, l.Settle(1, rid, "r1", 500, "", versions()))
	require.NoError(t, l.Settle(1, rid, "r1", 500, "", versions())) // idempotent no-op

	err = l.Settle(1, rid, "r2", 500, "", versions())
	require.Error(t, err)

	var conflict errs.LedgerConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestReserveRefundRoundTrip(t *testing.T) {
	l := ledger.New(1_000)

	rid, err := l.Reserve(1, 300, 10, "cat:x", "ref1", versions())
	require.NoError(t, err)
	require.Equal(t, int64(700), l.Balance())

	require.NoError(t, l.Refund(1, rid, "r1", "", versions()))
	require.Equal(t, int64(1_000), l.Balance())

	res, ok := l.Reservation(rid)
	require.True(t, ok)
	require.Equal(t, ledger.StateRefunded, res.State)
}

func TestReserveExpireRoundTrip(t *testing.T) {
	l := ledger.New(1_000)

	rid, err := l.Reserve(1, 300, 2, "cat:x", "ref1", versions())
	require.NoError(t, err)

	expired, err := l.ExpireOpen(2, "exp", versions())
	require.NoError(t, err)
	require.Empty(t, expired) // not yet at expiry cycle (cycle 1 + ttl 2 = 3)

	expired, err = l.ExpireOpen(3, "exp", versions())
	require.NoError(t, err)
	require.Equal(t, []string{rid}, expired)
	require.Equal(t, int64(1_000), l.Balance())

	res, _ := l.Reservation(rid)
	require.Equal(t, ledger.StateExpired, res.State)
}

func TestExternalDebitDeduplicationIsCallerResponsibility(t *testing.T) {
	l := ledger.New(1_000)

	seq, err := l.ApplyExternalDebit(1, ledger.ExternalDebitObservation{
		ReferenceID: "x", CostAttributionID: "cat:a", Amount: 75,
	}, versions())
	require.NoError(t, err)
	require.Equal(t, int64(925), l.Balance())

	entries := l.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, seq, entries[0].Seq)
	require.Equal(t, ledger.KindExternalDebit, entries[0].Kind)
}

func TestInsufficientBalanceDeniesReserve(t *testing.T) {
	l := ledger.New(100)

	_, err := l.Reserve(1, 101, 10, "cat:x", "ref1", versions())
	require.Error(t, err)

	var conflict errs.LedgerConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, int64(100), l.Balance())
}

func TestNegativeAmountIsInvalidRequest(t *testing.T) {
	l := ledger.New(100)

	_, err := l.Reserve(1, -1, 10, "cat:x", "ref1", versions())
	require.Error(t, err)

	var invalid errs.InvalidRequestError
	require.ErrorAs(t, err, &invalid)
}

func TestAssertConsistentAcceptsOpenReservationWithoutTerminalRef(t *testing.T) {
	l := ledger.New(1_000)

	_, err := l.Reserve(1, 300, 10, "cat:x", "ref1", versions())
	require.NoError(t, err)
	require.NoError(t, l.AssertConsistent())
}
