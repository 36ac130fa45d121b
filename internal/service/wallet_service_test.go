package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/freelancehub/payments-service/internal/model"
)

func TestApplyCredit_CreatesWalletOnFirstCredit(t *testing.T) {
	env := newTestEnv(t)

	tx := env.mustCredit(t, "u1", "pi_1", 100)
	assert.Equal(t, model.TxTypeReceived, tx.Type)
	assert.Equal(t, model.TxStatusCompleted, tx.Status)
	assert.Equal(t, "100", tx.BalanceAfter.StringFixed(0))

	w := env.walletRow(t, "u1")
	assert.Equal(t, "100", w.Balance.StringFixed(0))
	assert.Equal(t, "100", w.TotalEarned.StringFixed(0))
	assert.Equal(t, "0", w.PendingBalance.StringFixed(0))
}

func TestApplyCredit_ReplayDoesNotDoubleCredit(t *testing.T) {
	env := newTestEnv(t)

	// same provider reference delivered twice (network retry)
	first := env.mustCredit(t, "u1", "pi_dup", 25)
	second := env.mustCredit(t, "u1", "pi_dup", 25)
	assert.Equal(t, first.ID, second.ID)

	w := env.walletRow(t, "u1")
	assert.Equal(t, "25", w.Balance.StringFixed(0))
	assert.Equal(t, "25", w.TotalEarned.StringFixed(0))

	hist, err := env.wallet.GetHistory(env.ctx, "u1", 10, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestApplyCredit_RejectsNonPositiveAmount(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.wallet.ApplyCredit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.Zero, Gateway: "fake", Reference: "pi_zero",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = env.wallet.ApplyCredit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(-5), Gateway: "fake", Reference: "pi_neg",
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestApplyDebit_FailsOnInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)

	_, err := env.wallet.ApplyDebit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(130), Gateway: "fake", Reference: "d_1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// no wallet at all behaves the same
	_, err = env.wallet.ApplyDebit(env.ctx, Mutation{
		UserID: "ghost", Amount: decimal.NewFromInt(1), Gateway: "fake", Reference: "d_2",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// balance untouched, nothing recorded
	w := env.walletRow(t, "u1")
	assert.Equal(t, "100", w.Balance.StringFixed(0))
	hist, _ := env.wallet.GetHistory(env.ctx, "u1", 10, time.Now().Add(-time.Hour))
	assert.Len(t, hist, 1)
}

func TestApplyDebit_CommitsSendAtomically(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)

	tx, err := env.wallet.ApplyDebit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(30), Gateway: "fake", Reference: "d_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.TxTypeSent, tx.Type)
	assert.Equal(t, model.TxStatusCompleted, tx.Status)
	assert.Equal(t, "70", tx.BalanceAfter.StringFixed(0))

	w := env.walletRow(t, "u1")
	assert.Equal(t, "70", w.Balance.StringFixed(0))

	// debit replay returns the original record
	again, err := env.wallet.ApplyDebit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(30), Gateway: "fake", Reference: "d_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, tx.ID, again.ID)
	assert.Equal(t, "70", env.walletRow(t, "u1").Balance.StringFixed(0))
}

func TestReserveWithdrawal_MovesFundsToPending(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)

	tx, err := env.wallet.ReserveWithdrawal(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(50), Gateway: "fake", Reference: "wd_1",
	})
	assert.NoError(t, err)
	assert.Equal(t, model.TxStatusPending, tx.Status)

	w := env.walletRow(t, "u1")
	assert.Equal(t, "50", w.Balance.StringFixed(0))
	assert.Equal(t, "50", w.PendingBalance.StringFixed(0))
	assert.Equal(t, "0", w.TotalWithdrawn.StringFixed(0))
}

func TestSettleWithdrawal_Completes(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	tx, err := env.wallet.ReserveWithdrawal(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(50), Gateway: "fake", Reference: "wd_1",
	})
	assert.NoError(t, err)

	settled, err := env.wallet.SettleWithdrawal(env.ctx, tx.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, settled.Status)

	w := env.walletRow(t, "u1")
	assert.Equal(t, "50", w.Balance.StringFixed(0))
	assert.Equal(t, "0", w.PendingBalance.StringFixed(0))
	assert.Equal(t, "50", w.TotalWithdrawn.StringFixed(0))

	// settling twice is a no-op
	again, err := env.wallet.SettleWithdrawal(env.ctx, tx.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.TxStatusCompleted, again.Status)
	assert.Equal(t, "50", env.walletRow(t, "u1").TotalWithdrawn.StringFixed(0))
}

func TestReverseWithdrawal_RestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	tx, err := env.wallet.ReserveWithdrawal(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(50), Gateway: "fake", Reference: "wd_1",
	})
	assert.NoError(t, err)

	reversed, err := env.wallet.ReverseWithdrawal(env.ctx, tx.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, reversed.Status)
	assert.NotEmpty(t, reversed.ReversalReference)

	w := env.walletRow(t, "u1")
	assert.Equal(t, "100", w.Balance.StringFixed(0))
	assert.Equal(t, "0", w.PendingBalance.StringFixed(0))
	assert.Equal(t, "0", w.TotalWithdrawn.StringFixed(0))
}

// Conservation: balance plus in-flight reservations always equals the net of
// completed ledger entries.
func TestLedgerConservation(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	env.mustCredit(t, "u1", "pi_2", 40)
	_, err := env.wallet.ApplyDebit(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(15), Gateway: "fake", Reference: "d_1",
	})
	assert.NoError(t, err)
	res, err := env.wallet.ReserveWithdrawal(env.ctx, Mutation{
		UserID: "u1", Amount: decimal.NewFromInt(25), Gateway: "fake", Reference: "wd_1",
	})
	assert.NoError(t, err)

	assertConservation := func() {
		hist, err := env.wallet.GetHistory(env.ctx, "u1", 100, time.Now().Add(-time.Hour))
		assert.NoError(t, err)
		net := decimal.Zero
		for _, tx := range hist {
			if tx.Status != model.TxStatusCompleted {
				continue
			}
			if tx.Type == model.TxTypeReceived {
				net = net.Add(tx.Amount)
			} else {
				net = net.Sub(tx.Amount)
			}
		}
		w := env.walletRow(t, "u1")
		assert.True(t, w.Balance.Add(w.PendingBalance).Equal(net),
			"balance %s + pending %s != completed net %s", w.Balance, w.PendingBalance, net)
	}

	assertConservation()
	_, err = env.wallet.SettleWithdrawal(env.ctx, res.ID)
	assert.NoError(t, err)
	assertConservation()
}

func TestGetBalanceFallsBackToStore(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)

	bal, err := env.wallet.GetBalance(env.ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, "100", bal.StringFixed(0))
}
