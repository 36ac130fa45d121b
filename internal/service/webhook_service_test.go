package service

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/model"
)

func TestIngest_BadSignatureMutatesNothing(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	env.adapter.sigErr = gateway.ErrSignatureInvalid
	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPaymentSucceeded, Reference: "pi_2",
		UserID: "u1", Amount: decimal.NewFromInt(40),
	}

	err := env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "bad-sig")
	assert.ErrorIs(t, err, gateway.ErrSignatureInvalid)
	assert.Equal(t, "100", env.walletRow(t, "u1").Balance.StringFixed(0))
}

func TestIngest_PaymentSucceededCreditsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPaymentSucceeded, Reference: "pi_1",
		UserID: "u1", Amount: decimal.NewFromInt(25),
	}

	// the provider retries delivery; both are acknowledged, one credit lands
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))

	w := env.walletRow(t, "u1")
	assert.Equal(t, "25", w.Balance.StringFixed(0))
	hist, err := env.wallet.GetHistory(env.ctx, "u1", 10, time.Now().Add(-time.Hour))
	assert.NoError(t, err)
	assert.Len(t, hist, 1)
}

func TestIngest_AcksEventsItCannotAttribute(t *testing.T) {
	env := newTestEnv(t)

	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPaymentSucceeded, Reference: "pi_orphan",
		Amount: decimal.NewFromInt(25),
	}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))

	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPaymentSucceeded, Reference: "pi_zero",
		UserID: "u1", Amount: decimal.Zero,
	}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))

	env.adapter.event = &gateway.Event{Kind: gateway.EventUnknown, Reference: "evt_x"}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))
}

func TestIngest_PayoutSettledResolvesReservation(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	env.seedBankAccount(t, "u1", true)
	env.adapter.payoutResult = &gateway.PayoutResult{Status: gateway.PayoutSubmitted}

	res, err := env.withdrawals.Withdraw(env.ctx, WithdrawalRequest{
		UserID: "u1", Amount: decimal.NewFromInt(40), Gateway: "fake",
	})
	assert.NoError(t, err)
	pending, err := env.repo.GetTransaction(env.ctx, env.repo.DB(env.ctx), res.TransactionID)
	assert.NoError(t, err)

	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPayoutSettled, Reference: pending.ExternalReference,
	}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))

	w := env.walletRow(t, "u1")
	assert.Equal(t, "0", w.PendingBalance.StringFixed(0))
	assert.Equal(t, "40", w.TotalWithdrawn.StringFixed(0))
}

func TestIngest_PayoutFailedReversesReservation(t *testing.T) {
	env := newTestEnv(t)
	env.mustCredit(t, "u1", "pi_1", 100)
	env.seedBankAccount(t, "u1", true)
	env.adapter.payoutResult = &gateway.PayoutResult{Status: gateway.PayoutSubmitted}

	res, err := env.withdrawals.Withdraw(env.ctx, WithdrawalRequest{
		UserID: "u1", Amount: decimal.NewFromInt(40), Gateway: "fake",
	})
	assert.NoError(t, err)
	pending, err := env.repo.GetTransaction(env.ctx, env.repo.DB(env.ctx), res.TransactionID)
	assert.NoError(t, err)

	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPayoutFailed, Reference: pending.ExternalReference,
	}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))

	w := env.walletRow(t, "u1")
	assert.Equal(t, "100", w.Balance.StringFixed(0))
	assert.Equal(t, "0", w.PendingBalance.StringFixed(0))

	failed, err := env.repo.GetTransaction(env.ctx, env.repo.DB(env.ctx), res.TransactionID)
	assert.NoError(t, err)
	assert.Equal(t, model.TxStatusFailed, failed.Status)
}

func TestIngest_AcksPayoutForUnknownReference(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.event = &gateway.Event{
		Kind: gateway.EventPayoutSettled, Reference: "wd_never_seen",
	}
	assert.NoError(t, env.webhooks.Ingest(env.ctx, "fake", []byte(`{}`), "sig"))
}

// An undecodable body behind a valid signature is a payload defect, not an
// authenticity failure.
func TestIngest_MalformedPayloadIsNotSignatureError(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.parseErr = errors.New("decode event: unexpected end of JSON input")

	err := env.webhooks.Ingest(env.ctx, "fake", []byte(`{`), "sig")
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.NotErrorIs(t, err, gateway.ErrSignatureInvalid)
}

func TestIngest_RejectsUnknownGateway(t *testing.T) {
	env := newTestEnv(t)
	err := env.webhooks.Ingest(env.ctx, "nope", []byte(`{}`), "sig")
	assert.ErrorIs(t, err, ErrUnknownGateway)
}
