package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/logger"
	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/repo"
)

// fakeAdapter scripts gateway behavior per test.
type fakeAdapter struct {
	name         string
	chargeResult *gateway.ChargeResult
	verifyErr    error
	payoutResult *gateway.PayoutResult
	payoutErr    error
	payoutCalls  int
	sigErr       error
	event        *gateway.Event
	parseErr     error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) CreateCharge(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*gateway.ChargeIntent, error) {
	return &gateway.ChargeIntent{Reference: "ch_fake"}, nil
}

func (f *fakeAdapter) VerifyCharge(ctx context.Context, reference string) (*gateway.ChargeResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.chargeResult, nil
}

func (f *fakeAdapter) Payout(ctx context.Context, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	f.payoutCalls++
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	res := *f.payoutResult
	res.Reference = req.Reference
	return &res, nil
}

func (f *fakeAdapter) VerifyWebhook(ctx context.Context, payload []byte, signature string) error {
	return f.sigErr
}

func (f *fakeAdapter) ParseEvent(payload []byte) (*gateway.Event, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	return f.event, nil
}

// fakeLocker hands out uncontended locks and counts acquisitions.
type fakeLocker struct {
	acquired int
}

func (l *fakeLocker) Acquire(ctx context.Context, userID string) (func(), error) {
	l.acquired++
	return func() {}, nil
}

type testEnv struct {
	ctx         context.Context
	repo        repo.RepositoryInterface
	wallet      *WalletService
	adapter     *fakeAdapter
	locker      *fakeLocker
	payments    *PaymentService
	withdrawals *WithdrawalService
	webhooks    *WebhookService
	accounts    *BankAccountService
}

// newTestEnv wires the services against an in-memory sqlite ledger. The
// redis mock carries no expectations, so every cache call misses and the
// services fall through to the store.
func newTestEnv(t *testing.T) *testEnv {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	assert.NoError(t, err)
	assert.NoError(t, db.AutoMigrate(&model.Wallet{}, &model.Transaction{}, &model.BankAccount{}, &model.OutboxEvent{}))

	rdb, _ := redismock.NewClientMock()
	log, _ := logger.NewLogger()
	repository := repo.NewRepository(db, rdb, &kafka.Writer{}, log)

	adapter := &fakeAdapter{name: "fake"}
	gateways := map[string]gateway.Adapter{"fake": adapter}
	locker := &fakeLocker{}

	walletSvc := NewWalletService(repository, log)
	env := &testEnv{
		ctx:         context.Background(),
		repo:        repository,
		wallet:      walletSvc,
		adapter:     adapter,
		locker:      locker,
		payments:    NewPaymentService(walletSvc, gateways, "USD", log),
		withdrawals: NewWithdrawalService(walletSvc, repository, gateways, locker, "USD", log),
		accounts:    NewBankAccountService(repository, gateways, "USD", log),
	}
	env.webhooks = NewWebhookService(walletSvc, env.withdrawals, gateways, log)
	return env
}

func (e *testEnv) mustCredit(t *testing.T, userID, ref string, amount int64) *model.Transaction {
	tx, err := e.wallet.ApplyCredit(e.ctx, Mutation{
		UserID:    userID,
		Amount:    decimal.NewFromInt(amount),
		Gateway:   "fake",
		Reference: ref,
	})
	assert.NoError(t, err)
	return tx
}

func (e *testEnv) walletRow(t *testing.T, userID string) *model.Wallet {
	w, err := e.repo.GetWallet(e.ctx, e.repo.DB(e.ctx), userID)
	assert.NoError(t, err)
	return w
}

func (e *testEnv) seedBankAccount(t *testing.T, userID string, verified bool) *model.BankAccount {
	acct := &model.BankAccount{
		ID:                 "ba_" + userID,
		UserID:             userID,
		AccountHolderName:  "Ada Lovelace",
		AccountNumberLast4: "6789",
		BankName:           "First Bank",
		RecipientCode:      "RCP_test",
		IsDefault:          true,
		IsVerified:         verified,
	}
	assert.NoError(t, e.repo.CreateBankAccount(e.ctx, acct))
	return acct
}
