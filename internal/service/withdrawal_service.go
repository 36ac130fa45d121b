package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/repo"
)

// PayoutLocker serializes withdrawals per user across processes.
type PayoutLocker interface {
	Acquire(ctx context.Context, userID string) (func(), error)
}

// payoutAttempts bounds retries of the gateway submit on transient failures.
// The reference stays constant across attempts so the provider deduplicates.
const payoutAttempts = 3

// WithdrawalService walks a withdrawal through
// requested -> reserved -> submitted -> settled/failed. Funds are reserved in
// the ledger before the gateway is called; a terminal gateway failure is
// compensated with a reversal credit, an ambiguous one leaves the
// reservation pending for reconciliation against the gateway's status API.
type WithdrawalService struct {
	wallet   *WalletService
	repo     repo.RepositoryInterface
	gateways map[string]gateway.Adapter
	locker   PayoutLocker
	currency string
	log      *zap.SugaredLogger
}

func NewWithdrawalService(w *WalletService, r repo.RepositoryInterface, gws map[string]gateway.Adapter, locker PayoutLocker, currency string, logger *zap.SugaredLogger) *WithdrawalService {
	return &WithdrawalService{wallet: w, repo: r, gateways: gws, locker: locker, currency: currency, log: logger}
}

type WithdrawalRequest struct {
	UserID        string
	Amount        decimal.Decimal
	Gateway       string
	BankAccountID string
	Reason        string
}

type WithdrawalResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Withdraw reserves funds and submits the payout.
func (s *WithdrawalService) Withdraw(ctx context.Context, req WithdrawalRequest) (*WithdrawalResult, error) {
	adapter, ok := s.gateways[req.Gateway]
	if !ok {
		return nil, ErrUnknownGateway
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}

	release, err := s.locker.Acquire(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConcurrentUpdate, err)
	}
	defer release()

	acct, err := s.destination(ctx, req)
	if err != nil {
		return nil, err
	}

	reference := "wd_" + uuid.NewString()
	t, err := s.wallet.ReserveWithdrawal(ctx, Mutation{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Gateway:     req.Gateway,
		Reference:   reference,
		Description: req.Reason,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.submit(ctx, adapter, gateway.PayoutRequest{
		Reference:     reference,
		Amount:        req.Amount,
		Currency:      s.currency,
		RecipientCode: acct.RecipientCode,
		HolderName:    acct.AccountHolderName,
		Reason:        req.Reason,
	})
	switch {
	case err == nil && res.Status == gateway.PayoutSettled:
		if _, err := s.wallet.SettleWithdrawal(ctx, t.ID); err != nil {
			return nil, err
		}
		return &WithdrawalResult{TransactionID: t.ID, Status: model.TxStatusCompleted}, nil

	case err == nil && res.Status == gateway.PayoutFailed:
		if _, rerr := s.wallet.ReverseWithdrawal(ctx, t.ID); rerr != nil {
			return nil, rerr
		}
		return nil, fmt.Errorf("%w: payout failed at provider", gateway.ErrRejected)

	case err == nil:
		// submitted: settlement arrives via webhook or reconciliation
		return &WithdrawalResult{TransactionID: t.ID, Status: model.TxStatusPending}, nil

	case errors.Is(err, gateway.ErrRejected):
		if _, rerr := s.wallet.ReverseWithdrawal(ctx, t.ID); rerr != nil {
			return nil, rerr
		}
		return nil, err

	default:
		// transient or ambiguous: the provider may have accepted the
		// transfer, so the reservation must stand until reconciled
		s.log.Warnw("payout submit ambiguous, leaving reservation pending",
			"user_id", req.UserID, "transaction_id", t.ID, "err", err)
		return &WithdrawalResult{TransactionID: t.ID, Status: model.TxStatusPending}, nil
	}
}

// ResolveByReference settles or reverses a pending withdrawal identified by
// its gateway reference (payout webhooks, reconciliation).
func (s *WithdrawalService) ResolveByReference(ctx context.Context, gw, reference string, settled bool) (*model.Transaction, error) {
	t, err := s.repo.FindTransactionByReference(ctx, s.repo.DB(ctx), gw, reference, model.TxTypeWithdrawn)
	if err != nil {
		return nil, err
	}
	if settled {
		return s.wallet.SettleWithdrawal(ctx, t.ID)
	}
	return s.wallet.ReverseWithdrawal(ctx, t.ID)
}

func (s *WithdrawalService) destination(ctx context.Context, req WithdrawalRequest) (*model.BankAccount, error) {
	var acct *model.BankAccount
	var err error
	if req.BankAccountID != "" {
		acct, err = s.repo.GetBankAccount(ctx, req.UserID, req.BankAccountID)
	} else {
		acct, err = s.repo.DefaultBankAccount(ctx, req.UserID)
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoPayoutDestination
		}
		return nil, err
	}
	if !acct.IsVerified {
		return nil, ErrNoPayoutDestination
	}
	return acct, nil
}

func (s *WithdrawalService) submit(ctx context.Context, adapter gateway.Adapter, req gateway.PayoutRequest) (*gateway.PayoutResult, error) {
	var res *gateway.PayoutResult
	var err error
	for attempt := 0; attempt < payoutAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		res, err = adapter.Payout(ctx, req)
		if err == nil || !errors.Is(err, gateway.ErrUnavailable) {
			return res, err
		}
		s.log.Warnw("payout attempt failed", "gateway", adapter.Name(), "attempt", attempt+1, "err", err)
	}
	return nil, err
}
