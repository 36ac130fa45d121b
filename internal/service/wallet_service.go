package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/repo"
)

// maxCommitAttempts bounds transparent retries after a version conflict
// before ErrConcurrentUpdate surfaces.
const maxCommitAttempts = 3

// WalletService is the single authority for changing wallet balances. Every
// mutation commits the balance update and its transaction record as one
// atomic unit, keyed on the wallet version.
type WalletService struct {
	repo repo.RepositoryInterface
	log  *zap.SugaredLogger
}

func NewWalletService(r repo.RepositoryInterface, logger *zap.SugaredLogger) *WalletService {
	return &WalletService{repo: r, log: logger}
}

// Mutation describes a requested balance change tied to a gateway reference.
type Mutation struct {
	UserID      string
	Amount      decimal.Decimal
	Gateway     string
	Reference   string
	Description string
	Metadata    string
}

// ApplyCredit adds funds. The wallet is created implicitly on the first
// credit. Replays with the same reference return the original record without
// reapplying the delta.
func (s *WalletService) ApplyCredit(ctx context.Context, m Mutation) (*model.Transaction, error) {
	if m.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	var result *model.Transaction
	err := s.commit(ctx, func(tx *gorm.DB) error {
		if existing, err := s.priorTransaction(ctx, tx, m, model.TxTypeReceived); err != nil {
			return err
		} else if existing != nil {
			result = existing
			return nil
		}

		w, err := s.repo.GetWallet(ctx, tx, m.UserID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			w = &model.Wallet{
				UserID:         m.UserID,
				Balance:        decimal.Zero,
				PendingBalance: decimal.Zero,
				TotalEarned:    decimal.Zero,
				TotalWithdrawn: decimal.Zero,
			}
			if err := s.repo.CreateWallet(ctx, tx, w); err != nil {
				return err
			}
		}

		w.Balance = w.Balance.Add(m.Amount)
		w.TotalEarned = w.TotalEarned.Add(m.Amount)

		t := s.newTransaction(m, model.TxTypeReceived, model.TxStatusCompleted, w.Balance)
		inserted, err := s.repo.CreateTransactionIfAbsent(ctx, tx, t)
		if err != nil {
			return err
		}
		if !inserted {
			// a concurrent replay claimed the reference first
			existing, err := s.repo.FindTransactionByReference(ctx, tx, m.Gateway, m.Reference, model.TxTypeReceived)
			if err != nil {
				return err
			}
			result = existing
			return nil
		}
		if err := s.repo.UpdateWallet(ctx, tx, w, w.Version); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, model.EventWalletCredited, t); err != nil {
			return err
		}
		s.refreshCache(ctx, m.UserID, w.Balance)
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyDebit removes spendable funds for an outbound payment. It fails with
// ErrInsufficientBalance when the amount exceeds what is available.
func (s *WalletService) ApplyDebit(ctx context.Context, m Mutation) (*model.Transaction, error) {
	return s.debit(ctx, m, model.TxTypeSent, model.TxStatusCompleted)
}

// ReserveWithdrawal is the debit variant used by withdrawals: funds move from
// Balance into PendingBalance and the transaction stays pending until the
// gateway payout settles or fails.
func (s *WalletService) ReserveWithdrawal(ctx context.Context, m Mutation) (*model.Transaction, error) {
	return s.debit(ctx, m, model.TxTypeWithdrawn, model.TxStatusPending)
}

func (s *WalletService) debit(ctx context.Context, m Mutation, txType, txStatus string) (*model.Transaction, error) {
	if m.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	var result *model.Transaction
	err := s.commit(ctx, func(tx *gorm.DB) error {
		if existing, err := s.priorTransaction(ctx, tx, m, txType); err != nil {
			return err
		} else if existing != nil {
			result = existing
			return nil
		}

		w, err := s.repo.GetWallet(ctx, tx, m.UserID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientBalance
			}
			return err
		}
		if w.Available().LessThan(m.Amount) {
			return ErrInsufficientBalance
		}

		w.Balance = w.Balance.Sub(m.Amount)
		if txStatus == model.TxStatusPending {
			w.PendingBalance = w.PendingBalance.Add(m.Amount)
		} else if txType == model.TxTypeWithdrawn {
			w.TotalWithdrawn = w.TotalWithdrawn.Add(m.Amount)
		}

		t := s.newTransaction(m, txType, txStatus, w.Balance)
		inserted, err := s.repo.CreateTransactionIfAbsent(ctx, tx, t)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindTransactionByReference(ctx, tx, m.Gateway, m.Reference, txType)
			if err != nil {
				return err
			}
			result = existing
			return nil
		}
		if err := s.repo.UpdateWallet(ctx, tx, w, w.Version); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, model.EventWalletDebited, t); err != nil {
			return err
		}
		s.refreshCache(ctx, m.UserID, w.Balance)
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleWithdrawal completes a pending reservation: reserved funds leave
// PendingBalance for good and TotalWithdrawn grows. Settling an
// already-settled transaction is a no-op.
func (s *WalletService) SettleWithdrawal(ctx context.Context, txID string) (*model.Transaction, error) {
	return s.resolveReservation(ctx, txID, true)
}

// ReverseWithdrawal compensates a failed payout: the reserved amount returns
// to Balance as a corrective credit referencing the original transaction, and
// the record is marked failed.
func (s *WalletService) ReverseWithdrawal(ctx context.Context, txID string) (*model.Transaction, error) {
	return s.resolveReservation(ctx, txID, false)
}

func (s *WalletService) resolveReservation(ctx context.Context, txID string, settled bool) (*model.Transaction, error) {
	var result *model.Transaction
	err := s.commit(ctx, func(tx *gorm.DB) error {
		t, err := s.repo.GetTransaction(ctx, tx, txID)
		if err != nil {
			return err
		}
		if t.Settled() {
			result = t
			return nil
		}

		toStatus := model.TxStatusCompleted
		reversalRef := ""
		if !settled {
			toStatus = model.TxStatusFailed
			reversalRef = "rev_" + uuid.NewString()
		}
		changed, err := s.repo.SettleTransaction(ctx, tx, t.ID, toStatus, reversalRef)
		if err != nil {
			return err
		}
		if !changed {
			// lost the race to another resolver; reload and report
			t, err = s.repo.GetTransaction(ctx, tx, txID)
			if err != nil {
				return err
			}
			result = t
			return nil
		}

		w, err := s.repo.GetWallet(ctx, tx, t.UserID)
		if err != nil {
			return err
		}
		w.PendingBalance = w.PendingBalance.Sub(t.Amount)
		event := model.EventWithdrawalSettled
		if settled {
			w.TotalWithdrawn = w.TotalWithdrawn.Add(t.Amount)
		} else {
			w.Balance = w.Balance.Add(t.Amount)
			event = model.EventWithdrawalFailed
		}
		if err := s.repo.UpdateWallet(ctx, tx, w, w.Version); err != nil {
			return err
		}
		t.Status = toStatus
		t.ReversalReference = reversalRef
		if err := s.emit(ctx, tx, event, t); err != nil {
			return err
		}
		s.refreshCache(ctx, t.UserID, w.Balance)
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetWallet returns the wallet summary, creating nothing.
func (s *WalletService) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// GetBalance returns current balance, cache-first.
func (s *WalletService) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	bal, err := s.repo.GetCachedBalance(ctx, userID)
	if err == nil {
		return bal, nil
	}
	w, err := s.repo.GetWallet(ctx, s.repo.DB(ctx), userID)
	if err != nil {
		return decimal.Zero, err
	}
	s.refreshCache(ctx, userID, w.Balance)
	return w.Balance, nil
}

// GetHistory fetches recent transactions for the owner.
func (s *WalletService) GetHistory(ctx context.Context, userID string, limit int, since time.Time) ([]model.Transaction, error) {
	var txs []model.Transaction
	err := s.repo.DB(ctx).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("created_at asc").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// FindByReference exposes idempotency lookups to the ingestion layer.
func (s *WalletService) FindByReference(ctx context.Context, gw, ref, txType string) (*model.Transaction, error) {
	t, err := s.repo.FindTransactionByReference(ctx, s.repo.DB(ctx), gw, ref, txType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

// Repo exposes the underlying repository (unit tests helper).
func (s *WalletService) Repo() repo.RepositoryInterface { return s.repo }

// commit runs the unit of work, retrying transparently when a concurrent
// mutation of the same wallet invalidated the version we read.
func (s *WalletService) commit(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxCommitAttempts; attempt++ {
		err = s.repo.DB(ctx).Transaction(fn)
		if !errors.Is(err, repo.ErrVersionConflict) {
			return err
		}
		s.log.Infow("wallet version conflict, retrying", "attempt", attempt+1)
	}
	return ErrConcurrentUpdate
}

func (s *WalletService) priorTransaction(ctx context.Context, tx *gorm.DB, m Mutation, txType string) (*model.Transaction, error) {
	existing, err := s.repo.FindTransactionByReference(ctx, tx, m.Gateway, m.Reference, txType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return existing, nil
}

func (s *WalletService) newTransaction(m Mutation, txType, status string, balanceAfter decimal.Decimal) *model.Transaction {
	return &model.Transaction{
		ID:                uuid.NewString(),
		UserID:            m.UserID,
		Type:              txType,
		Amount:            m.Amount,
		Status:            status,
		Description:       m.Description,
		Gateway:           m.Gateway,
		ExternalReference: m.Reference,
		GatewayMetadata:   m.Metadata,
		BalanceAfter:      balanceAfter,
	}
}

func (s *WalletService) emit(ctx context.Context, tx *gorm.DB, eventType string, t *model.Transaction) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"transaction_id": t.ID,
		"user_id":        t.UserID,
		"type":           t.Type,
		"status":         t.Status,
		"amount":         t.Amount,
		"gateway":        t.Gateway,
		"reference":      t.ExternalReference,
	})
	evt := &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: t.UserID,
		EventType:   eventType,
		Payload:     string(payload),
	}
	return s.repo.CreateOutboxEvent(ctx, tx, evt)
}

func (s *WalletService) refreshCache(ctx context.Context, userID string, bal decimal.Decimal) {
	if err := s.repo.CacheBalance(ctx, userID, bal); err != nil {
		s.log.Warnw("cache balance", "user_id", userID, "err", err)
	}
}
