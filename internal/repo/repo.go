package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/freelancehub/payments-service/internal/model"
)

// ErrVersionConflict is returned when a conditional wallet update loses the
// race against a concurrent mutation of the same wallet.
var ErrVersionConflict = errors.New("wallet version conflict")

// cacheTTL bounds how stale a cached balance may be.
const cacheTTL = 5 * time.Minute

// RepositoryInterface restricts Repo methods (eases unit-test mocking).
type RepositoryInterface interface {
	DB(ctx context.Context) *gorm.DB
	GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error)
	CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error
	UpdateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, oldVersion uint64) error
	CreateTransactionIfAbsent(ctx context.Context, tx *gorm.DB, t *model.Transaction) (bool, error)
	FindTransactionByReference(ctx context.Context, tx *gorm.DB, gw, ref, txType string) (*model.Transaction, error)
	GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error)
	SettleTransaction(ctx context.Context, tx *gorm.DB, id, toStatus, reversalRef string) (bool, error)
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
	PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id uint64) error
	PublishEvent(ctx context.Context, evt model.OutboxEvent) error
	CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error
	GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	CreateBankAccount(ctx context.Context, acct *model.BankAccount) error
	ListBankAccounts(ctx context.Context, userID string) ([]model.BankAccount, error)
	GetBankAccount(ctx context.Context, userID, id string) (*model.BankAccount, error)
	UpdateBankAccount(ctx context.Context, acct *model.BankAccount) error
	DeleteBankAccount(ctx context.Context, userID, id string) error
	DefaultBankAccount(ctx context.Context, userID string) (*model.BankAccount, error)
}

// Repository implements RepositoryInterface against gorm, redis and kafka.
type Repository struct {
	db     *gorm.DB
	rdb    *redis.Client
	writer *kafka.Writer
	log    *zap.SugaredLogger
}

func NewRepository(db *gorm.DB, rdb *redis.Client, w *kafka.Writer, logger *zap.SugaredLogger) *Repository {
	return &Repository{db: db, rdb: rdb, writer: w, log: logger}
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// GetWallet loads a wallet row.
func (r *Repository) GetWallet(ctx context.Context, tx *gorm.DB, userID string) (*model.Wallet, error) {
	var w model.Wallet
	if err := tx.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateWallet inserts a fresh wallet (first credit for the user).
func (r *Repository) CreateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet) error {
	return tx.WithContext(ctx).Create(w).Error
}

// UpdateWallet commits new balances with an optimistic lock on version.
// Zero rows affected means a concurrent writer won; callers retry the whole
// unit of work.
func (r *Repository) UpdateWallet(ctx context.Context, tx *gorm.DB, w *model.Wallet, oldVersion uint64) error {
	res := tx.WithContext(ctx).
		Model(&model.Wallet{}).
		Where("user_id = ? AND version = ?", w.UserID, oldVersion).
		Updates(map[string]interface{}{
			"balance":         w.Balance,
			"pending_balance": w.PendingBalance,
			"total_earned":    w.TotalEarned,
			"total_withdrawn": w.TotalWithdrawn,
			"version":         oldVersion + 1,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// CreateTransactionIfAbsent inserts the record unless one with the same
// (gateway, external_reference, type) already exists. Insert-if-absent on the
// unique index, not read-then-write, so replays cannot race past the check.
func (r *Repository) CreateTransactionIfAbsent(ctx context.Context, tx *gorm.DB, t *model.Transaction) (bool, error) {
	res := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "type"}, {Name: "gateway"}, {Name: "external_reference"}},
			DoNothing: true,
		}).
		Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// FindTransactionByReference resolves the idempotency key.
func (r *Repository) FindTransactionByReference(ctx context.Context, tx *gorm.DB, gw, ref, txType string) (*model.Transaction, error) {
	var t model.Transaction
	err := tx.WithContext(ctx).
		Where("gateway = ? AND external_reference = ? AND type = ?", gw, ref, txType).
		First(&t).Error
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTransaction fetches by primary key.
func (r *Repository) GetTransaction(ctx context.Context, tx *gorm.DB, id string) (*model.Transaction, error) {
	var t model.Transaction
	if err := tx.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SettleTransaction moves a record out of pending. The status guard makes a
// settled record immutable: a second settle attempt affects zero rows.
func (r *Repository) SettleTransaction(ctx context.Context, tx *gorm.DB, id, toStatus, reversalRef string) (bool, error) {
	updates := map[string]interface{}{
		"status":     toStatus,
		"updated_at": time.Now(),
	}
	if reversalRef != "" {
		updates["reversal_reference"] = reversalRef
	}
	res := tx.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, model.TxStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateOutboxEvent writes event.
func (r *Repository) CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error {
	return tx.WithContext(ctx).Create(evt).Error
}

// PollOutbox pulls unprocessed events.
func (r *Repository) PollOutbox(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	var evts []model.OutboxEvent
	err := r.db.WithContext(ctx).Where("processed = ?", false).Order("created_at").Limit(limit).Find(&evts).Error
	return evts, err
}

// MarkOutboxProcessed sets processed flag.
func (r *Repository) MarkOutboxProcessed(ctx context.Context, id uint64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.OutboxEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{"processed": true, "processed_at": &now}).Error
}

// PublishEvent sends to Kafka.
func (r *Repository) PublishEvent(ctx context.Context, evt model.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s:%d", evt.AggregateID, evt.ID)),
		Value: []byte(evt.Payload),
		Time:  time.Now(),
	}
	return r.writer.WriteMessages(ctx, msg)
}

// CacheBalance writes Redis.
func (r *Repository) CacheBalance(ctx context.Context, userID string, bal decimal.Decimal) error {
	return r.rdb.Set(ctx, "balance:"+userID, bal.String(), cacheTTL).Err()
}

// GetCachedBalance reads Redis.
func (r *Repository) GetCachedBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	str, err := r.rdb.Get(ctx, "balance:"+userID).Result()
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(str)
}
