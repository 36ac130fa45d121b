package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxTypeReceived  = "received"
	TxTypeSent      = "sent"
	TxTypeWithdrawn = "withdrawn"
)

// Transaction statuses. A record is immutable once status leaves pending.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Transaction is one append-only ledger entry. ExternalReference is the
// gateway-side id (order/transfer/reference) and doubles as the idempotency
// key: the unique index makes duplicate inserts a no-op.
type Transaction struct {
	ID                string          `gorm:"primaryKey;size:36"`
	UserID            string          `gorm:"size:64;index;not null"`
	Type              string          `gorm:"size:16;not null;uniqueIndex:idx_tx_ref"`
	Amount            decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	Status            string          `gorm:"size:16;not null"`
	Description       string          `gorm:"size:255"`
	Gateway           string          `gorm:"size:32;not null;uniqueIndex:idx_tx_ref"`
	ExternalReference string          `gorm:"size:128;not null;uniqueIndex:idx_tx_ref"`
	GatewayMetadata   string          `gorm:"type:jsonb"`
	BalanceAfter      decimal.Decimal `gorm:"type:numeric(20,8);not null"`
	ReversalReference string          `gorm:"size:128"`
	CreatedAt         time.Time       `gorm:"autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime"`
}

func (Transaction) TableName() string { return "transaction" }

// Settled reports whether the record has left the pending state.
func (t *Transaction) Settled() bool { return t.Status != TxStatusPending }
