package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds a user's spendable balance plus cumulative counters.
// Created implicitly on the first successful credit, never deleted.
// Invariant: Balance + PendingBalance equals the net of completed
// transactions (received minus sent/withdrawn) for the user.
type Wallet struct {
	UserID         string          `gorm:"primaryKey;size:64;column:user_id"`
	Balance        decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	PendingBalance decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	TotalEarned    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version        uint64          `gorm:"not null;default:0"`
	CreatedAt      time.Time       `gorm:"autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime"`
}

func (Wallet) TableName() string { return "wallet" }

// Available is the amount a withdrawal may still reserve. Reservations
// already moved funds out of Balance into PendingBalance.
func (w *Wallet) Available() decimal.Decimal { return w.Balance }
