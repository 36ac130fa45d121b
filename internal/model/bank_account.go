package model

import "time"

// BankAccount is a payout destination. Only the last four digits of the
// account number are ever stored; the full number lives in the gateway's
// vault and is referenced via RecipientCode.
type BankAccount struct {
	ID                 string    `gorm:"primaryKey;size:36"`
	UserID             string    `gorm:"size:64;index;not null"`
	AccountHolderName  string    `gorm:"size:128;not null"`
	AccountNumberLast4 string    `gorm:"size:4;not null"`
	RoutingNumber      string    `gorm:"size:32"`
	BankName           string    `gorm:"size:128"`
	AccountType        string    `gorm:"size:16"`
	RecipientCode      string    `gorm:"size:128"`
	IsDefault          bool      `gorm:"not null;default:false"`
	IsVerified         bool      `gorm:"not null;default:false"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (BankAccount) TableName() string { return "bank_account" }
