package repo

import (
	"context"

	"github.com/freelancehub/payments-service/internal/model"
	"gorm.io/gorm"
)

// CreateBankAccount inserts an account. When the new account is the default,
// the previous default is cleared in the same DB transaction so at most one
// default exists per user.
func (r *Repository) CreateBankAccount(ctx context.Context, acct *model.BankAccount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if acct.IsDefault {
			if err := clearDefault(tx, acct.UserID); err != nil {
				return err
			}
		}
		return tx.Create(acct).Error
	})
}

// ListBankAccounts returns the user's accounts, default first.
func (r *Repository) ListBankAccounts(ctx context.Context, userID string) ([]model.BankAccount, error) {
	var accts []model.BankAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default desc, created_at asc").
		Find(&accts).Error
	return accts, err
}

// GetBankAccount is owner-scoped: the userID filter stops cross-user reads.
func (r *Repository) GetBankAccount(ctx context.Context, userID, id string) (*model.BankAccount, error) {
	var acct model.BankAccount
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&acct).Error
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

// UpdateBankAccount saves mutable fields, keeping the single-default rule.
func (r *Repository) UpdateBankAccount(ctx context.Context, acct *model.BankAccount) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if acct.IsDefault {
			if err := clearDefault(tx, acct.UserID); err != nil {
				return err
			}
		}
		res := tx.Model(&model.BankAccount{}).
			Where("id = ? AND user_id = ?", acct.ID, acct.UserID).
			Updates(map[string]interface{}{
				"account_holder_name": acct.AccountHolderName,
				"bank_name":           acct.BankName,
				"account_type":        acct.AccountType,
				"recipient_code":      acct.RecipientCode,
				"is_default":          acct.IsDefault,
				"is_verified":         acct.IsVerified,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// DeleteBankAccount removes an owner's account.
func (r *Repository) DeleteBankAccount(ctx context.Context, userID, id string) error {
	res := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.BankAccount{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DefaultBankAccount returns the account withdrawals pay out to.
func (r *Repository) DefaultBankAccount(ctx context.Context, userID string) (*model.BankAccount, error) {
	var acct model.BankAccount
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_default = ?", userID, true).
		First(&acct).Error
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func clearDefault(tx *gorm.DB, userID string) error {
	return tx.Model(&model.BankAccount{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}
