package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/repo"
)

// RecipientCreator is implemented by gateways that mint payout recipient
// tokens from raw account details.
type RecipientCreator interface {
	CreateRecipient(ctx context.Context, name, accountNumber, bankCode, currency string) (string, error)
}

// BankAccountService manages payout destinations. Full account numbers pass
// through to the gateway vault and are reduced to their last four digits
// before anything is stored.
type BankAccountService struct {
	repo     repo.RepositoryInterface
	gateways map[string]gateway.Adapter
	currency string
	log      *zap.SugaredLogger
}

func NewBankAccountService(r repo.RepositoryInterface, gws map[string]gateway.Adapter, currency string, logger *zap.SugaredLogger) *BankAccountService {
	return &BankAccountService{repo: r, gateways: gws, currency: currency, log: logger}
}

type BankAccountInput struct {
	AccountHolderName string
	AccountNumber     string
	RoutingNumber     string
	BankName          string
	BankCode          string
	AccountType       string
	Gateway           string
	RecipientCode     string
	IsDefault         bool
}

// Create registers a destination. When the gateway can mint a recipient
// token we do so with the full account number, store the token, and keep
// only the last four digits; the account is then considered verified since
// the provider resolved it.
func (s *BankAccountService) Create(ctx context.Context, userID string, in BankAccountInput) (*model.BankAccount, error) {
	if len(in.AccountNumber) < 4 || in.AccountHolderName == "" {
		return nil, ErrInvalidAccount
	}

	recipientCode := in.RecipientCode
	verified := false
	if recipientCode == "" && in.Gateway != "" {
		if rc, ok := s.gateways[in.Gateway].(RecipientCreator); ok {
			code, err := rc.CreateRecipient(ctx, in.AccountHolderName, in.AccountNumber, in.BankCode, s.currency)
			if err != nil {
				return nil, err
			}
			recipientCode = code
			verified = true
		}
	}

	acct := &model.BankAccount{
		ID:                 uuid.NewString(),
		UserID:             userID,
		AccountHolderName:  in.AccountHolderName,
		AccountNumberLast4: lastFour(in.AccountNumber),
		RoutingNumber:      in.RoutingNumber,
		BankName:           in.BankName,
		AccountType:        in.AccountType,
		RecipientCode:      recipientCode,
		IsDefault:          in.IsDefault,
		IsVerified:         verified,
	}
	if err := s.repo.CreateBankAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// List returns the owner's accounts (last-4 only, by construction).
func (s *BankAccountService) List(ctx context.Context, userID string) ([]model.BankAccount, error) {
	return s.repo.ListBankAccounts(ctx, userID)
}

// Get is owner-scoped.
func (s *BankAccountService) Get(ctx context.Context, userID, id string) (*model.BankAccount, error) {
	return s.repo.GetBankAccount(ctx, userID, id)
}

type BankAccountUpdate struct {
	AccountHolderName *string
	BankName          *string
	AccountType       *string
	IsDefault         *bool
	IsVerified        *bool
}

// Update applies partial changes to mutable fields.
func (s *BankAccountService) Update(ctx context.Context, userID, id string, upd BankAccountUpdate) (*model.BankAccount, error) {
	acct, err := s.repo.GetBankAccount(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if upd.AccountHolderName != nil {
		acct.AccountHolderName = *upd.AccountHolderName
	}
	if upd.BankName != nil {
		acct.BankName = *upd.BankName
	}
	if upd.AccountType != nil {
		acct.AccountType = *upd.AccountType
	}
	if upd.IsDefault != nil {
		acct.IsDefault = *upd.IsDefault
	}
	if upd.IsVerified != nil {
		acct.IsVerified = *upd.IsVerified
	}
	if err := s.repo.UpdateBankAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Delete removes an owner's account.
func (s *BankAccountService) Delete(ctx context.Context, userID, id string) error {
	return s.repo.DeleteBankAccount(ctx, userID, id)
}

func lastFour(number string) string {
	number = strings.TrimSpace(number)
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}
