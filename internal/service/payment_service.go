package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/freelancehub/payments-service/internal/gateway"
	"github.com/freelancehub/payments-service/internal/model"
)

// PaymentService drives the client-initiated charge flow: open a charge with
// the provider, then verify and credit once the client confirms.
type PaymentService struct {
	wallet   *WalletService
	gateways map[string]gateway.Adapter
	currency string
	log      *zap.SugaredLogger
}

func NewPaymentService(w *WalletService, gws map[string]gateway.Adapter, currency string, logger *zap.SugaredLogger) *PaymentService {
	return &PaymentService{wallet: w, gateways: gws, currency: currency, log: logger}
}

// CreateCharge opens a provider-side charge for the client to confirm.
func (s *PaymentService) CreateCharge(ctx context.Context, gatewayName, userID string, amount decimal.Decimal, currency string) (*gateway.ChargeIntent, error) {
	adapter, ok := s.gateways[gatewayName]
	if !ok {
		return nil, ErrUnknownGateway
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidAmount
	}
	if currency == "" {
		currency = s.currency
	}
	return adapter.CreateCharge(ctx, userID, amount, currency)
}

// VerifyAndCredit confirms a charge with the provider and credits the wallet
// idempotently by the provider reference. Verification and the webhook path
// may both fire for the same charge; the ledger absorbs the duplicate.
func (s *PaymentService) VerifyAndCredit(ctx context.Context, gatewayName, reference, userID string) (*gateway.ChargeResult, *model.Transaction, error) {
	adapter, ok := s.gateways[gatewayName]
	if !ok {
		return nil, nil, ErrUnknownGateway
	}
	res, err := adapter.VerifyCharge(ctx, reference)
	if err != nil {
		return nil, nil, err
	}
	if !res.Succeeded {
		return res, nil, nil
	}
	t, err := s.wallet.ApplyCredit(ctx, Mutation{
		UserID:      userID,
		Amount:      res.Amount,
		Gateway:     gatewayName,
		Reference:   res.Reference,
		Description: "payment received",
		Metadata:    string(res.Raw),
	})
	if err != nil {
		return res, nil, err
	}
	return res, t, nil
}
