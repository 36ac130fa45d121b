package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/freelancehub/payments-service/internal/gateway"
)

// WebhookService is the ingestion boundary for provider notifications.
// An event moves received -> verified -> dispatched -> acknowledged, or is
// rejected outright on a bad signature before any business logic runs.
type WebhookService struct {
	wallet      *WalletService
	withdrawals *WithdrawalService
	gateways    map[string]gateway.Adapter
	log         *zap.SugaredLogger
}

func NewWebhookService(w *WalletService, wd *WithdrawalService, gws map[string]gateway.Adapter, logger *zap.SugaredLogger) *WebhookService {
	return &WebhookService{wallet: w, withdrawals: wd, gateways: gws, log: logger}
}

// Ingest verifies and dispatches one inbound event. Replays of a reference
// already in the ledger are acknowledged without a second credit.
func (s *WebhookService) Ingest(ctx context.Context, gatewayName string, payload []byte, signature string) error {
	adapter, ok := s.gateways[gatewayName]
	if !ok {
		return ErrUnknownGateway
	}

	if err := adapter.VerifyWebhook(ctx, payload, signature); err != nil {
		// security event: someone posted an unverifiable payload
		s.log.Warnw("webhook rejected", "gateway", gatewayName, "err", err)
		return err
	}

	// the signature already passed, so an undecodable body is a payload
	// problem, not an authenticity one
	evt, err := adapter.ParseEvent(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch evt.Kind {
	case gateway.EventPaymentSucceeded:
		return s.creditPayment(ctx, gatewayName, evt)

	case gateway.EventPaymentFailed:
		// nothing was reserved for an inbound charge; record keeping only
		s.log.Infow("payment failed at provider", "gateway", gatewayName, "reference", evt.Reference)
		return nil

	case gateway.EventPayoutSettled:
		return s.resolvePayout(ctx, gatewayName, evt, true)

	case gateway.EventPayoutFailed:
		return s.resolvePayout(ctx, gatewayName, evt, false)

	default:
		// unknown event types are acknowledged, never fatal
		s.log.Infow("ignoring unrecognized webhook event", "gateway", gatewayName, "reference", evt.Reference)
		return nil
	}
}

func (s *WebhookService) creditPayment(ctx context.Context, gatewayName string, evt *gateway.Event) error {
	if evt.UserID == "" {
		s.log.Warnw("payment event without owner metadata, acknowledging",
			"gateway", gatewayName, "reference", evt.Reference)
		return nil
	}
	if evt.Amount.LessThanOrEqual(decimal.Zero) {
		s.log.Warnw("payment event with non-positive amount, acknowledging",
			"gateway", gatewayName, "reference", evt.Reference)
		return nil
	}
	_, err := s.wallet.ApplyCredit(ctx, Mutation{
		UserID:      evt.UserID,
		Amount:      evt.Amount,
		Gateway:     gatewayName,
		Reference:   evt.Reference,
		Description: "payment received",
		Metadata:    string(evt.Raw),
	})
	return err
}

func (s *WebhookService) resolvePayout(ctx context.Context, gatewayName string, evt *gateway.Event, settled bool) error {
	_, err := s.withdrawals.ResolveByReference(ctx, gatewayName, evt.Reference, settled)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// a payout we did not originate; acknowledge
		s.log.Warnw("payout event for unknown reference", "gateway", gatewayName, "reference", evt.Reference)
		return nil
	}
	return err
}
