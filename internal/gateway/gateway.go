package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Adapter errors. Callers branch on these to decide whether a retry makes
// sense: ErrUnavailable is transient (transport failure, 5xx), ErrRejected is
// terminal (declined card, invalid recipient, 4xx).
var (
	ErrUnavailable      = errors.New("gateway unavailable")
	ErrRejected         = errors.New("gateway rejected request")
	ErrSignatureInvalid = errors.New("webhook signature invalid")
)

// Timeout for every outbound provider call. Adapters must never hang a
// request waiting on a provider.
const requestTimeout = 8 * time.Second

// ChargeIntent is a provider-side charge the client still has to confirm.
type ChargeIntent struct {
	Reference   string `json:"reference"`
	RedirectURL string `json:"redirect_url,omitempty"`
	ClientToken string `json:"client_token,omitempty"`
}

// ChargeResult is the normalized outcome of a charge verification.
type ChargeResult struct {
	Succeeded bool
	Amount    decimal.Decimal
	Currency  string
	Reference string
	Raw       json.RawMessage
}

// PayoutRequest describes a transfer to a user's payout destination.
type PayoutRequest struct {
	Reference     string
	Amount        decimal.Decimal
	Currency      string
	RecipientCode string
	HolderName    string
	Reason        string
}

// Payout statuses as reported by the provider at submit time.
const (
	PayoutSubmitted = "submitted"
	PayoutSettled   = "settled"
	PayoutFailed    = "failed"
)

type PayoutResult struct {
	Reference   string
	ProviderRef string
	Status      string
	Raw         json.RawMessage
}

// Webhook event kinds. Every provider payload is decoded into exactly one of
// these at the ingestion boundary; anything unrecognized becomes EventUnknown
// and is acknowledged without mutation.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventPaymentSucceeded
	EventPaymentFailed
	EventPayoutSettled
	EventPayoutFailed
)

// Event is the provider-agnostic form of an inbound webhook notification.
type Event struct {
	Kind      EventKind
	Reference string
	UserID    string
	Amount    decimal.Decimal
	Currency  string
	Raw       json.RawMessage
}

// Adapter translates generic charge/payout intents into provider calls and
// normalizes the responses. Adapters never touch the ledger.
type Adapter interface {
	Name() string
	CreateCharge(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*ChargeIntent, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error)
	Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, signature string) error
	ParseEvent(payload []byte) (*Event, error)
}
