package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stripe talks to the card-processing platform. Amounts cross the wire in
// minor units (cents) and are normalized to major units here.
type Stripe struct {
	baseURL       string
	secretKey     string
	webhookSecret string
	httpClient    *http.Client
}

// stripeSigTolerance bounds how old a webhook timestamp may be before the
// signature is refused, limiting replay of captured payloads.
const stripeSigTolerance = 5 * time.Minute

func NewStripe(baseURL, secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		baseURL:       baseURL,
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		httpClient:    &http.Client{Timeout: requestTimeout},
	}
}

func (s *Stripe) Name() string { return "stripe" }

type stripePaymentIntent struct {
	ID           string            `json:"id"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Status       string            `json:"status"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// CreateCharge opens a payment intent the client confirms with the card form.
func (s *Stripe) CreateCharge(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*ChargeIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(amount), 10))
	form.Set("currency", strings.ToLower(currency))
	form.Set("metadata[userId]", userID)

	body, status, err := s.do(ctx, http.MethodPost, "/v1/payment_intents", form)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(s.Name(), status, body)
	}
	var pi stripePaymentIntent
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("%w: stripe: parse payment intent: %v", ErrUnavailable, err)
	}
	return &ChargeIntent{Reference: pi.ID, ClientToken: pi.ClientSecret}, nil
}

// VerifyCharge fetches the payment intent and reports whether it succeeded.
func (s *Stripe) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	body, status, err := s.do(ctx, http.MethodGet, "/v1/payment_intents/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(s.Name(), status, body)
	}
	var pi stripePaymentIntent
	if err := json.Unmarshal(body, &pi); err != nil {
		return nil, fmt.Errorf("%w: stripe: parse payment intent: %v", ErrUnavailable, err)
	}
	return &ChargeResult{
		Succeeded: pi.Status == "succeeded",
		Amount:    fromMinorUnits(pi.Amount),
		Currency:  strings.ToUpper(pi.Currency),
		Reference: pi.ID,
		Raw:       body,
	}, nil
}

// Payout is not offered on the card platform; withdrawals go through the
// payout providers.
func (s *Stripe) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	return nil, fmt.Errorf("%w: stripe: payouts not supported", ErrRejected)
}

// VerifyWebhook checks the Stripe-Signature header: v1 entries are
// HMAC-SHA256 over "<timestamp>.<payload>" with the endpoint secret.
func (s *Stripe) VerifyWebhook(_ context.Context, payload []byte, signature string) error {
	var ts string
	var candidates []string
	for _, part := range strings.Split(signature, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			ts = kv[1]
		case "v1":
			candidates = append(candidates, kv[1])
		}
	}
	if ts == "" || len(candidates) == 0 {
		return fmt.Errorf("%w: stripe: malformed signature header", ErrSignatureInvalid)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: stripe: bad timestamp", ErrSignatureInvalid)
	}
	if d := time.Since(time.Unix(sec, 0)); d > stripeSigTolerance || d < -stripeSigTolerance {
		return fmt.Errorf("%w: stripe: timestamp outside tolerance", ErrSignatureInvalid)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, c := range candidates {
		if hmac.Equal([]byte(expected), []byte(c)) {
			return nil
		}
	}
	return fmt.Errorf("%w: stripe: no matching v1 signature", ErrSignatureInvalid)
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object stripePaymentIntent `json:"object"`
	} `json:"data"`
}

// ParseEvent decodes the payload into the closed event union.
func (s *Stripe) ParseEvent(payload []byte) (*Event, error) {
	var evt stripeEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("stripe: decode event: %w", err)
	}
	e := &Event{
		Kind:      EventUnknown,
		Reference: evt.Data.Object.ID,
		UserID:    evt.Data.Object.Metadata["userId"],
		Amount:    fromMinorUnits(evt.Data.Object.Amount),
		Currency:  strings.ToUpper(evt.Data.Object.Currency),
		Raw:       payload,
	}
	switch evt.Type {
	case "payment_intent.succeeded":
		e.Kind = EventPaymentSucceeded
	case "payment_intent.payment_failed":
		e.Kind = EventPaymentFailed
	}
	return e, nil
}

func (s *Stripe) do(ctx context.Context, method, path string, form url.Values) ([]byte, int, error) {
	var reqBody *strings.Reader
	if form != nil {
		reqBody = strings.NewReader(form.Encode())
	} else {
		reqBody = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("stripe: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportErr(s.Name(), err)
	}
	defer resp.Body.Close()
	return readBody(resp), resp.StatusCode, nil
}

// toMinorUnits rounds half away from zero so a sub-cent request charges the
// same value the ledger will later record from the provider's response.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(decimal.NewFromInt(100))
}
