package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Paystack covers the African payments corridor. Amounts cross the wire in
// kobo (minor units); webhooks are signed with HMAC-SHA512 of the raw body.
type Paystack struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

func NewPaystack(baseURL, secretKey string) *Paystack {
	return &Paystack{
		baseURL:    baseURL,
		secretKey:  secretKey,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

func (p *Paystack) Name() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type paystackTransaction struct {
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Metadata  struct {
		UserID string `json:"userId"`
	} `json:"metadata"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
}

type paystackTransfer struct {
	Reference    string `json:"reference"`
	TransferCode string `json:"transfer_code"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
}

// CreateCharge initializes a transaction; the client completes it on the
// hosted checkout page.
func (p *Paystack) CreateCharge(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*ChargeIntent, error) {
	payload := map[string]interface{}{
		"email":    userID + "@checkout.invalid",
		"amount":   toMinorUnits(amount),
		"currency": strings.ToUpper(currency),
		"metadata": map[string]string{"userId": userID},
	}
	data, err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, err
	}
	var tx paystackTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: paystack: parse initialize: %v", ErrUnavailable, err)
	}
	return &ChargeIntent{Reference: tx.Reference, RedirectURL: tx.AuthorizationURL, ClientToken: tx.AccessCode}, nil
}

// VerifyCharge resolves a transaction reference to its settled state.
func (p *Paystack) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	data, err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	var tx paystackTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("%w: paystack: parse verify: %v", ErrUnavailable, err)
	}
	return &ChargeResult{
		Succeeded: tx.Status == "success",
		Amount:    fromMinorUnits(tx.Amount),
		Currency:  strings.ToUpper(tx.Currency),
		Reference: tx.Reference,
		Raw:       data,
	}, nil
}

// Payout initiates a transfer to a previously created transfer recipient.
func (p *Paystack) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	payload := map[string]interface{}{
		"source":    "balance",
		"amount":    toMinorUnits(req.Amount),
		"currency":  strings.ToUpper(req.Currency),
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	data, err := p.call(ctx, http.MethodPost, "/transfer", payload)
	if err != nil {
		return nil, err
	}
	var tr paystackTransfer
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("%w: paystack: parse transfer: %v", ErrUnavailable, err)
	}
	res := &PayoutResult{Reference: req.Reference, ProviderRef: tr.TransferCode, Raw: data}
	switch tr.Status {
	case "success":
		res.Status = PayoutSettled
	case "failed", "reversed":
		res.Status = PayoutFailed
	default:
		// pending / otp: the transfer is in flight
		res.Status = PayoutSubmitted
	}
	return res, nil
}

// CreateRecipient registers a transfer recipient from raw account details
// and returns the recipient code. The account number goes to the provider
// vault and is never persisted locally.
func (p *Paystack) CreateRecipient(ctx context.Context, name, accountNumber, bankCode, currency string) (string, error) {
	payload := map[string]interface{}{
		"type":           "nuban",
		"name":           name,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       strings.ToUpper(currency),
	}
	data, err := p.call(ctx, http.MethodPost, "/transferrecipient", payload)
	if err != nil {
		return "", err
	}
	var out struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: paystack: parse recipient: %v", ErrUnavailable, err)
	}
	return out.RecipientCode, nil
}

// VerifyWebhook checks x-paystack-signature: HMAC-SHA512 of the raw body
// keyed with the account secret.
func (p *Paystack) VerifyWebhook(_ context.Context, payload []byte, signature string) error {
	mac := hmac.New(sha512.New, []byte(p.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: paystack: signature mismatch", ErrSignatureInvalid)
	}
	return nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		paystackTransaction
		TransferCode string `json:"transfer_code"`
	} `json:"data"`
}

func (p *Paystack) ParseEvent(payload []byte) (*Event, error) {
	var evt paystackEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("paystack: decode event: %w", err)
	}
	e := &Event{
		Kind:      EventUnknown,
		Reference: evt.Data.Reference,
		UserID:    evt.Data.Metadata.UserID,
		Amount:    fromMinorUnits(evt.Data.Amount),
		Currency:  strings.ToUpper(evt.Data.Currency),
		Raw:       payload,
	}
	switch evt.Event {
	case "charge.success":
		e.Kind = EventPaymentSucceeded
	case "charge.failed":
		e.Kind = EventPaymentFailed
	case "transfer.success":
		e.Kind = EventPayoutSettled
	case "transfer.failed", "transfer.reversed":
		e.Kind = EventPayoutFailed
	}
	return e, nil
}

// call performs a request and unwraps the {status,message,data} envelope.
func (p *Paystack) call(ctx context.Context, method, path string, payload interface{}) (json.RawMessage, error) {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("paystack: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, transportErr(p.Name(), err)
	}
	defer resp.Body.Close()
	respBody := readBody(resp)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classifyStatus(p.Name(), resp.StatusCode, respBody)
	}
	var env paystackEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("%w: paystack: parse envelope: %v", ErrUnavailable, err)
	}
	if !env.Status {
		return nil, fmt.Errorf("%w: paystack: %s", ErrRejected, env.Message)
	}
	return env.Data, nil
}
