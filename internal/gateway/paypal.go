package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// PayPal is the digital-wallet provider used for card-less payments and for
// payouts to user wallets. Auth is OAuth2 client-credentials; the token is
// cached until shortly before expiry.
type PayPal struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPal(baseURL, clientID, clientSecret, webhookID string) *PayPal {
	return &PayPal{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		httpClient:   &http.Client{Timeout: requestTimeout},
	}
}

func (p *PayPal) Name() string { return "paypal" }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Amount   paypalAmount `json:"amount"`
		CustomID string       `json:"custom_id"`
	} `json:"purchase_units"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// CreateCharge opens an order the client approves in the PayPal UI.
func (p *PayPal) CreateCharge(ctx context.Context, userID string, amount decimal.Decimal, currency string) (*ChargeIntent, error) {
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"amount":    paypalAmount{CurrencyCode: strings.ToUpper(currency), Value: amount.StringFixed(2)},
			"custom_id": userID,
		}},
	}
	body, status, err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, classifyStatus(p.Name(), status, body)
	}
	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: paypal: parse order: %v", ErrUnavailable, err)
	}
	intent := &ChargeIntent{Reference: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" {
			intent.RedirectURL = l.Href
		}
	}
	return intent, nil
}

// VerifyCharge captures an approved order; an already captured order verifies
// as succeeded via the order lookup.
func (p *PayPal) VerifyCharge(ctx context.Context, reference string) (*ChargeResult, error) {
	body, status, err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, classifyStatus(p.Name(), status, body)
	}
	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("%w: paypal: parse order: %v", ErrUnavailable, err)
	}
	if order.Status == "APPROVED" {
		body, status, err = p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(reference)+"/capture", struct{}{})
		if err != nil {
			return nil, err
		}
		if status != http.StatusCreated && status != http.StatusOK {
			return nil, classifyStatus(p.Name(), status, body)
		}
		if err := json.Unmarshal(body, &order); err != nil {
			return nil, fmt.Errorf("%w: paypal: parse capture: %v", ErrUnavailable, err)
		}
	}
	res := &ChargeResult{
		Succeeded: order.Status == "COMPLETED",
		Reference: order.ID,
		Raw:       body,
	}
	if len(order.PurchaseUnits) > 0 {
		amt, err := decimal.NewFromString(order.PurchaseUnits[0].Amount.Value)
		if err == nil {
			res.Amount = amt
		}
		res.Currency = strings.ToUpper(order.PurchaseUnits[0].Amount.CurrencyCode)
	}
	return res, nil
}

type paypalPayoutBatch struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

// Payout sends a single-item payout batch to the recipient's wallet.
func (p *PayPal) Payout(ctx context.Context, req PayoutRequest) (*PayoutResult, error) {
	payload := map[string]interface{}{
		"sender_batch_header": map[string]string{
			"sender_batch_id": req.Reference,
			"email_subject":   "You have a payout",
		},
		"items": []map[string]interface{}{{
			"recipient_type": "EMAIL",
			"receiver":       req.RecipientCode,
			"note":           req.Reason,
			"sender_item_id": req.Reference,
			"amount":         paypalAmount{CurrencyCode: strings.ToUpper(req.Currency), Value: req.Amount.StringFixed(2)},
		}},
	}
	body, status, err := p.call(ctx, http.MethodPost, "/v1/payments/payouts", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, classifyStatus(p.Name(), status, body)
	}
	var batch paypalPayoutBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("%w: paypal: parse payout: %v", ErrUnavailable, err)
	}
	res := &PayoutResult{Reference: req.Reference, ProviderRef: batch.BatchHeader.PayoutBatchID, Raw: body}
	switch batch.BatchHeader.BatchStatus {
	case "SUCCESS":
		res.Status = PayoutSettled
	case "DENIED", "CANCELED":
		res.Status = PayoutFailed
	default:
		res.Status = PayoutSubmitted
	}
	return res, nil
}

// VerifyWebhook delegates to the provider's verify-webhook-signature API;
// PayPal webhooks are signed with its certificate rather than a shared
// secret, so local verification is not an option.
func (p *PayPal) VerifyWebhook(ctx context.Context, payload []byte, signature string) error {
	headers := map[string]string{}
	if err := json.Unmarshal([]byte(signature), &headers); err != nil {
		return fmt.Errorf("%w: paypal: malformed signature envelope", ErrSignatureInvalid)
	}
	body := map[string]interface{}{
		"transmission_id":   headers["Paypal-Transmission-Id"],
		"transmission_time": headers["Paypal-Transmission-Time"],
		"cert_url":          headers["Paypal-Cert-Url"],
		"auth_algo":         headers["Paypal-Auth-Algo"],
		"transmission_sig":  headers["Paypal-Transmission-Sig"],
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(payload),
	}
	respBody, status, err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return classifyStatus(p.Name(), status, respBody)
	}
	var out struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("%w: paypal: parse verification: %v", ErrUnavailable, err)
	}
	if out.VerificationStatus != "SUCCESS" {
		return fmt.Errorf("%w: paypal: verification_status=%s", ErrSignatureInvalid, out.VerificationStatus)
	}
	return nil
}

type paypalEvent struct {
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string       `json:"id"`
		CustomID          string       `json:"custom_id"`
		Amount            paypalAmount `json:"amount"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
		PayoutItem struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
		PayoutItemID string `json:"payout_item_id"`
	} `json:"resource"`
}

func (p *PayPal) ParseEvent(payload []byte) (*Event, error) {
	var evt paypalEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, fmt.Errorf("paypal: decode event: %w", err)
	}
	e := &Event{
		Kind:      EventUnknown,
		Reference: evt.Resource.ID,
		UserID:    evt.Resource.CustomID,
		Currency:  strings.ToUpper(evt.Resource.Amount.CurrencyCode),
		Raw:       payload,
	}
	if v := evt.Resource.Amount.Value; v != "" {
		if amt, err := decimal.NewFromString(v); err == nil {
			e.Amount = amt
		}
	}
	switch evt.EventType {
	case "CHECKOUT.ORDER.COMPLETED":
		e.Kind = EventPaymentSucceeded
	case "PAYMENT.CAPTURE.COMPLETED":
		// capture resources carry the capture id; the ledger keys the payment
		// by order id, so a capture that cannot name its order is only
		// acknowledged and the credit comes from verify or ORDER.COMPLETED
		if oid := evt.Resource.SupplementaryData.RelatedIDs.OrderID; oid != "" {
			e.Kind = EventPaymentSucceeded
			e.Reference = oid
		}
	case "PAYMENT.CAPTURE.DENIED":
		e.Kind = EventPaymentFailed
		if oid := evt.Resource.SupplementaryData.RelatedIDs.OrderID; oid != "" {
			e.Reference = oid
		}
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		e.Kind = EventPayoutSettled
		e.Reference = evt.Resource.PayoutItem.SenderItemID
	case "PAYMENT.PAYOUTS-ITEM.FAILED", "PAYMENT.PAYOUTS-ITEM.DENIED", "PAYMENT.PAYOUTS-ITEM.RETURNED":
		e.Kind = EventPayoutFailed
		e.Reference = evt.Resource.PayoutItem.SenderItemID
	}
	return e, nil
}

func (p *PayPal) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", transportErr(p.Name(), err)
	}
	defer resp.Body.Close()
	body := readBody(resp)
	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(p.Name(), resp.StatusCode, body)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("%w: paypal: parse token: %v", ErrUnavailable, err)
	}
	p.accessToken = tok.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn-60) * time.Second)
	return p.accessToken, nil
}

func (p *PayPal) call(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	tok, err := p.token(ctx)
	if err != nil {
		return nil, 0, err
	}
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("paypal: marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, transportErr(p.Name(), err)
	}
	defer resp.Body.Close()
	return readBody(resp), resp.StatusCode, nil
}
