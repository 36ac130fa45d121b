package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPaystackCreateCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(500000), body["amount"])
		fmt.Fprint(w, `{"status":true,"message":"ok","data":{"reference":"ref_1","authorization_url":"https://checkout","access_code":"ac_1"}}`)
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test")
	intent, err := p.CreateCharge(context.Background(), "u1", decimal.NewFromInt(5000), "NGN")
	assert.NoError(t, err)
	assert.Equal(t, "ref_1", intent.Reference)
	assert.Equal(t, "https://checkout", intent.RedirectURL)
}

func TestPaystackVerifyCharge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/ref_1", r.URL.Path)
		fmt.Fprint(w, `{"status":true,"message":"ok","data":{"reference":"ref_1","amount":500000,"currency":"NGN","status":"success","metadata":{"userId":"u1"}}}`)
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test")
	res, err := p.VerifyCharge(context.Background(), "ref_1")
	assert.NoError(t, err)
	assert.True(t, res.Succeeded)
	assert.Equal(t, "5000", res.Amount.String())
	assert.Equal(t, "NGN", res.Currency)
}

func TestPaystackPayoutStatuses(t *testing.T) {
	cases := []struct {
		provider string
		want     string
	}{
		{"success", PayoutSettled},
		{"pending", PayoutSubmitted},
		{"otp", PayoutSubmitted},
		{"failed", PayoutFailed},
		{"reversed", PayoutFailed},
	}
	for _, tc := range cases {
		t.Run(tc.provider, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/transfer", r.URL.Path)
				fmt.Fprintf(w, `{"status":true,"message":"ok","data":{"reference":"wd_1","transfer_code":"TRF_1","status":%q,"amount":100000}}`, tc.provider)
			}))
			defer srv.Close()

			p := NewPaystack(srv.URL, "sk_test")
			res, err := p.Payout(context.Background(), PayoutRequest{
				Reference: "wd_1", Amount: decimal.NewFromInt(1000), Currency: "NGN", RecipientCode: "RCP_1",
			})
			assert.NoError(t, err)
			assert.Equal(t, tc.want, res.Status)
			assert.Equal(t, "TRF_1", res.ProviderRef)
		})
	}
}

func TestPaystackEnvelopeFalseIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":false,"message":"insufficient balance"}`)
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test")
	_, err := p.Payout(context.Background(), PayoutRequest{Reference: "wd_1", Amount: decimal.NewFromInt(1), Currency: "NGN"})
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestPaystackCreateRecipient(t *testing.T) {
	var gotNumber string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transferrecipient", r.URL.Path)
		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotNumber, _ = body["account_number"].(string)
		fmt.Fprint(w, `{"status":true,"message":"ok","data":{"recipient_code":"RCP_abc"}}`)
	}))
	defer srv.Close()

	p := NewPaystack(srv.URL, "sk_test")
	code, err := p.CreateRecipient(context.Background(), "Ada Lovelace", "0123456789", "058", "NGN")
	assert.NoError(t, err)
	assert.Equal(t, "RCP_abc", code)
	assert.Equal(t, "0123456789", gotNumber)
}

func TestPaystackVerifyWebhook(t *testing.T) {
	p := NewPaystack("http://unused", "sk_test")
	payload := []byte(`{"event":"charge.success"}`)

	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	ctx := context.Background()
	assert.NoError(t, p.VerifyWebhook(ctx, payload, sig))
	assert.ErrorIs(t, p.VerifyWebhook(ctx, payload, "bad"), ErrSignatureInvalid)
	assert.ErrorIs(t, p.VerifyWebhook(ctx, []byte(`tampered`), sig), ErrSignatureInvalid)
}

func TestPaystackParseEvent(t *testing.T) {
	p := NewPaystack("http://unused", "sk_test")

	evt, err := p.ParseEvent([]byte(`{
		"event": "charge.success",
		"data": {"reference":"ref_1","amount":250000,"currency":"NGN","metadata":{"userId":"u1"}}
	}`))
	assert.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, evt.Kind)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, "2500", evt.Amount.String())

	evt, err = p.ParseEvent([]byte(`{"event":"transfer.success","data":{"reference":"wd_1"}}`))
	assert.NoError(t, err)
	assert.Equal(t, EventPayoutSettled, evt.Kind)
	assert.Equal(t, "wd_1", evt.Reference)

	evt, err = p.ParseEvent([]byte(`{"event":"transfer.reversed","data":{"reference":"wd_2"}}`))
	assert.NoError(t, err)
	assert.Equal(t, EventPayoutFailed, evt.Kind)

	evt, err = p.ParseEvent([]byte(`{"event":"subscription.create","data":{}}`))
	assert.NoError(t, err)
	assert.Equal(t, EventUnknown, evt.Kind)
}
