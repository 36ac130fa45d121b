package http

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/freelancehub/payments-service/internal/model"
	"github.com/freelancehub/payments-service/internal/service"
)

// Handler bundles the services behind the HTTP surface.
type Handler struct {
	wallet      *service.WalletService
	payments    *service.PaymentService
	withdrawals *service.WithdrawalService
	webhooks    *service.WebhookService
	accounts    *service.BankAccountService
}

func NewHandler(w *service.WalletService, p *service.PaymentService, wd *service.WithdrawalService, wh *service.WebhookService, ba *service.BankAccountService) *Handler {
	return &Handler{wallet: w, payments: p, withdrawals: wd, webhooks: wh, accounts: ba}
}

// ---- payments ----

// Webhook ingests a provider-signed event. No user auth; authenticity comes
// from the signature, which is checked against the raw body.
func (h *Handler) Webhook(c *gin.Context) {
	gw := c.Param("gateway")
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		ParamError(c, "unreadable body")
		return
	}
	if err := h.webhooks.Ingest(c.Request.Context(), gw, payload, webhookSignature(c, gw)); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"received": true})
}

func webhookSignature(c *gin.Context, gw string) string {
	switch gw {
	case "stripe":
		return c.GetHeader("Stripe-Signature")
	case "paystack":
		return c.GetHeader("X-Paystack-Signature")
	case "paypal":
		// paypal verification needs the full transmission header set
		headers := map[string]string{}
		for _, k := range []string{
			"Paypal-Transmission-Id", "Paypal-Transmission-Time",
			"Paypal-Cert-Url", "Paypal-Auth-Algo", "Paypal-Transmission-Sig",
		} {
			headers[k] = c.GetHeader(k)
		}
		b, _ := json.Marshal(headers)
		return string(b)
	}
	return ""
}

type chargeReq struct {
	UserID   string `json:"user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency"`
}

// CreateCharge opens a provider-side charge for the client to confirm.
func (h *Handler) CreateCharge(c *gin.Context) {
	var req chargeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ParamError(c, err.Error())
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		ParamError(c, "invalid amount")
		return
	}
	intent, err := h.payments.CreateCharge(c.Request.Context(), c.Param("gateway"), req.UserID, amt, req.Currency)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, intent)
}

type verifyReq struct {
	Reference string `json:"reference" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
}

// Verify confirms a charge with the provider and credits the wallet.
func (h *Handler) Verify(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ParamError(c, err.Error())
		return
	}
	res, _, err := h.payments.VerifyAndCredit(c.Request.Context(), c.Param("gateway"), req.Reference, req.UserID)
	if err != nil {
		Fail(c, err)
		return
	}
	status := "pending"
	if res.Succeeded {
		status = "completed"
	}
	Success(c, gin.H{
		"status":   status,
		"amount":   res.Amount,
		"currency": res.Currency,
	})
}

type withdrawReq struct {
	UserID        string `json:"user_id" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	BankAccountID string `json:"bank_account_id"`
	Reason        string `json:"reason"`
}

// Withdraw moves wallet funds out through the gateway's payout API.
func (h *Handler) Withdraw(c *gin.Context) {
	var req withdrawReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ParamError(c, err.Error())
		return
	}
	amt, err := decimal.NewFromString(req.Amount)
	if err != nil {
		ParamError(c, "invalid amount")
		return
	}
	result, err := h.withdrawals.Withdraw(c.Request.Context(), service.WithdrawalRequest{
		UserID:        req.UserID,
		Amount:        amt,
		Gateway:       c.Param("gateway"),
		BankAccountID: req.BankAccountID,
		Reason:        req.Reason,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, result)
}

// ---- wallet ----

func (h *Handler) Balance(c *gin.Context) {
	w, err := h.wallet.GetWallet(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{
		"balance":         w.Balance,
		"pending_balance": w.PendingBalance,
		"total_earned":    w.TotalEarned,
		"total_withdrawn": w.TotalWithdrawn,
	})
}

func (h *Handler) History(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
	since, err := time.Parse(time.RFC3339, sinceStr)
	if err != nil {
		ParamError(c, "invalid since")
		return
	}
	txs, err := h.wallet.GetHistory(c.Request.Context(), c.Param("user_id"), limit, since)
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, txs)
}

// ---- bank accounts ----

type bankAccountReq struct {
	AccountHolderName string `json:"account_holder_name" binding:"required"`
	AccountNumber     string `json:"account_number" binding:"required"`
	RoutingNumber     string `json:"routing_number"`
	BankName          string `json:"bank_name"`
	BankCode          string `json:"bank_code"`
	AccountType       string `json:"account_type"`
	Gateway           string `json:"gateway"`
	RecipientCode     string `json:"recipient_code"`
	IsDefault         bool   `json:"is_default"`
}

func (h *Handler) CreateBankAccount(c *gin.Context) {
	var req bankAccountReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ParamError(c, err.Error())
		return
	}
	acct, err := h.accounts.Create(c.Request.Context(), c.Param("user_id"), service.BankAccountInput{
		AccountHolderName: req.AccountHolderName,
		AccountNumber:     req.AccountNumber,
		RoutingNumber:     req.RoutingNumber,
		BankName:          req.BankName,
		BankCode:          req.BankCode,
		AccountType:       req.AccountType,
		Gateway:           req.Gateway,
		RecipientCode:     req.RecipientCode,
		IsDefault:         req.IsDefault,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, bankAccountView(acct))
}

func (h *Handler) ListBankAccounts(c *gin.Context) {
	accts, err := h.accounts.List(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		Fail(c, err)
		return
	}
	views := make([]gin.H, 0, len(accts))
	for i := range accts {
		views = append(views, bankAccountView(&accts[i]))
	}
	Success(c, views)
}

func (h *Handler) GetBankAccount(c *gin.Context) {
	acct, err := h.accounts.Get(c.Request.Context(), c.Param("user_id"), c.Param("id"))
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, bankAccountView(acct))
}

type bankAccountUpdateReq struct {
	AccountHolderName *string `json:"account_holder_name"`
	BankName          *string `json:"bank_name"`
	AccountType       *string `json:"account_type"`
	IsDefault         *bool   `json:"is_default"`
	IsVerified        *bool   `json:"is_verified"`
}

func (h *Handler) UpdateBankAccount(c *gin.Context) {
	var req bankAccountUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		ParamError(c, err.Error())
		return
	}
	acct, err := h.accounts.Update(c.Request.Context(), c.Param("user_id"), c.Param("id"), service.BankAccountUpdate{
		AccountHolderName: req.AccountHolderName,
		BankName:          req.BankName,
		AccountType:       req.AccountType,
		IsDefault:         req.IsDefault,
		IsVerified:        req.IsVerified,
	})
	if err != nil {
		Fail(c, err)
		return
	}
	Success(c, bankAccountView(acct))
}

func (h *Handler) DeleteBankAccount(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), c.Param("user_id"), c.Param("id")); err != nil {
		Fail(c, err)
		return
	}
	Success(c, gin.H{"deleted": true})
}

// bankAccountView exposes the masked form only; the full number is never in
// the store to begin with.
func bankAccountView(a *model.BankAccount) gin.H {
	return gin.H{
		"id":                  a.ID,
		"account_holder_name": a.AccountHolderName,
		"account_number":      "****" + a.AccountNumberLast4,
		"routing_number":      a.RoutingNumber,
		"bank_name":           a.BankName,
		"account_type":        a.AccountType,
		"is_default":          a.IsDefault,
		"is_verified":         a.IsVerified,
	}
}
