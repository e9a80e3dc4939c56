package handlers

import (
	"net/http"

	"github.com/zagdebate/backend/internal/middleware"
	"github.com/zagdebate/backend/internal/services"
)

type PaymentHandler struct {
	payments  *services.PaymentService
	validator *services.ValidationHelper
}

func NewPaymentHandler(payments *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments, validator: services.NewValidationHelper()}
}

// Balance returns the caller's credits and subscription
// @Summary Credit balance
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Success 200 {object} services.BalanceResponse
// @Router /payments/balance [get]
func (h *PaymentHandler) Balance(w http.ResponseWriter, r *http.Request) {
	who := middleware.IdentityFromContext(r.Context())
	resp, err := h.payments.Balance(r.Context(), who.UserID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Transactions lists the caller's ledger entries, newest first
// @Summary Ledger history
// @Tags payments
// @Produce json
// @Security BearerAuth
// @Param limit query int false "page size (default 50)"
// @Success 200 {array} models.LedgerEntry
// @Router /payments/transactions [get]
func (h *PaymentHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	who := middleware.IdentityFromContext(r.Context())
	entries, err := h.payments.Transactions(r.Context(), who.UserID, queryInt(r, "limit", 50))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// Plans lists subscription plans
// @Summary Subscription plans
// @Tags payments
// @Produce json
// @Success 200 {array} config.PlanConfig
// @Router /payments/plans [get]
func (h *PaymentHandler) Plans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.payments.Plans())
}

// Packages lists credit packages
// @Summary Credit packages
// @Tags payments
// @Produce json
// @Success 200 {array} config.PackageConfig
// @Router /payments/packages [get]
func (h *PaymentHandler) Packages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.payments.Packages())
}

// BuyCredits records an offline credit purchase; admin only
// @Summary Record credit purchase
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.PurchaseRequest true "Purchase"
// @Success 200 {object} models.Account
// @Failure 400 {object} services.ErrorResponse "unknown package or duplicate reference"
// @Failure 403 {object} services.ErrorResponse
// @Router /payments/buy-credits [post]
func (h *PaymentHandler) BuyCredits(w http.ResponseWriter, r *http.Request) {
	var req services.PurchaseRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	acct, err := h.payments.PurchaseCredits(r.Context(), req.UserID, req.PackageID, req.Reference)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Subscribe records an offline subscription payment; admin only
// @Summary Record subscription
// @Tags payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.SubscribeRequest true "Subscription"
// @Success 200 {object} models.Subscription
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /payments/subscribe [post]
func (h *PaymentHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req services.SubscribeRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	sub, err := h.payments.ActivateSubscription(r.Context(), req.UserID, req.PlanID, req.Reference)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
