package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

var (
	ErrUnknownPackage    = apperr.New(apperr.KindInvalid, "unknown_package", "unknown credit package")
	ErrUnknownPlan       = apperr.New(apperr.KindInvalid, "unknown_plan", "unknown subscription plan")
	ErrMissingReference  = apperr.New(apperr.KindInvalid, "missing_reference", "a payment reference is required")
	ErrDuplicatePurchase = apperr.New(apperr.KindConflict, "duplicate_payment", "payment reference already recorded")
)

type BalanceResponse struct {
	UserID          string               `json:"user_id"`
	Balance         int64                `json:"balance"`
	AccruedEarnings decimal.Decimal      `json:"accrued_earnings"`
	Subscription    *models.Subscription `json:"subscription,omitempty"`
}

type PurchaseRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	PackageID string `json:"package_id" validate:"required"`
	Reference string `json:"payment_reference" validate:"required,max=128"`
}

type SubscribeRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	PlanID    string `json:"plan_id" validate:"required"`
	Reference string `json:"payment_reference" validate:"required,max=128"`
}

// PaymentService records settled payments. The processor itself is external;
// it reports through the webhook, and admins may record offline payments.
// Every recorded payment carries a unique reference so replays are rejected
// by the ledger.
type PaymentService struct {
	store store.Store
	cfg   config.PaymentsConfig
	audit *audit.Logger
}

func NewPaymentService(s store.Store, cfg config.PaymentsConfig, a *audit.Logger) *PaymentService {
	return &PaymentService{store: s, cfg: cfg, audit: a}
}

func (s *PaymentService) Plans() []config.PlanConfig {
	return s.cfg.Plans
}

func (s *PaymentService) Packages() []config.PackageConfig {
	return s.cfg.Packages
}

// Balance returns the caller's account, creating it on first use.
func (s *PaymentService) Balance(ctx context.Context, userID string) (*BalanceResponse, error) {
	var acct *models.Account
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		acct, err = tx.GetOrCreateAccount(ctx, userID)
		return err
	})
	if err != nil {
		return nil, classify(err, nil)
	}

	resp := &BalanceResponse{UserID: userID, Balance: acct.Balance, AccruedEarnings: acct.AccruedEarnings}
	sub, err := s.store.GetSubscription(ctx, userID)
	switch {
	case err == nil:
		resp.Subscription = sub
	case !errors.Is(err, store.ErrNotFound):
		return nil, classify(err, nil)
	}
	return resp, nil
}

func (s *PaymentService) Transactions(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	entries, err := s.store.ListEntries(ctx, userID, limit)
	return entries, classify(err, nil)
}

// PurchaseCredits adds a package's credits to the user's spendable balance.
// A reference already present in the ledger yields ErrDuplicatePurchase and
// changes nothing.
func (s *PaymentService) PurchaseCredits(ctx context.Context, userID, packageID, reference string) (*models.Account, error) {
	pkg, ok := s.cfg.Package(packageID)
	if !ok {
		return nil, ErrUnknownPackage
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}

	var acct *models.Account
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		ref := reference
		if err := tx.AppendEntry(ctx, &models.LedgerEntry{
			UserID:    userID,
			Kind:      models.EntryCreditPurchase,
			Amount:    decimal.NewFromInt(pkg.Credits),
			Reference: &ref,
		}); err != nil {
			return err
		}

		var err error
		acct, err = tx.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		acct.Balance += pkg.Credits
		return tx.UpdateAccount(ctx, acct)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Wrap(ErrDuplicatePurchase, err)
		}
		return nil, classify(err, nil)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(models.EntryCreditPurchase)).Inc()
	s.audit.LogPurchase(userID, "CREDIT_PURCHASE", reference, decimal.NewFromInt(pkg.Credits).String())
	log.Info().Str("module", "payments").Str("user", userID).Str("package", pkg.ID).
		Int64("credits", pkg.Credits).Str("reference", reference).Msg("credits purchased")
	return acct, nil
}

// ActivateSubscription records a plan payment and extends the subscription.
// An unexpired subscription is extended from its current end date.
func (s *PaymentService) ActivateSubscription(ctx context.Context, userID, planID, reference string) (*models.Subscription, error) {
	plan, ok := s.cfg.Plan(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}

	price := decimal.NewFromFloat(plan.Price).Round(2)
	var sub *models.Subscription
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		ref := reference
		if err := tx.AppendEntry(ctx, &models.LedgerEntry{
			UserID:    userID,
			Kind:      models.EntrySubscriptionPayment,
			Amount:    price,
			Reference: &ref,
		}); err != nil {
			return err
		}

		now := time.Now().UTC()
		start := now
		current, err := tx.GetSubscription(ctx, userID)
		switch {
		case err == nil:
			if current.ActiveAt(now) && current.EndDate != nil {
				start = *current.EndDate
			}
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		end := start.AddDate(0, 0, plan.DurationDays)
		sub = &models.Subscription{UserID: userID, PlanID: plan.ID, IsActive: true, EndDate: &end}
		return tx.UpsertSubscription(ctx, sub)
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Wrap(ErrDuplicatePurchase, err)
		}
		return nil, classify(err, nil)
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(models.EntrySubscriptionPayment)).Inc()
	s.audit.LogPurchase(userID, "SUBSCRIPTION", reference, price.StringFixed(2))
	log.Info().Str("module", "payments").Str("user", userID).Str("plan", plan.ID).
		Time("end_date", *sub.EndDate).Msg("subscription activated")
	return sub, nil
}
