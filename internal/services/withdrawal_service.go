package services

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

type WithdrawResult struct {
	NewBalance int64           `json:"new_balance"`
	Credited   int64           `json:"credited"`
	Withdrawn  decimal.Decimal `json:"withdrawn"`
}

// WithdrawalService converts accrued creator earnings into spendable credits.
type WithdrawalService struct {
	store     store.Store
	threshold decimal.Decimal
	audit     *audit.Logger
}

func NewWithdrawalService(s store.Store, threshold decimal.Decimal, a *audit.Logger) *WithdrawalService {
	return &WithdrawalService{store: s, threshold: threshold, audit: a}
}

// Earnings returns the withdrawable balance. It has no side effects.
func (s *WithdrawalService) Earnings(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, err := s.store.WithdrawableBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, classify(err, nil)
	}
	return w, nil
}

// Withdraw credits floor(withdrawable) and records a withdrawal of the full
// withdrawable amount, so the fractional remainder is forfeited. A user with
// nothing above the threshold gets ErrNothingToWithdraw whether or not an
// account row exists.
func (s *WithdrawalService) Withdraw(ctx context.Context, userID string) (*WithdrawResult, error) {
	var res *WithdrawResult
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		withdrawable, err := s.withdrawable(ctx, tx, userID)
		if err != nil {
			return err
		}

		acct, err := tx.LockAccount(ctx, userID)
		if err != nil {
			return classify(err, apperr.ErrAccountNotFound)
		}

		// Read again under the lock; a concurrent withdrawal may have drained it.
		if withdrawable, err = s.withdrawable(ctx, tx, userID); err != nil {
			return err
		}

		credit := withdrawable.Floor().IntPart()
		acct.Balance += credit
		acct.AccruedEarnings = decimal.Zero

		entry := &models.LedgerEntry{
			UserID: userID,
			Kind:   models.EntryWithdrawal,
			Amount: withdrawable.Neg(),
		}
		if err := tx.AppendEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, acct); err != nil {
			return err
		}

		res = &WithdrawResult{NewBalance: acct.Balance, Credited: credit, Withdrawn: withdrawable}
		return nil
	})
	if err != nil {
		err = classify(err, apperr.ErrAccountNotFound)
		metrics.WithdrawalsTotal.WithLabelValues(apperr.From(err).Code).Inc()
		if apperr.KindOf(err) == apperr.KindInvariant {
			s.audit.LogError("WITHDRAWAL", userID, 0, err)
		}
		return nil, err
	}

	metrics.WithdrawalsTotal.WithLabelValues("success").Inc()
	metrics.LedgerEntriesTotal.WithLabelValues(string(models.EntryWithdrawal)).Inc()
	s.audit.LogWithdrawal(userID, res.Withdrawn.StringFixed(2), res.Credited, res.NewBalance)
	log.Info().Str("module", "ledger").Str("user", userID).Str("withdrawn", res.Withdrawn.StringFixed(2)).
		Int64("credited", res.Credited).Msg("earnings withdrawn")
	return res, nil
}

func (s *WithdrawalService) withdrawable(ctx context.Context, r store.Reader, userID string) (decimal.Decimal, error) {
	w, err := r.WithdrawableBalance(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	if w.LessThanOrEqual(s.threshold) {
		return decimal.Zero, apperr.ErrNothingToWithdraw
	}
	return w, nil
}
