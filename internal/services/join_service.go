package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

type JoinResult struct {
	ParticipantCount int   `json:"participant_count"`
	Charged          int64 `json:"charged"`
	ViaSubscription  bool  `json:"via_subscription"`
}

// JoinService admits users to rooms. Membership and the fee split are
// committed together or not at all.
type JoinService struct {
	store       store.Store
	creatorRate decimal.Decimal
	audit       *audit.Logger
}

func NewJoinService(s store.Store, creatorRate decimal.Decimal, a *audit.Logger) *JoinService {
	return &JoinService{store: s, creatorRate: creatorRate, audit: a}
}

// CreatorShare is the creator's accrual for one paid join, rounded to cents.
func (s *JoinService) CreatorShare(fee int64) decimal.Decimal {
	return decimal.NewFromInt(fee).Mul(s.creatorRate).Round(2)
}

func (s *JoinService) Join(ctx context.Context, who models.Identity, roomID int64) (*JoinResult, error) {
	if !who.Authenticated {
		return nil, apperr.ErrUnauthenticated
	}

	res, err := s.join(ctx, who.UserID, roomID)
	if err != nil {
		metrics.JoinsTotal.WithLabelValues(apperr.From(err).Code).Inc()
		if apperr.KindOf(err) == apperr.KindInvariant || apperr.KindOf(err) == apperr.KindRetryable {
			s.audit.LogError("ROOM_JOIN", who.UserID, roomID, err)
		}
		return nil, err
	}

	outcome := "free"
	switch {
	case res.Charged > 0:
		outcome = "paid"
	case res.ViaSubscription:
		outcome = "subscription"
	}
	metrics.JoinsTotal.WithLabelValues(outcome).Inc()
	s.audit.LogJoin(who.UserID, roomID, decimal.NewFromInt(res.Charged).String(), res.Charged > 0)
	log.Info().Str("module", "ledger").Str("user", who.UserID).Int64("room_id", roomID).
		Str("outcome", outcome).Int("participants", res.ParticipantCount).Msg("room joined")
	return res, nil
}

func (s *JoinService) join(ctx context.Context, userID string, roomID int64) (*JoinResult, error) {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, classify(err, apperr.ErrRoomNotFound)
	}
	if err := admissible(ctx, s.store, room, userID); err != nil {
		return nil, err
	}

	// Decide how the fee is settled before taking any lock. The decision is
	// re-checked once the rows are held.
	charge := int64(0)
	viaSub := false
	if room.Fee > 0 && room.CreatorID != userID {
		sub, err := s.store.GetSubscription(ctx, userID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, classify(err, nil)
		}
		if sub.ActiveAt(time.Now().UTC()) {
			viaSub = true
		} else {
			bal, err := s.store.SpendableBalance(ctx, userID)
			if err != nil {
				return nil, classify(err, nil)
			}
			if bal < room.Fee {
				return nil, apperr.ErrPaymentRequired
			}
			charge = room.Fee
		}
	}

	result := &JoinResult{ViaSubscription: viaSub}
	err = s.store.InTx(ctx, func(tx store.Tx) error {
		locked, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return classify(err, apperr.ErrRoomNotFound)
		}
		if err := admissible(ctx, tx, locked, userID); err != nil {
			return err
		}
		if locked.Fee != room.Fee {
			// fee changed while we were deciding; settle against the new one
			charge = 0
			if locked.Fee > 0 && !viaSub && locked.CreatorID != userID {
				charge = locked.Fee
			}
		}

		if charge > 0 {
			if err := s.settle(ctx, tx, locked, userID, charge); err != nil {
				return err
			}
		}

		if err := tx.AddParticipant(ctx, roomID, userID); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.ErrAlreadyJoined
			}
			return err
		}
		result.ParticipantCount = locked.ParticipantCount + 1
		result.Charged = charge
		return nil
	})
	if err != nil {
		return nil, classify(err, apperr.ErrRoomNotFound)
	}
	return result, nil
}

// settle debits the joiner and accrues the creator's share. Both accounts are
// locked in LockOrder.
func (s *JoinService) settle(ctx context.Context, tx store.Tx, room *models.Room, userID string, fee int64) error {
	accounts := make(map[string]*models.Account, 2)
	for _, id := range store.LockOrder(userID, room.CreatorID) {
		acct, err := tx.GetOrCreateAccount(ctx, id)
		if err != nil {
			return err
		}
		accounts[id] = acct
	}
	joiner, creator := accounts[userID], accounts[room.CreatorID]

	if joiner.Balance < fee {
		return apperr.ErrPaymentRequired
	}
	joiner.Balance -= fee
	if joiner.Balance < 0 {
		return apperr.Invariant("balance of %s would become %d", userID, joiner.Balance)
	}

	roomID := room.ID
	debit := &models.LedgerEntry{
		UserID: userID,
		Kind:   models.EntryDebit,
		Amount: decimal.NewFromInt(-fee),
		RoomID: &roomID,
	}
	if err := tx.AppendEntry(ctx, debit); err != nil {
		return err
	}

	share := s.CreatorShare(fee)
	accrual := &models.LedgerEntry{
		UserID: room.CreatorID,
		Kind:   models.EntryEarningAccrual,
		Amount: share,
		RoomID: &roomID,
	}
	if err := tx.AppendEntry(ctx, accrual); err != nil {
		return err
	}
	creator.AccruedEarnings = creator.AccruedEarnings.Add(share)

	if err := tx.UpdateAccount(ctx, joiner); err != nil {
		return err
	}
	if err := tx.UpdateAccount(ctx, creator); err != nil {
		return err
	}

	metrics.LedgerEntriesTotal.WithLabelValues(string(models.EntryDebit)).Inc()
	metrics.LedgerEntriesTotal.WithLabelValues(string(models.EntryEarningAccrual)).Inc()
	return nil
}

// admissible runs the join preconditions in order. It is evaluated once
// optimistically and again under the room lock.
func admissible(ctx context.Context, r store.Reader, room *models.Room, userID string) error {
	if !room.Status.Joinable() {
		return apperr.ErrRoomClosed
	}
	joined, err := r.IsParticipant(ctx, room.ID, userID)
	if err != nil {
		return err
	}
	if joined {
		return apperr.ErrAlreadyJoined
	}
	if room.ParticipantCount >= room.Capacity {
		return apperr.ErrRoomFull
	}
	return nil
}

// Leave removes a participant. Ledger history is left untouched.
func (s *JoinService) Leave(ctx context.Context, who models.Identity, roomID int64) error {
	if !who.Authenticated {
		return apperr.ErrUnauthenticated
	}
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		room, err := tx.LockRoom(ctx, roomID)
		if err != nil {
			return err
		}
		if room.CreatorID == who.UserID {
			return apperr.ErrCreatorCannotLeave
		}
		if err := tx.RemoveParticipant(ctx, roomID, who.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return apperr.ErrNotParticipant
			}
			return err
		}
		return nil
	})
	if err != nil {
		return classify(err, apperr.ErrRoomNotFound)
	}
	s.audit.LogLeave(who.UserID, roomID)
	return nil
}
