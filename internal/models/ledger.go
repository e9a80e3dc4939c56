package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryDebit               EntryKind = "debit"
	EntryEarningAccrual      EntryKind = "earning_accrual"
	EntryWithdrawal          EntryKind = "withdrawal"
	EntrySubscriptionPayment EntryKind = "subscription_payment"
	EntryCreditPurchase      EntryKind = "credit_purchase"
)

func (k EntryKind) Valid() bool {
	switch k {
	case EntryDebit, EntryEarningAccrual, EntryWithdrawal, EntrySubscriptionPayment, EntryCreditPurchase:
		return true
	}
	return false
}

// LedgerEntry is append-only. Reference is set for externally triggered
// entries and is unique across the ledger.
type LedgerEntry struct {
	ID        int64           `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // signed
	RoomID    *int64          `json:"room_id,omitempty" db:"room_id"`
	Reference *string         `json:"reference,omitempty" db:"reference"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Account holds spendable credits and a cache of accrued creator earnings.
// The cache is derivable from earning_accrual and withdrawal entries.
type Account struct {
	UserID          string          `json:"user_id" db:"user_id"`
	Balance         int64           `json:"balance" db:"balance"` // whole credits
	AccruedEarnings decimal.Decimal `json:"accrued_earnings" db:"accrued_earnings"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

type Subscription struct {
	UserID   string     `json:"user_id" db:"user_id"`
	PlanID   string     `json:"plan_id" db:"plan_id"`
	IsActive bool       `json:"is_active" db:"is_active"`
	EndDate  *time.Time `json:"end_date,omitempty" db:"end_date"`
}

// ActiveAt reports whether the subscription waives fees at t.
func (s *Subscription) ActiveAt(t time.Time) bool {
	if s == nil || !s.IsActive {
		return false
	}
	return s.EndDate == nil || s.EndDate.After(t)
}

// RoomRevenue summarises the fees a room has collected.
type RoomRevenue struct {
	RoomID           int64           `json:"room_id"`
	PaidParticipants int             `json:"paid_participants"`
	Gross            decimal.Decimal `json:"gross"`
	CreatorShare     decimal.Decimal `json:"creator_share"`
	PlatformShare    decimal.Decimal `json:"platform_share"`
}
