// Package store defines the persistence contract for rooms, messages and the
// credits ledger. Mutations happen only inside InTx; account and room rows
// are locked pessimistically for the life of the transaction.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/models"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned for unique violations (participants, entry references).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrLockTimeout means a row lock could not be acquired in time, or the
	// transaction lost a deadlock/serialization race. Safe to retry.
	ErrLockTimeout = errors.New("store: lock timeout")
)

type RoomFilter struct {
	Status    models.RoomStatus
	CreatorID string
	Limit     int
	Offset    int
}

// Reader is the read side, usable both outside and inside a transaction.
type Reader interface {
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	ListRooms(ctx context.Context, f RoomFilter) ([]models.Room, error)
	ParticipantCount(ctx context.Context, roomID int64) (int, error)
	IsParticipant(ctx context.Context, roomID int64, userID string) (bool, error)
	Participants(ctx context.Context, roomID int64) ([]string, error)
	ListMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error)

	GetUser(ctx context.Context, id string) (*models.User, error)
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)

	// SpendableBalance is 0 for users without an account.
	SpendableBalance(ctx context.Context, userID string) (int64, error)
	// WithdrawableBalance is the raw sum of earning_accrual and withdrawal
	// entries; callers apply their own threshold.
	WithdrawableBalance(ctx context.Context, userID string) (decimal.Decimal, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	RoomRevenue(ctx context.Context, roomID int64) (*models.RoomRevenue, error)
}

// Tx is a unit of work. Locks taken through it are released on commit or
// rollback.
type Tx interface {
	Reader

	// LockRoom serialises membership changes for one room. The returned
	// ParticipantCount is read after the lock is held.
	LockRoom(ctx context.Context, id int64) (*models.Room, error)
	// LockAccount returns ErrNotFound when the user has no account.
	LockAccount(ctx context.Context, userID string) (*models.Account, error)
	// GetOrCreateAccount creates the row on first use and locks it.
	GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error)
	UpdateAccount(ctx context.Context, a *models.Account) error
	// AppendEntry fills ID and CreatedAt. A reused Reference yields ErrDuplicate.
	AppendEntry(ctx context.Context, e *models.LedgerEntry) error

	CreateRoom(ctx context.Context, r *models.Room) error
	UpdateRoom(ctx context.Context, r *models.Room) error
	DeleteRoom(ctx context.Context, id int64) error
	AddParticipant(ctx context.Context, roomID int64, userID string) error
	RemoveParticipant(ctx context.Context, roomID int64, userID string) error

	UpsertSubscription(ctx context.Context, s *models.Subscription) error
}

type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// CreateMessage is a single-row write and needs no transaction.
	CreateMessage(ctx context.Context, m *models.Message) error
	Close() error
}

// LockOrder returns user ids sorted ascending with duplicates removed.
// Accounts touched by one transaction are always locked in this order.
func LockOrder(ids ...string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
