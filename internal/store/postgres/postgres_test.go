package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

var (
	roomCols       = []string{"id", "title", "description", "creator_id", "fee", "capacity", "status", "created_at", "count"}
	lockedRoomCols = roomCols[:8]
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, 2*time.Second), mock
}

func TestStore_InTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and locks the account", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout = '2000ms'").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("INSERT INTO accounts \\(user_id, balance, accrued_earnings, updated_at\\) VALUES \\(\\$1, 0, 0, \\$2\\) ON CONFLICT \\(user_id\\) DO NOTHING").
			WithArgs("u1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT user_id, balance, accrued_earnings, updated_at FROM accounts WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "accrued_earnings", "updated_at"}).
				AddRow("u1", 10, "0.00", time.Now()))
		mock.ExpectCommit()

		var got *models.Account
		err := s.InTx(ctx, func(tx store.Tx) error {
			var err error
			got, err = tx.GetOrCreateAccount(ctx, "u1")
			return err
		})
		assert.NoError(t, err)
		assert.Equal(t, int64(10), got.Balance)
		assert.True(t, got.AccruedEarnings.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock timeout is retryable", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("SELECT user_id, balance, accrued_earnings, updated_at FROM accounts").
			WithArgs("u1").
			WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.LockAccount(ctx, "u1")
			return err
		})
		assert.ErrorIs(t, err, store.ErrLockTimeout)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deadlock is retryable", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40P01"})

		err := s.InTx(ctx, func(tx store.Tx) error { return nil })
		assert.ErrorIs(t, err, store.ErrLockTimeout)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("callback error rolls back", func(t *testing.T) {
		s, mock := newMock(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM accounts WHERE user_id = \\$1 FOR UPDATE").
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.LockAccount(ctx, "ghost")
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_AppendEntry(t *testing.T) {
	ctx := context.Background()
	roomID := int64(3)

	t.Run("returns id", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("creator", "earning_accrual", "7.5", roomID, nil, sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(41))
		mock.ExpectCommit()

		entry := &models.LedgerEntry{
			UserID: "creator",
			Kind:   models.EntryEarningAccrual,
			Amount: decimal.RequireFromString("7.5"),
			RoomID: &roomID,
		}
		err := s.InTx(ctx, func(tx store.Tx) error { return tx.AppendEntry(ctx, entry) })
		assert.NoError(t, err)
		assert.Equal(t, int64(41), entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate reference", func(t *testing.T) {
		s, mock := newMock(t)
		ref := "webhook:evt_1"

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("u1", "credit_purchase", "50", nil, ref, sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "ledger_entries_reference_key"})
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error {
			return tx.AppendEntry(ctx, &models.LedgerEntry{
				UserID:    "u1",
				Kind:      models.EntryCreditPurchase,
				Amount:    decimal.NewFromInt(50),
				Reference: &ref,
			})
		})
		assert.ErrorIs(t, err, store.ErrDuplicate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Balances(t *testing.T) {
	ctx := context.Background()

	t.Run("withdrawable sums accruals and withdrawals", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM ledger_entries WHERE user_id = \\$1 AND kind IN \\('earning_accrual', 'withdrawal'\\)").
			WithArgs("creator").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow([]byte("7.50")))

		got, err := s.WithdrawableBalance(ctx, "creator")
		assert.NoError(t, err)
		assert.True(t, got.Equal(decimal.RequireFromString("7.5")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("spendable without account is zero", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery("SELECT balance FROM accounts WHERE user_id = \\$1").
			WithArgs("newbie").
			WillReturnError(sql.ErrNoRows)

		got, err := s.SpendableBalance(ctx, "newbie")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Rooms(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("get room with participant count", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery("FROM rooms r WHERE r.id = \\$1").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(roomCols).
				AddRow(5, "Tabs vs spaces", "", "creator", 10, 2, "open", now, 1))

		room, err := s.GetRoom(ctx, 5)
		assert.NoError(t, err)
		assert.Equal(t, models.RoomOpen, room.Status)
		assert.Equal(t, 1, room.ParticipantCount)
		assert.Equal(t, int64(10), room.Fee)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing room", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery("FROM rooms r WHERE r.id = \\$1").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := s.GetRoom(ctx, 404)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list applies filters in order", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectQuery("FROM rooms r WHERE r.status = \\$1 AND r.creator_id = \\$2 ORDER BY r.created_at DESC, r.id DESC LIMIT \\$3 OFFSET \\$4").
			WithArgs("open", "creator", 50, 0).
			WillReturnRows(sqlmock.NewRows(roomCols).
				AddRow(2, "b", "", "creator", 0, 100, "open", now, 1).
				AddRow(1, "a", "", "creator", 5, 100, "open", now, 3))

		rooms, err := s.ListRooms(ctx, store.RoomFilter{Status: models.RoomOpen, CreatorID: "creator"})
		assert.NoError(t, err)
		assert.Len(t, rooms, 2)
		assert.Equal(t, 3, rooms[1].ParticipantCount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock room and add participant", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM rooms WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(lockedRoomCols).
				AddRow(5, "t", "", "creator", 0, 2, "open", now))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM room_participants WHERE room_id = \\$1").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectExec("INSERT INTO room_participants").
			WithArgs(int64(5), "u2", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.InTx(ctx, func(tx store.Tx) error {
			room, err := tx.LockRoom(ctx, 5)
			if err != nil {
				return err
			}
			return tx.AddParticipant(ctx, room.ID, "u2")
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("participants are counted after the row lock", func(t *testing.T) {
		s, mock := newMock(t)

		// The count statement must follow the lock so joins committed
		// while this transaction waited are included.
		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM rooms WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows(lockedRoomCols).
				AddRow(5, "t", "", "creator", 3, 2, "open", now))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM room_participants WHERE room_id = \\$1").
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		var locked *models.Room
		err := s.InTx(ctx, func(tx store.Tx) error {
			var err error
			locked, err = tx.LockRoom(ctx, 5)
			if err != nil {
				return err
			}
			return errors.New("stop")
		})
		assert.EqualError(t, err, "stop")
		require.NotNil(t, locked)
		assert.Equal(t, 2, locked.ParticipantCount)
		assert.Equal(t, int64(3), locked.Fee)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("lock missing room", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery("FROM rooms WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.LockRoom(ctx, 7)
			return err
		})
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete missing room", func(t *testing.T) {
		s, mock := newMock(t)

		mock.ExpectBegin()
		mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM rooms WHERE id = \\$1").
			WithArgs(int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.InTx(ctx, func(tx store.Tx) error { return tx.DeleteRoom(ctx, 9) })
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_RoomRevenue(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("FROM ledger_entries WHERE room_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"paid", "gross", "creator"}).AddRow(2, "20.00", "15.00"))

	rev, err := s.RoomRevenue(context.Background(), 5)
	assert.NoError(t, err)
	assert.Equal(t, 2, rev.PaidParticipants)
	assert.Equal(t, "5", rev.PlatformShare.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_CreateMessage(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery("INSERT INTO messages \\(room_id, user_id, username, content, created_at\\)").
		WithArgs(int64(5), "u1", "alice", "hello", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))

	msg := &models.Message{RoomID: 5, UserID: "u1", Username: "alice", Content: "hello"}
	assert.NoError(t, s.CreateMessage(context.Background(), msg))
	assert.Equal(t, int64(77), msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
