package services

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/store/postgres"
)

var (
	pgRoomCols    = []string{"id", "title", "description", "creator_id", "fee", "capacity", "status", "created_at", "count"}
	pgAccountCols = []string{"user_id", "balance", "accrued_earnings", "updated_at"}
)

func newPostgresJoins(t *testing.T) (*JoinService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := postgres.New(db, 2*time.Second)
	return NewJoinService(s, decimal.RequireFromString("0.75"), audit.NewLogger(io.Discard)), mock
}

// expectPaidPrecheck scripts the reads made before the transaction opens:
// the room as listed, membership, subscription and balance.
func expectPaidPrecheck(mock sqlmock.Sqlmock, capacity, listed int, balance int64) {
	mock.ExpectQuery("FROM rooms r WHERE r.id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(pgRoomCols).
			AddRow(5, "t", "", "creator", 10, capacity, "open", time.Now(), listed))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5), "joiner").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("FROM subscriptions WHERE user_id = \\$1").
		WithArgs("joiner").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT balance FROM accounts WHERE user_id = \\$1").
		WithArgs("joiner").
		WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(balance))
}

func expectLockedRoom(mock sqlmock.Sqlmock, capacity, counted int) {
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL lock_timeout").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM rooms WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(pgRoomCols[:8]).
			AddRow(5, "t", "", "creator", 10, capacity, "open", time.Now()))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM room_participants WHERE room_id = \\$1").
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(counted))
}

func expectAccount(mock sqlmock.Sqlmock, userID string, balance int64) {
	mock.ExpectExec("INSERT INTO accounts").
		WithArgs(userID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM accounts WHERE user_id = \\$1 FOR UPDATE").
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows(pgAccountCols).AddRow(userID, balance, "0.00", time.Now()))
}

func TestJoinService_PostgresPaidJoin(t *testing.T) {
	joins, mock := newPostgresJoins(t)

	expectPaidPrecheck(mock, 3, 1, 10)
	expectLockedRoom(mock, 3, 1)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5), "joiner").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	expectAccount(mock, "creator", 0)
	expectAccount(mock, "joiner", 10)
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WithArgs("joiner", "debit", "-10", int64(5), nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery("INSERT INTO ledger_entries").
		WithArgs("creator", "earning_accrual", "7.5", int64(5), nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), "joiner").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE accounts").
		WithArgs(int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), "creator").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO room_participants").
		WithArgs(int64(5), "joiner", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := joins.Join(context.Background(), user("joiner"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Charged)
	assert.Equal(t, 2, res.ParticipantCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJoinService_PostgresRoomFilledWhileWaitingForLock(t *testing.T) {
	joins, mock := newPostgresJoins(t)

	// One seat looked free before the lock; another join took it meanwhile.
	expectPaidPrecheck(mock, 2, 1, 10)
	expectLockedRoom(mock, 2, 2)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5), "joiner").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, err := joins.Join(context.Background(), user("joiner"), 5)
	assert.ErrorIs(t, err, apperr.ErrRoomFull)
	assert.NoError(t, mock.ExpectationsWereMet())
}
