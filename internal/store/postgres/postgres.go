package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

// Postgres error codes that matter to the ledger.
const (
	codeUniqueViolation      = "23505"
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store on database/sql with lib/pq.
type Store struct {
	reader
	db          *sql.DB
	lockTimeout time.Duration
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, lockTimeout time.Duration) *Store {
	return &Store{reader: reader{q: db}, db: db, lockTimeout: lockTimeout}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn in a transaction with a bounded lock wait. Any error from fn
// rolls back every statement it issued.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapErr(fmt.Errorf("set lock timeout: %w", err))
	}

	if err := fn(&pgTx{reader: reader{q: tx}, tx: tx}); err != nil {
		return mapErr(err)
	}

	if err := tx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (room_id, user_id, username, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		m.RoomID, m.UserID, m.Username, m.Content, m.CreatedAt).Scan(&m.ID)
	return mapErr(err)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrLockTimeout) || errors.Is(err, store.ErrDuplicate) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %w", store.ErrLockTimeout, err)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
		}
	}
	return err
}

type reader struct {
	q querier
}

const roomColumns = `r.id, r.title, r.description, r.creator_id, r.fee, r.capacity, r.status, r.created_at,
	(SELECT COUNT(*) FROM room_participants p WHERE p.room_id = r.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*models.Room, error) {
	var r models.Room
	if err := row.Scan(&r.ID, &r.Title, &r.Description, &r.CreatorID, &r.Fee, &r.Capacity,
		&r.Status, &r.CreatedAt, &r.ParticipantCount); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r reader) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	room, err := scanRoom(r.q.QueryRowContext(ctx,
		`SELECT `+roomColumns+` FROM rooms r WHERE r.id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return room, nil
}

func (r reader) ListRooms(ctx context.Context, f store.RoomFilter) ([]models.Room, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}
	if f.CreatorID != "" {
		args = append(args, f.CreatorID)
		where = append(where, fmt.Sprintf("r.creator_id = $%d", len(args)))
	}

	query := `SELECT ` + roomColumns + ` FROM rooms r`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	rooms := []models.Room{}
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func (r reader) ParticipantCount(ctx context.Context, roomID int64) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_participants WHERE room_id = $1`, roomID).Scan(&n)
	return n, mapErr(err)
}

func (r reader) IsParticipant(ctx context.Context, roomID int64, userID string) (bool, error) {
	var ok bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_participants WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID).Scan(&ok)
	return ok, mapErr(err)
}

func (r reader) Participants(ctx context.Context, roomID int64) ([]string, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT user_id FROM room_participants WHERE room_id = $1 ORDER BY joined_at, user_id`, roomID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListMessages returns the latest limit messages, oldest first.
func (r reader) ListMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, room_id, user_id, username, content, created_at FROM (
			SELECT id, room_id, user_id, username, content, created_at
			FROM messages WHERE room_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) m ORDER BY created_at ASC, id ASC`, roomID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r reader) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := r.q.QueryRowContext(ctx,
		`SELECT id, username, is_admin FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username, &u.IsAdmin)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r reader) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var (
		s   models.Subscription
		end sql.NullTime
	)
	err := r.q.QueryRowContext(ctx,
		`SELECT user_id, plan_id, is_active, end_date FROM subscriptions WHERE user_id = $1`,
		userID).Scan(&s.UserID, &s.PlanID, &s.IsActive, &end)
	if err != nil {
		return nil, mapErr(err)
	}
	if end.Valid {
		s.EndDate = &end.Time
	}
	return &s, nil
}

func (r reader) SpendableBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := r.q.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, mapErr(err)
}

func (r reader) WithdrawableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
		WHERE user_id = $1 AND kind IN ('earning_accrual', 'withdrawal')`, userID).Scan(&sum)
	return sum, mapErr(err)
}

func (r reader) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, room_id, reference, created_at
		FROM ledger_entries WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var (
			e      models.LedgerEntry
			roomID sql.NullInt64
			ref    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &roomID, &ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		if roomID.Valid {
			e.RoomID = &roomID.Int64
		}
		if ref.Valid {
			e.Reference = &ref.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r reader) RoomRevenue(ctx context.Context, roomID int64) (*models.RoomRevenue, error) {
	rev := models.RoomRevenue{RoomID: roomID}
	err := r.q.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'debit'),
			COALESCE(-SUM(amount) FILTER (WHERE kind = 'debit'), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'earning_accrual'), 0)
		FROM ledger_entries WHERE room_id = $1`, roomID).
		Scan(&rev.PaidParticipants, &rev.Gross, &rev.CreatorShare)
	if err != nil {
		return nil, mapErr(err)
	}
	rev.PlatformShare = rev.Gross.Sub(rev.CreatorShare)
	return &rev, nil
}

type pgTx struct {
	reader
	tx *sql.Tx
}

func (t *pgTx) LockRoom(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, title, description, creator_id, fee, capacity, status, created_at
		FROM rooms WHERE id = $1
		FOR UPDATE`, id).Scan(&r.ID, &r.Title, &r.Description, &r.CreatorID, &r.Fee, &r.Capacity, &r.Status, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}

	// A statement started after the lock sees joins committed while we waited.
	n, err := t.ParticipantCount(ctx, id)
	if err != nil {
		return nil, err
	}
	r.ParticipantCount = n
	return &r, nil
}

func (t *pgTx) LockAccount(ctx context.Context, userID string) (*models.Account, error) {
	var a models.Account
	err := t.tx.QueryRowContext(ctx, `
		SELECT user_id, balance, accrued_earnings, updated_at
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&a.UserID, &a.Balance, &a.AccruedEarnings, &a.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func (t *pgTx) GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error) {
	if _, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, accrued_earnings, updated_at)
		VALUES ($1, 0, 0, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, time.Now().UTC()); err != nil {
		return nil, mapErr(err)
	}
	return t.LockAccount(ctx, userID)
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	a.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, accrued_earnings = $2, updated_at = $3
		WHERE user_id = $4`,
		a.Balance, a.AccruedEarnings, a.UpdatedAt, a.UserID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(result, "account "+a.UserID)
}

func (t *pgTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (user_id, kind, amount, room_id, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		e.UserID, e.Kind, e.Amount, e.RoomID, e.Reference, e.CreatedAt).Scan(&e.ID)
	return mapErr(err)
}

func (t *pgTx) CreateRoom(ctx context.Context, r *models.Room) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO rooms (title, description, creator_id, fee, capacity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		r.Title, r.Description, r.CreatorID, r.Fee, r.Capacity, r.Status, r.CreatedAt).Scan(&r.ID)
	return mapErr(err)
}

func (t *pgTx) UpdateRoom(ctx context.Context, r *models.Room) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE rooms
		SET title = $1, description = $2, fee = $3, capacity = $4, status = $5
		WHERE id = $6`,
		r.Title, r.Description, r.Fee, r.Capacity, r.Status, r.ID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(result, fmt.Sprintf("room %d", r.ID))
}

// DeleteRoom relies on ON DELETE CASCADE for participants and messages.
func (t *pgTx) DeleteRoom(ctx context.Context, id int64) error {
	result, err := t.tx.ExecContext(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(result, fmt.Sprintf("room %d", id))
}

func (t *pgTx) AddParticipant(ctx context.Context, roomID int64, userID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO room_participants (room_id, user_id, joined_at)
		VALUES ($1, $2, $3)`, roomID, userID, time.Now().UTC())
	return mapErr(err)
}

func (t *pgTx) RemoveParticipant(ctx context.Context, roomID int64, userID string) error {
	result, err := t.tx.ExecContext(ctx,
		`DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`, roomID, userID)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(result, "participant "+userID)
}

func (t *pgTx) UpsertSubscription(ctx context.Context, s *models.Subscription) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan_id, is_active, end_date)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET plan_id = EXCLUDED.plan_id, is_active = EXCLUDED.is_active, end_date = EXCLUDED.end_date`,
		s.UserID, s.PlanID, s.IsActive, s.EndDate)
	return mapErr(err)
}

func requireRow(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, what)
	}
	return nil
}
