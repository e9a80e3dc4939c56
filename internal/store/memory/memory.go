// Package memory is an in-process store.Store used for local development and
// for exercising the coordinators under real goroutine concurrency.
//
// Row locks are per-key weighted semaphores held until the transaction ends,
// so lock granularity matches the Postgres store: one account, one room.
// Writes apply immediately and are reverted from an undo log on rollback.
// Readers that do not take a row lock may observe uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
	"golang.org/x/sync/semaphore"
)

type Store struct {
	lockTimeout time.Duration

	locksMu sync.Mutex
	locks   map[string]*semaphore.Weighted

	// mu guards the maps below. It is never held while waiting on a row lock.
	mu           sync.RWMutex
	users        map[string]models.User
	accounts     map[string]models.Account
	rooms        map[int64]models.Room
	participants map[int64]map[string]time.Time
	messages     []models.Message
	entries      []models.LedgerEntry
	references   map[string]int64
	subs         map[string]models.Subscription
	nextRoomID   int64
	nextMsgID    int64
	nextEntryID  int64
}

var _ store.Store = (*Store)(nil)

func New(lockTimeout time.Duration) *Store {
	return &Store{
		lockTimeout:  lockTimeout,
		locks:        make(map[string]*semaphore.Weighted),
		users:        make(map[string]models.User),
		accounts:     make(map[string]models.Account),
		rooms:        make(map[int64]models.Room),
		participants: make(map[int64]map[string]time.Time),
		references:   make(map[string]int64),
		subs:         make(map[string]models.Subscription),
	}
}

func (s *Store) Close() error { return nil }

// PutUser registers a user in the directory.
func (s *Store) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// SetBalance seeds spendable credits for a user.
func (s *Store) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[userID]
	if !ok {
		a = models.Account{UserID: userID}
	}
	a.Balance = balance
	a.UpdatedAt = time.Now().UTC()
	s.accounts[userID] = a
}

// Entries returns a copy of the whole ledger in append order.
func (s *Store) Entries() []models.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.LedgerEntry(nil), s.entries...)
}

func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx := &memTx{Store: s, held: make(map[string]*semaphore.Weighted)}
	defer tx.release()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[m.RoomID]; !ok {
		return fmt.Errorf("%w: room %d", store.ErrNotFound, m.RoomID)
	}
	s.nextMsgID++
	m.ID = s.nextMsgID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, *m)
	return nil
}

func (s *Store) sem(key string) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.locks[key]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.locks[key] = sem
	}
	return sem
}

// Reader

func (s *Store) roomView(r models.Room) *models.Room {
	r.ParticipantCount = len(s.participants[r.ID])
	return &r
}

func (s *Store) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w: room %d", store.ErrNotFound, id)
	}
	return s.roomView(r), nil
}

func (s *Store) ListRooms(ctx context.Context, f store.RoomFilter) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := []models.Room{}
	for _, r := range s.rooms {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.CreatorID != "" && r.CreatorID != f.CreatorID {
			continue
		}
		rooms = append(rooms, *s.roomView(r))
	}
	sort.Slice(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].ID > rooms[j].ID
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if f.Offset >= len(rooms) {
		return []models.Room{}, nil
	}
	rooms = rooms[f.Offset:]
	if len(rooms) > limit {
		rooms = rooms[:limit]
	}
	return rooms, nil
}

func (s *Store) ParticipantCount(ctx context.Context, roomID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.participants[roomID]), nil
}

func (s *Store) IsParticipant(ctx context.Context, roomID int64, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participants[roomID][userID]
	return ok, nil
}

func (s *Store) Participants(ctx context.Context, roomID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.participants[roomID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := set[ids[i]], set[ids[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})
	return ids, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := []models.Message{}
	for _, m := range s.messages {
		if m.RoomID == roomID {
			msgs = append(msgs, m)
		}
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", store.ErrNotFound, id)
	}
	return &u, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[userID]
	if !ok {
		return nil, fmt.Errorf("%w: subscription %s", store.ErrNotFound, userID)
	}
	return &sub, nil
}

func (s *Store) SpendableBalance(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[userID].Balance, nil
}

func (s *Store) WithdrawableBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range s.entries {
		if e.UserID == userID && (e.Kind == models.EntryEarningAccrual || e.Kind == models.EntryWithdrawal) {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.LedgerEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].UserID != userID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) RoomRevenue(ctx context.Context, roomID int64) (*models.RoomRevenue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rev := models.RoomRevenue{RoomID: roomID, Gross: decimal.Zero, CreatorShare: decimal.Zero}
	for _, e := range s.entries {
		if e.RoomID == nil || *e.RoomID != roomID {
			continue
		}
		switch e.Kind {
		case models.EntryDebit:
			rev.PaidParticipants++
			rev.Gross = rev.Gross.Sub(e.Amount)
		case models.EntryEarningAccrual:
			rev.CreatorShare = rev.CreatorShare.Add(e.Amount)
		}
	}
	rev.PlatformShare = rev.Gross.Sub(rev.CreatorShare)
	return &rev, nil
}

// memTx holds row locks until release and reverts its writes on rollback.
type memTx struct {
	*Store
	held map[string]*semaphore.Weighted
	undo []func()
}

func (t *memTx) acquire(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	sem := t.sem(key)

	waitCtx, cancel := context.WithTimeout(ctx, t.lockTimeout)
	defer cancel()
	if err := sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", store.ErrLockTimeout, key)
	}
	t.held[key] = sem
	return nil
}

func (t *memTx) release() {
	for key, sem := range t.held {
		sem.Release(1)
		delete(t.held, key)
	}
}

func (t *memTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func accountKey(id string) string { return "account:" + id }
func roomKey(id int64) string     { return fmt.Sprintf("room:%d", id) }

func (t *memTx) LockRoom(ctx context.Context, id int64) (*models.Room, error) {
	if err := t.acquire(ctx, roomKey(id)); err != nil {
		return nil, err
	}
	return t.GetRoom(ctx, id)
}

func (t *memTx) LockAccount(ctx context.Context, userID string) (*models.Account, error) {
	if err := t.acquire(ctx, accountKey(userID)); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: account %s", store.ErrNotFound, userID)
	}
	return &a, nil
}

func (t *memTx) GetOrCreateAccount(ctx context.Context, userID string) (*models.Account, error) {
	if err := t.acquire(ctx, accountKey(userID)); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[userID]
	if !ok {
		a = models.Account{UserID: userID, AccruedEarnings: decimal.Zero, UpdatedAt: time.Now().UTC()}
		t.accounts[userID] = a
		t.undo = append(t.undo, func() { delete(t.accounts, userID) })
	}
	return &a, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, a *models.Account) error {
	if err := t.acquire(ctx, accountKey(a.UserID)); err != nil {
		return err
	}
	if a.Balance < 0 {
		return fmt.Errorf("account %s: balance would become %d", a.UserID, a.Balance)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.accounts[a.UserID]
	if !ok {
		return fmt.Errorf("%w: account %s", store.ErrNotFound, a.UserID)
	}
	a.UpdatedAt = time.Now().UTC()
	t.accounts[a.UserID] = *a
	t.undo = append(t.undo, func() { t.accounts[prev.UserID] = prev })
	return nil
}

func (t *memTx) AppendEntry(ctx context.Context, e *models.LedgerEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Reference != nil {
		if _, dup := t.references[*e.Reference]; dup {
			return fmt.Errorf("%w: reference %s", store.ErrDuplicate, *e.Reference)
		}
	}
	t.nextEntryID++
	e.ID = t.nextEntryID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	t.entries = append(t.entries, *e)
	if e.Reference != nil {
		t.references[*e.Reference] = e.ID
	}

	id, ref := e.ID, e.Reference
	t.undo = append(t.undo, func() {
		for i := range t.entries {
			if t.entries[i].ID == id {
				t.entries = append(t.entries[:i], t.entries[i+1:]...)
				break
			}
		}
		if ref != nil {
			delete(t.references, *ref)
		}
	})
	return nil
}

func (t *memTx) CreateRoom(ctx context.Context, r *models.Room) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextRoomID++
	r.ID = t.nextRoomID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	stored := *r
	stored.ParticipantCount = 0
	t.rooms[r.ID] = stored
	t.participants[r.ID] = make(map[string]time.Time)

	id := r.ID
	t.undo = append(t.undo, func() {
		delete(t.rooms, id)
		delete(t.participants, id)
	})
	return nil
}

func (t *memTx) UpdateRoom(ctx context.Context, r *models.Room) error {
	if err := t.acquire(ctx, roomKey(r.ID)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.rooms[r.ID]
	if !ok {
		return fmt.Errorf("%w: room %d", store.ErrNotFound, r.ID)
	}
	next := prev
	next.Title, next.Description = r.Title, r.Description
	next.Fee, next.Capacity, next.Status = r.Fee, r.Capacity, r.Status
	t.rooms[r.ID] = next
	t.undo = append(t.undo, func() { t.rooms[prev.ID] = prev })
	return nil
}

func (t *memTx) DeleteRoom(ctx context.Context, id int64) error {
	if err := t.acquire(ctx, roomKey(id)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	room, ok := t.rooms[id]
	if !ok {
		return fmt.Errorf("%w: room %d", store.ErrNotFound, id)
	}
	members := t.participants[id]
	prevMsgs := t.messages

	kept := make([]models.Message, 0, len(t.messages))
	for _, m := range t.messages {
		if m.RoomID != id {
			kept = append(kept, m)
		}
	}
	delete(t.rooms, id)
	delete(t.participants, id)
	t.messages = kept

	t.undo = append(t.undo, func() {
		t.rooms[id] = room
		t.participants[id] = members
		t.messages = prevMsgs
	})
	return nil
}

func (t *memTx) AddParticipant(ctx context.Context, roomID int64, userID string) error {
	if err := t.acquire(ctx, roomKey(roomID)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.participants[roomID]
	if !ok {
		return fmt.Errorf("%w: room %d", store.ErrNotFound, roomID)
	}
	if _, dup := set[userID]; dup {
		return fmt.Errorf("%w: participant %s", store.ErrDuplicate, userID)
	}
	set[userID] = time.Now().UTC()
	t.undo = append(t.undo, func() { delete(set, userID) })
	return nil
}

func (t *memTx) RemoveParticipant(ctx context.Context, roomID int64, userID string) error {
	if err := t.acquire(ctx, roomKey(roomID)); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.participants[roomID]
	joinedAt, ok := set[userID]
	if !ok {
		return fmt.Errorf("%w: participant %s", store.ErrNotFound, userID)
	}
	delete(set, userID)
	t.undo = append(t.undo, func() { set[userID] = joinedAt })
	return nil
}

func (t *memTx) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := t.acquire(ctx, "subscription:"+sub.UserID); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, existed := t.subs[sub.UserID]
	t.subs[sub.UserID] = *sub
	t.undo = append(t.undo, func() {
		if existed {
			t.subs[prev.UserID] = prev
		} else {
			delete(t.subs, sub.UserID)
		}
	})
	return nil
}
