package services

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
	"github.com/zagdebate/backend/internal/store/memory"
)

// MockStore is a memory store whose InTx can be made to fail.
type MockStore struct {
	*memory.Store
	mock.Mock
}

func (m *MockStore) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	args := m.Called(ctx)
	if err := args.Error(0); err != nil {
		return err
	}
	return m.Store.InTx(ctx, fn)
}

var testPayments = config.PaymentsConfig{
	WebhookSecret: "whsec_test",
	Plans: []config.PlanConfig{
		{ID: "monthly", Name: "Basic Monthly", PlanType: "M", Price: 9.99, DurationDays: 30},
	},
	Packages: []config.PackageConfig{
		{ID: "small", Name: "Small Pack", Credits: 50, Price: 4.99},
	},
}

type fixture struct {
	store    *memory.Store
	rooms    *RoomService
	joins    *JoinService
	withdraw *WithdrawalService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New(2 * time.Second)
	a := audit.NewLogger(io.Discard)
	return &fixture{
		store:    s,
		rooms:    NewRoomService(s),
		joins:    NewJoinService(s, decimal.RequireFromString("0.75"), a),
		withdraw: NewWithdrawalService(s, decimal.RequireFromString("0.01"), a),
		payments: NewPaymentService(s, testPayments, a),
	}
}

func user(id string) models.Identity {
	return models.Identity{UserID: id, Username: "user" + id, Authenticated: true}
}

func admin(id string) models.Identity {
	return models.Identity{UserID: id, Username: "admin" + id, IsAdmin: true, Authenticated: true}
}

func (f *fixture) room(t *testing.T, creator string, fee int64, capacity int) *models.Room {
	t.Helper()
	room, err := f.rooms.Create(context.Background(), user(creator), CreateRoomInput{
		Title: "Pineapple on pizza", Fee: fee, Capacity: capacity,
	})
	require.NoError(t, err)
	return room
}

func entriesOf(s *memory.Store, kind models.EntryKind) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range s.Entries() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
