package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zagdebate/backend/internal/audit"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/services"
	"github.com/zagdebate/backend/internal/store/memory"
)

type tokens map[string]models.Identity

func (t tokens) Resolve(_ context.Context, token string) models.Identity {
	if id, ok := t[token]; ok {
		return id
	}
	return models.Anonymous()
}

type recordingDisconnecter struct {
	calls []string
}

func (d *recordingDisconnecter) Disconnect(roomID int64, userID string) int {
	d.calls = append(d.calls, userID)
	return 0
}

type testServer struct {
	store   *memory.Store
	router  http.Handler
	webhook *services.WebhookService
	live    *recordingDisconnecter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := memory.New(time.Second)
	a := audit.NewLogger(io.Discard)
	payCfg := config.PaymentsConfig{
		WebhookSecret: "whsec",
		Plans:         []config.PlanConfig{{ID: "monthly", Name: "Monthly", Price: 9.99, DurationDays: 30}},
		Packages:      []config.PackageConfig{{ID: "small", Name: "Small", Credits: 50, Price: 4.99}},
	}

	rooms := services.NewRoomService(s)
	joins := services.NewJoinService(s, decimal.RequireFromString("0.75"), a)
	withdraw := services.NewWithdrawalService(s, decimal.RequireFromString("0.01"), a)
	payments := services.NewPaymentService(s, payCfg, a)
	webhook := services.NewWebhookService(payCfg.WebhookSecret, payments)
	live := &recordingDisconnecter{}

	api := &API{
		Auth: tokens{
			"creator": {UserID: "c1", Username: "carol", Authenticated: true},
			"joiner":  {UserID: "u1", Username: "ulric", Authenticated: true},
			"admin":   {UserID: "a1", Username: "root", IsAdmin: true, Authenticated: true},
		},
		Account:  NewAuthHandler(nil),
		Debates:  NewDebateHandler(rooms, joins, withdraw, live),
		Invites:  NewInviteHandler(services.NewInviteService(rooms, nil, "http://localhost", time.Hour)),
		Payments: NewPaymentHandler(payments),
	}

	r := chi.NewRouter()
	r.Route("/api/v1", api.Routes)
	r.Post("/webhooks/payments", NewWebhookHandler(webhook).Payments)
	return &testServer{store: s, router: r, webhook: webhook, live: live}
}

func (ts *testServer) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	r := httptest.NewRequest(method, path, rd)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestDebateFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.store.SetBalance("u1", 10)

	w := ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"Remote work","fee":10,"capacity":5}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := decode[models.Room](t, w)
	assert.Equal(t, "c1", room.CreatorID)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/1/join", "joiner", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 2, decode[JoinResponse](t, w).ParticipantCount)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/1/join", "joiner", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "already_joined", decode[services.ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodGet, "/api/v1/debates/earnings", "creator", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7.50", decode[EarningsResponse](t, w).WithdrawableBalance)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/withdraw", "creator", "")
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[WithdrawResponse](t, w)
	assert.Equal(t, int64(7), out.Credited)
	assert.Equal(t, int64(7), out.NewBalance)
	assert.Equal(t, "7.50", out.Withdrawn)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/withdraw", "creator", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "nothing_to_withdraw", decode[services.ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodGet, "/api/v1/debates/1/revenue", "creator", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[models.RoomRevenue](t, w).PaidParticipants)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/1/leave", "joiner", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"u1"}, ts.live.calls)
}

func TestJoinErrors(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"Paid","fee":10}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/1/join", "joiner", "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/99/join", "joiner", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/abc/join", "joiner", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/debates/1/join", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"fee":-1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decode[services.ErrorResponse](t, w)
	assert.Contains(t, resp.Details, "Title")

	w = ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"x","surprise":true}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"x"}{"title":"y"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateAndDelete(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"Original"}`)

	w := ts.do(t, http.MethodPatch, "/api/v1/debates/1", "joiner", `{"title":"Hijacked"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPatch, "/api/v1/debates/1", "creator", `{"status":"closed"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RoomClosed, decode[models.Room](t, w).Status)
	assert.Equal(t, []string{""}, ts.live.calls)

	w = ts.do(t, http.MethodGet, "/api/v1/debates?status=closed", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Room](t, w), 1)

	w = ts.do(t, http.MethodDelete, "/api/v1/debates/1", "admin", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/debates/1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPaymentsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/v1/payments/packages", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"credit_amount":50`)

	body := `{"user_id":"u1","package_id":"small","payment_reference":"cash-001"}`
	w = ts.do(t, http.MethodPost, "/api/v1/payments/buy-credits", "joiner", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodPost, "/api/v1/payments/buy-credits", "admin", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, http.MethodPost, "/api/v1/payments/buy-credits", "admin", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "duplicate_payment", decode[services.ErrorResponse](t, w).Code)

	w = ts.do(t, http.MethodGet, "/api/v1/payments/balance", "joiner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(50), decode[services.BalanceResponse](t, w).Balance)

	w = ts.do(t, http.MethodGet, "/api/v1/payments/transactions", "joiner", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.LedgerEntry](t, w), 1)
}

func TestWebhookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	body := `{"id":"evt_9","type":"payment.completed","data":{"user_id":"u1","kind":"credits","package_id":"small"}}`

	post := func(sig string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
		r.Header.Set("X-Signature", sig)
		w := httptest.NewRecorder()
		ts.router.ServeHTTP(w, r)
		return w
	}

	w := post("sha256=0000")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, ts.store.Entries())

	sig := ts.webhook.Sign([]byte(body))
	w = post(sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", decode[map[string]string](t, w)["result"])

	w = post(sig)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate", decode[map[string]string](t, w)["result"])

	bal, _ := ts.store.SpendableBalance(context.Background(), "u1")
	assert.Equal(t, int64(50), bal)
}

func TestInviteEndpoints(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/debates", "creator", `{"title":"Invite me"}`)

	w := ts.do(t, http.MethodGet, "/api/v1/debates/1/invite.png", "creator", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"))

	w = ts.do(t, http.MethodGet, "/api/v1/debates/1/invite", "joiner", "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, http.MethodGet, "/api/v1/invites/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
