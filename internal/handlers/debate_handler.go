package handlers

import (
	"net/http"

	"github.com/zagdebate/backend/internal/middleware"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/services"
	"github.com/zagdebate/backend/internal/store"
)

// Disconnecter drops live connections after membership changes. An empty
// userID means every connection in the room.
type Disconnecter interface {
	Disconnect(roomID int64, userID string) int
}

type DebateHandler struct {
	rooms     *services.RoomService
	joins     *services.JoinService
	withdraw  *services.WithdrawalService
	live      Disconnecter
	validator *services.ValidationHelper
}

func NewDebateHandler(rooms *services.RoomService, joins *services.JoinService, withdraw *services.WithdrawalService, live Disconnecter) *DebateHandler {
	return &DebateHandler{
		rooms:     rooms,
		joins:     joins,
		withdraw:  withdraw,
		live:      live,
		validator: services.NewValidationHelper(),
	}
}

type JoinResponse struct {
	ParticipantCount int `json:"participant_count" example:"3"`
}

type EarningsResponse struct {
	WithdrawableBalance string `json:"withdrawable_balance" example:"7.50"`
}

type WithdrawResponse struct {
	NewBalance int64  `json:"new_balance" example:"7"`
	Credited   int64  `json:"credited" example:"7"`
	Withdrawn  string `json:"withdrawn" example:"7.50"`
}

// List returns debates, newest first
// @Summary List debates
// @Tags debates
// @Produce json
// @Param status query string false "open, active or closed"
// @Param creator query string false "creator user id"
// @Param limit query int false "page size (default 50)"
// @Param offset query int false "page offset"
// @Success 200 {array} models.Room
// @Router /debates [get]
func (h *DebateHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.RoomFilter{
		Status:    models.RoomStatus(q.Get("status")),
		CreatorID: q.Get("creator"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Status != "" && !f.Status.Valid() {
		services.SendErrorResponse(w, "Invalid status filter", http.StatusBadRequest, nil)
		return
	}

	rooms, err := h.rooms.List(r.Context(), f)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

// Create opens a new debate owned by the caller
// @Summary Create debate
// @Tags debates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.CreateRoomInput true "Debate"
// @Success 201 {object} models.Room
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /debates [post]
func (h *DebateHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateRoomInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	room, err := h.rooms.Create(r.Context(), middleware.IdentityFromContext(r.Context()), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

// Get returns one debate
// @Summary Get debate
// @Tags debates
// @Produce json
// @Param id path int true "Debate ID"
// @Success 200 {object} models.Room
// @Failure 404 {object} services.ErrorResponse
// @Router /debates/{id} [get]
func (h *DebateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	room, err := h.rooms.Get(r.Context(), id)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, room)
}

// Update patches a debate; creator or admin only
// @Summary Update debate
// @Tags debates
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Param request body services.UpdateRoomInput true "Fields to change"
// @Success 200 {object} models.Room
// @Failure 403 {object} services.ErrorResponse
// @Router /debates/{id} [patch]
func (h *DebateHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	var req services.UpdateRoomInput
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}
	room, err := h.rooms.Update(r.Context(), id, middleware.IdentityFromContext(r.Context()), req)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	if room.Status == models.RoomClosed && h.live != nil {
		h.live.Disconnect(room.ID, "")
	}
	writeJSON(w, http.StatusOK, room)
}

// Delete removes a debate and its messages; creator or admin only
// @Summary Delete debate
// @Tags debates
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 204
// @Failure 403 {object} services.ErrorResponse
// @Router /debates/{id} [delete]
func (h *DebateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	if err := h.rooms.Delete(r.Context(), id, middleware.IdentityFromContext(r.Context())); err != nil {
		services.SendAppError(w, err)
		return
	}
	if h.live != nil {
		h.live.Disconnect(id, "")
	}
	w.WriteHeader(http.StatusNoContent)
}

// Join admits the caller, charging the fee unless waived
// @Summary Join debate
// @Description Debits the fee and accrues the creator's share atomically with the membership change.
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 200 {object} JoinResponse
// @Failure 400 {object} services.ErrorResponse "already joined, full or closed"
// @Failure 402 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse "retryable"
// @Router /debates/{id}/join [post]
func (h *DebateHandler) Join(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	res, err := h.joins.Join(r.Context(), middleware.IdentityFromContext(r.Context()), id)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{ParticipantCount: res.ParticipantCount})
}

// Leave removes the caller from a debate
// @Summary Leave debate
// @Tags debates
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 204
// @Failure 400 {object} services.ErrorResponse
// @Router /debates/{id}/leave [post]
func (h *DebateHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	who := middleware.IdentityFromContext(r.Context())
	if err := h.joins.Leave(r.Context(), who, id); err != nil {
		services.SendAppError(w, err)
		return
	}
	if h.live != nil {
		h.live.Disconnect(id, who.UserID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Messages returns chat history, oldest first
// @Summary Debate messages
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Param limit query int false "most recent N (default 100)"
// @Success 200 {array} models.Message
// @Router /debates/{id}/messages [get]
func (h *DebateHandler) Messages(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	msgs, err := h.rooms.Messages(r.Context(), id, middleware.IdentityFromContext(r.Context()), queryInt(r, "limit", 100))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Participants lists member ids in join order
// @Summary Debate participants
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 200 {array} string
// @Router /debates/{id}/participants [get]
func (h *DebateHandler) Participants(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	ids, err := h.rooms.Participants(r.Context(), id)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// Revenue summarises fees collected by a debate
// @Summary Debate revenue
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 200 {object} models.RoomRevenue
// @Failure 403 {object} services.ErrorResponse
// @Router /debates/{id}/revenue [get]
func (h *DebateHandler) Revenue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	rev, err := h.rooms.Revenue(r.Context(), id, middleware.IdentityFromContext(r.Context()))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// Earnings reports the caller's withdrawable creator earnings
// @Summary Creator earnings
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Success 200 {object} EarningsResponse
// @Router /debates/earnings [get]
func (h *DebateHandler) Earnings(w http.ResponseWriter, r *http.Request) {
	who := middleware.IdentityFromContext(r.Context())
	amount, err := h.withdraw.Earnings(r.Context(), who.UserID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EarningsResponse{WithdrawableBalance: amount.StringFixed(2)})
}

// Withdraw converts earnings into spendable credits
// @Summary Withdraw earnings
// @Description Credits the whole-credit part of the withdrawable balance; the fractional remainder is forfeited.
// @Tags debates
// @Produce json
// @Security BearerAuth
// @Success 200 {object} WithdrawResponse
// @Failure 400 {object} services.ErrorResponse "nothing to withdraw"
// @Failure 404 {object} services.ErrorResponse
// @Failure 503 {object} services.ErrorResponse "retryable"
// @Router /debates/withdraw [post]
func (h *DebateHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	who := middleware.IdentityFromContext(r.Context())
	res, err := h.withdraw.Withdraw(r.Context(), who.UserID)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{
		NewBalance: res.NewBalance,
		Credited:   res.Credited,
		Withdrawn:  res.Withdrawn.StringFixed(2),
	})
}
