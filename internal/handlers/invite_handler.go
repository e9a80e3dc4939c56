package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/zagdebate/backend/internal/middleware"
	"github.com/zagdebate/backend/internal/services"
)

type InviteHandler struct {
	service *services.InviteService
}

func NewInviteHandler(service *services.InviteService) *InviteHandler {
	return &InviteHandler{service: service}
}

// Generate issues a shareable invite link with its QR code
// @Summary Create invite
// @Tags invites
// @Produce json
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 200 {object} services.Invite
// @Failure 403 {object} services.ErrorResponse
// @Router /debates/{id}/invite [get]
func (h *InviteHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	inv, err := h.service.Generate(r.Context(), id, middleware.IdentityFromContext(r.Context()))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// QRCode renders the invite link as a PNG
// @Summary Invite QR code
// @Tags invites
// @Produce png
// @Security BearerAuth
// @Param id path int true "Debate ID"
// @Success 200 {file} binary
// @Router /debates/{id}/invite.png [get]
func (h *InviteHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	inv, err := h.service.Generate(r.Context(), id, middleware.IdentityFromContext(r.Context()))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	size := queryInt(r, "size", 256)
	if size < 64 || size > 1024 {
		size = 256
	}
	img, err := services.RenderQR(inv.Link, size)
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img)
}

// Resolve maps an invite code to its debate
// @Summary Resolve invite
// @Tags invites
// @Produce json
// @Param code path string true "Invite code"
// @Success 200 {object} object{room_id=int}
// @Failure 404 {object} services.ErrorResponse
// @Router /invites/{code} [get]
func (h *InviteHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	roomID, err := h.service.Resolve(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"room_id": roomID})
}
