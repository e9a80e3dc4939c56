package handlers

import (
	"io"
	"net/http"

	"github.com/zagdebate/backend/internal/services"
)

type WebhookHandler struct {
	service *services.WebhookService
}

func NewWebhookHandler(service *services.WebhookService) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Payments receives settled-payment notifications from the processor
// @Summary Payment webhook
// @Description The raw body must be signed with HMAC-SHA256 and sent as X-Signature: sha256=<hex>. Replayed events are acknowledged without effect.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string true "sha256=<hex>"
// @Success 200 {object} object{result=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/payments [post]
func (h *WebhookHandler) Payments(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	result, err := h.service.Handle(r.Context(), body, r.Header.Get("X-Signature"))
	if err != nil {
		services.SendAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": result})
}
