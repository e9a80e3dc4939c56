package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/metrics"
)

const (
	EventPaymentCompleted = "payment.completed"

	WebhookProcessed = "processed"
	WebhookDuplicate = "duplicate"
	WebhookIgnored   = "ignored"
)

// WebhookEvent is what the payment processor posts once a payment settles.
type WebhookEvent struct {
	ID   string `json:"id" validate:"required,max=100"`
	Type string `json:"type" validate:"required"`
	Data struct {
		UserID    string `json:"user_id"`
		Kind      string `json:"kind"` // credits | subscription
		PackageID string `json:"package_id,omitempty"`
		PlanID    string `json:"plan_id,omitempty"`
	} `json:"data"`
}

// WebhookService authenticates processor callbacks and turns them into
// ledger entries through PaymentService.
type WebhookService struct {
	secret   []byte
	payments *PaymentService
}

func NewWebhookService(secret string, payments *PaymentService) *WebhookService {
	return &WebhookService{secret: []byte(secret), payments: payments}
}

// Verify checks an "sha256=<hex>" HMAC of the raw body. With no secret
// configured every delivery is rejected.
func (s *WebhookService) Verify(body []byte, header string) error {
	if len(s.secret) == 0 {
		return apperr.Wrap(apperr.ErrBadSignature, errors.New("webhook secret not configured"))
	}
	sig, ok := strings.CutPrefix(strings.TrimSpace(header), "sha256=")
	if !ok {
		return apperr.ErrBadSignature
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return apperr.ErrBadSignature
	}

	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	if !hmac.Equal(h.Sum(nil), got) {
		return apperr.ErrBadSignature
	}
	return nil
}

// Sign produces the header value Verify accepts for body.
func (s *WebhookService) Sign(body []byte) string {
	h := hmac.New(sha256.New, s.secret)
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// Handle verifies and applies one delivery. Replays of an already applied
// event return WebhookDuplicate with no error.
func (s *WebhookService) Handle(ctx context.Context, body []byte, signature string) (string, error) {
	if err := s.Verify(body, signature); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("rejected").Inc()
		return "", err
	}

	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return "", apperr.Wrap(apperr.New(apperr.KindInvalid, "malformed_event", "malformed webhook event"), err)
	}
	if ev.ID == "" {
		metrics.WebhookEventsTotal.WithLabelValues("malformed").Inc()
		return "", apperr.New(apperr.KindInvalid, "malformed_event", "webhook event has no id")
	}

	result, err := s.apply(ctx, &ev)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Str("module", "webhook").Str("event_id", ev.ID).Msg("webhook event failed")
		return "", err
	}
	metrics.WebhookEventsTotal.WithLabelValues(result).Inc()
	log.Info().Str("module", "webhook").Str("event_id", ev.ID).Str("type", ev.Type).
		Str("result", result).Msg("webhook event handled")
	return result, nil
}

func (s *WebhookService) apply(ctx context.Context, ev *WebhookEvent) (string, error) {
	if ev.Type != EventPaymentCompleted {
		return WebhookIgnored, nil
	}
	if ev.Data.UserID == "" {
		return "", apperr.New(apperr.KindInvalid, "malformed_event", "payment event has no user_id")
	}

	ref := "webhook:" + ev.ID
	var err error
	switch ev.Data.Kind {
	case "credits":
		_, err = s.payments.PurchaseCredits(ctx, ev.Data.UserID, ev.Data.PackageID, ref)
	case "subscription":
		_, err = s.payments.ActivateSubscription(ctx, ev.Data.UserID, ev.Data.PlanID, ref)
	default:
		return "", apperr.New(apperr.KindInvalid, "malformed_event", fmt.Sprintf("unknown payment kind %q", ev.Data.Kind))
	}
	if errors.Is(err, ErrDuplicatePurchase) {
		return WebhookDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	return WebhookProcessed, nil
}
