package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
)

const maxMessageLen = 4000

// Client-visible routing failures. Their text is sent back in an error frame.
var (
	ErrBadFrame       = errors.New("frame must be a chat message or a signal")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrSignalTooLarge = errors.New("signal payload is too large")
	ErrInvalidSignal  = errors.New("invalid signal payload")
	ErrNotSaved       = errors.New("message could not be saved")
	ErrNotDelivered   = errors.New("message could not be delivered")
)

type MessageStore interface {
	CreateMessage(ctx context.Context, m *models.Message) error
}

// inbound is the union of the two client frames. A frame with a signal is a
// signal; one with a message is chat.
type inbound struct {
	Type    string          `json:"type"`
	Message *string         `json:"message"`
	Signal  json.RawMessage `json:"signal"`
}

// Router turns inbound frames of a joined connection into persisted messages
// and group events.
type Router struct {
	messages  MessageStore
	bc        Broadcaster
	maxSignal int
}

func NewRouter(messages MessageStore, bc Broadcaster, maxSignal int) *Router {
	return &Router{messages: messages, bc: bc, maxSignal: maxSignal}
}

func (r *Router) Route(ctx context.Context, c *Conn, data []byte) error {
	var in inbound
	if err := json.Unmarshal(data, &in); err != nil {
		metrics.HubFramesTotal.WithLabelValues("malformed").Inc()
		return ErrBadFrame
	}

	switch {
	case len(in.Signal) > 0 && !isNull(in.Signal):
		metrics.HubFramesTotal.WithLabelValues(TypeSignal).Inc()
		return r.signal(ctx, c, in.Type, in.Signal)
	case in.Message != nil:
		metrics.HubFramesTotal.WithLabelValues(TypeChat).Inc()
		return r.chat(ctx, c, *in.Message)
	default:
		metrics.HubFramesTotal.WithLabelValues("unknown").Inc()
		return ErrBadFrame
	}
}

func (r *Router) chat(ctx context.Context, c *Conn, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > maxMessageLen {
		return ErrMessageTooLong
	}

	who := c.Identity()
	msg := &models.Message{
		RoomID:    c.RoomID(),
		UserID:    who.UserID,
		Username:  who.Username,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.messages.CreateMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("module", "hub").Int64("room_id", c.RoomID()).Msg("persist chat message")
		return ErrNotSaved
	}

	ev := &Event{
		Type:      TypeChat,
		Message:   msg.Content,
		Sender:    who.Username,
		SenderID:  who.UserID,
		Timestamp: msg.CreatedAt,
	}
	if err := r.bc.Publish(ctx, GroupName(c.RoomID()), ev); err != nil {
		log.Error().Err(err).Str("module", "hub").Int64("room_id", c.RoomID()).Msg("publish chat")
		return ErrNotDelivered
	}
	return nil
}

func (r *Router) signal(ctx context.Context, c *Conn, kind string, payload json.RawMessage) error {
	if r.maxSignal > 0 && len(payload) > r.maxSignal {
		return ErrSignalTooLarge
	}
	if err := ValidateSignal(kind, payload); err != nil {
		log.Debug().Err(err).Str("module", "hub").Str("conn", c.ID()).Str("signal_type", kind).Msg("rejected signal")
		return ErrInvalidSignal
	}

	who := c.Identity()
	ev := &Event{
		Type:       TypeSignal,
		SignalType: kind,
		Signal:     payload,
		Sender:     who.Username,
		SenderID:   who.UserID,
		Timestamp:  time.Now().UTC(),
		Origin:     c.ID(),
	}
	if err := r.bc.Publish(ctx, GroupName(c.RoomID()), ev); err != nil {
		log.Error().Err(err).Str("module", "hub").Int64("room_id", c.RoomID()).Msg("publish signal")
		return ErrNotDelivered
	}
	return nil
}

// ValidateSignal checks the payloads it understands. Session descriptions
// must parse as one and agree with the declared type; ICE candidates must
// parse as a candidate init. Any other non-empty type is relayed as is.
func ValidateSignal(kind string, payload json.RawMessage) error {
	switch kind {
	case "":
		return errors.New("signal type is required")
	case "offer", "answer", "pranswer", "rollback":
		var sd webrtc.SessionDescription
		if err := json.Unmarshal(payload, &sd); err != nil {
			return err
		}
		want := webrtc.NewSDPType(kind)
		if sd.Type != webrtc.SDPTypeUnknown && sd.Type != want {
			return errors.New("signal type does not match session description")
		}
		if want != webrtc.SDPTypeRollback && strings.TrimSpace(sd.SDP) == "" {
			return errors.New("session description has no sdp")
		}
	case "candidate", "ice":
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(payload, &cand); err != nil {
			return err
		}
	default:
		if !json.Valid(payload) {
			return errors.New("signal payload is not json")
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
