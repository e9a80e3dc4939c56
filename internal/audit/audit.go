package audit

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Event is one ledger-affecting action. Zero RoomID, Amount and Details are
// left out of the record.
type Event struct {
	Timestamp time.Time
	EventType string
	UserID    string
	RoomID    int64
	Amount    string
	Status    string
	Details   map[string]string
}

func (e Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("event_type", e.EventType).Str("user_id", e.UserID)
	if e.RoomID != 0 {
		ev.Int64("room_id", e.RoomID)
	}
	if e.Amount != "" {
		ev.Str("amount", e.Amount)
	}
	ev.Str("status", e.Status)
	if len(e.Details) > 0 {
		ev.Interface("details", e.Details)
	}
	ev.Time("at", e.Timestamp)
}

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

type Logger struct {
	log zerolog.Logger
}

func NewLogger(w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	return &Logger{log: zerolog.New(w).With().Timestamp().Str("stream", "audit").Logger()}
}

func (a *Logger) LogJoin(userID string, roomID int64, fee string, paid bool) {
	a.write(Event{
		EventType: "ROOM_JOIN",
		UserID:    userID,
		RoomID:    roomID,
		Amount:    fee,
		Status:    StatusSuccess,
		Details:   map[string]string{"paid": strconv.FormatBool(paid)},
	})
}

func (a *Logger) LogLeave(userID string, roomID int64) {
	a.write(Event{EventType: "ROOM_LEAVE", UserID: userID, RoomID: roomID, Status: StatusSuccess})
}

func (a *Logger) LogWithdrawal(userID, withdrawn string, credited, newBalance int64) {
	a.write(Event{
		EventType: "WITHDRAWAL",
		UserID:    userID,
		Amount:    withdrawn,
		Status:    StatusSuccess,
		Details: map[string]string{
			"credited":    strconv.FormatInt(credited, 10),
			"new_balance": strconv.FormatInt(newBalance, 10),
		},
	})
}

func (a *Logger) LogPurchase(userID, kind, reference, amount string) {
	a.write(Event{
		EventType: kind,
		UserID:    userID,
		Amount:    amount,
		Status:    StatusSuccess,
		Details:   map[string]string{"reference": reference},
	})
}

func (a *Logger) LogError(eventType, userID string, roomID int64, err error) {
	a.write(Event{
		EventType: eventType,
		UserID:    userID,
		RoomID:    roomID,
		Status:    StatusFailed,
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) write(e Event) {
	if a == nil {
		return
	}
	e.Timestamp = time.Now().UTC()
	a.log.Info().EmbedObject(e).Msg("AUDIT")
}
