package models

import "time"

type RoomStatus string

const (
	RoomOpen   RoomStatus = "open"
	RoomActive RoomStatus = "active"
	RoomClosed RoomStatus = "closed"
)

const DefaultCapacity = 100

func (s RoomStatus) Valid() bool {
	return s == RoomOpen || s == RoomActive || s == RoomClosed
}

// Joinable reports whether new participants may enter.
func (s RoomStatus) Joinable() bool {
	return s == RoomOpen || s == RoomActive
}

// Room is a debate. Fee is in whole credits.
type Room struct {
	ID               int64      `json:"id" db:"id"`
	Title            string     `json:"title" db:"title"`
	Description      string     `json:"description" db:"description"`
	CreatorID        string     `json:"creator_id" db:"creator_id"`
	Fee              int64      `json:"fee" db:"fee"`
	Capacity         int        `json:"capacity" db:"capacity"`
	Status           RoomStatus `json:"status" db:"status"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ParticipantCount int        `json:"participant_count" db:"-"`
}

// CanManage is the creator-or-admin capability check.
func (r *Room) CanManage(id Identity) bool {
	return id.Authenticated && (id.UserID == r.CreatorID || id.IsAdmin)
}

type Message struct {
	ID        int64     `json:"id" db:"id"`
	RoomID    int64     `json:"room_id" db:"room_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Username  string    `json:"username" db:"username"`
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
