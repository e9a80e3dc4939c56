package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

var ErrCapacityBelowParticipants = apperr.New(apperr.KindInvalid, "capacity_below_participants",
	"capacity cannot be lower than the current participant count")

type CreateRoomInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	Fee         int64  `json:"fee" validate:"gte=0"`
	Capacity    int    `json:"capacity" validate:"omitempty,gt=0,lte=100000"`
}

// UpdateRoomInput is a partial update; nil fields are left unchanged.
type UpdateRoomInput struct {
	Title       *string            `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string            `json:"description" validate:"omitempty,max=5000"`
	Fee         *int64             `json:"fee" validate:"omitempty,gte=0"`
	Capacity    *int               `json:"capacity" validate:"omitempty,gt=0,lte=100000"`
	Status      *models.RoomStatus `json:"status" validate:"omitempty,oneof=open active closed"`
}

// RoomService is the room registry: debate metadata plus membership.
type RoomService struct {
	store store.Store
}

func NewRoomService(s store.Store) *RoomService {
	return &RoomService{store: s}
}

// Create stores the room and seats its creator in one transaction.
func (s *RoomService) Create(ctx context.Context, by models.Identity, in CreateRoomInput) (*models.Room, error) {
	if !by.Authenticated {
		return nil, apperr.ErrUnauthenticated
	}
	room := &models.Room{
		Title:       in.Title,
		Description: in.Description,
		CreatorID:   by.UserID,
		Fee:         in.Fee,
		Capacity:    in.Capacity,
		Status:      models.RoomOpen,
	}
	if room.Capacity == 0 {
		room.Capacity = models.DefaultCapacity
	}

	err := s.store.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return err
		}
		return tx.AddParticipant(ctx, room.ID, room.CreatorID)
	})
	if err != nil {
		return nil, classify(err, nil)
	}
	room.ParticipantCount = 1

	log.Info().Str("module", "rooms").Int64("room_id", room.ID).Str("creator", room.CreatorID).
		Int64("fee", room.Fee).Msg("debate created")
	return room, nil
}

func (s *RoomService) Get(ctx context.Context, id int64) (*models.Room, error) {
	room, err := s.store.GetRoom(ctx, id)
	if err != nil {
		return nil, classify(err, apperr.ErrRoomNotFound)
	}
	return room, nil
}

func (s *RoomService) List(ctx context.Context, f store.RoomFilter) ([]models.Room, error) {
	rooms, err := s.store.ListRooms(ctx, f)
	return rooms, classify(err, nil)
}

func (s *RoomService) Update(ctx context.Context, id int64, by models.Identity, in UpdateRoomInput) (*models.Room, error) {
	var updated *models.Room
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		room, err := tx.LockRoom(ctx, id)
		if err != nil {
			return classify(err, apperr.ErrRoomNotFound)
		}
		if !room.CanManage(by) {
			return apperr.ErrForbidden
		}

		if in.Title != nil {
			room.Title = *in.Title
		}
		if in.Description != nil {
			room.Description = *in.Description
		}
		if in.Fee != nil {
			room.Fee = *in.Fee
		}
		if in.Capacity != nil {
			if *in.Capacity < room.ParticipantCount {
				return ErrCapacityBelowParticipants
			}
			room.Capacity = *in.Capacity
		}
		if in.Status != nil {
			if !in.Status.Valid() {
				return apperr.New(apperr.KindInvalid, "invalid_status", fmt.Sprintf("unknown status %q", *in.Status))
			}
			room.Status = *in.Status
		}

		if err := tx.UpdateRoom(ctx, room); err != nil {
			return err
		}
		updated = room
		return nil
	})
	if err != nil {
		return nil, classify(err, apperr.ErrRoomNotFound)
	}
	return updated, nil
}

// Delete removes the room; its participants and messages go with it.
func (s *RoomService) Delete(ctx context.Context, id int64, by models.Identity) error {
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		room, err := tx.LockRoom(ctx, id)
		if err != nil {
			return err
		}
		if !room.CanManage(by) {
			return apperr.ErrForbidden
		}
		return tx.DeleteRoom(ctx, id)
	})
	if err != nil {
		return classify(err, apperr.ErrRoomNotFound)
	}
	log.Info().Str("module", "rooms").Int64("room_id", id).Str("by", by.UserID).Msg("debate deleted")
	return nil
}

// IsParticipant treats the creator as a participant even if absent from the set.
func (s *RoomService) IsParticipant(ctx context.Context, roomID int64, userID string) (bool, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room.CreatorID == userID {
		return true, nil
	}
	ok, err := s.store.IsParticipant(ctx, roomID, userID)
	return ok, classify(err, nil)
}

func (s *RoomService) Participants(ctx context.Context, roomID int64) ([]string, error) {
	if _, err := s.Get(ctx, roomID); err != nil {
		return nil, err
	}
	ids, err := s.store.Participants(ctx, roomID)
	return ids, classify(err, nil)
}

// CanConnect gates real-time access: the room must exist, accept traffic,
// and count the user as a participant.
func (s *RoomService) CanConnect(ctx context.Context, roomID int64, userID string) error {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !room.Status.Joinable() {
		return apperr.ErrRoomClosed
	}
	if room.CreatorID == userID {
		return nil
	}
	ok, err := s.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return classify(err, nil)
	}
	if !ok {
		return apperr.ErrNotParticipant
	}
	return nil
}

// Messages returns chat history to participants and admins.
func (s *RoomService) Messages(ctx context.Context, roomID int64, by models.Identity, limit int) ([]models.Message, error) {
	if !by.IsAdmin {
		ok, err := s.IsParticipant(ctx, roomID, by.UserID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.ErrForbidden
		}
	} else if _, err := s.Get(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	msgs, err := s.store.ListMessages(ctx, roomID, limit)
	return msgs, classify(err, nil)
}

// Revenue summarises collected fees for the creator or an admin.
func (s *RoomService) Revenue(ctx context.Context, roomID int64, by models.Identity) (*models.RoomRevenue, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.CanManage(by) {
		return nil, apperr.ErrForbidden
	}
	rev, err := s.store.RoomRevenue(ctx, roomID)
	if err != nil {
		return nil, classify(err, nil)
	}
	return rev, nil
}
