package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

func TestRoomService_CreateSeatsCreator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room, err := f.rooms.Create(ctx, user("c1"), CreateRoomInput{Title: "Tabs vs spaces"})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCapacity, room.Capacity)
	assert.Equal(t, models.RoomOpen, room.Status)
	assert.Equal(t, 1, room.ParticipantCount)

	ids, err := f.rooms.Participants(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	_, err = f.rooms.Create(ctx, models.Anonymous(), CreateRoomInput{Title: "x"})
	assert.ErrorIs(t, err, apperr.ErrUnauthenticated)
}

func TestRoomService_UpdateAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, "c1", 0, 3)
	title := "Renamed"

	_, err := f.rooms.Update(ctx, room.ID, user("intruder"), UpdateRoomInput{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	updated, err := f.rooms.Update(ctx, room.ID, admin("root"), UpdateRoomInput{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	_, err = f.joins.Join(ctx, user("u1"), room.ID)
	require.NoError(t, err)
	one := 1
	_, err = f.rooms.Update(ctx, room.ID, user("c1"), UpdateRoomInput{Capacity: &one})
	assert.ErrorIs(t, err, ErrCapacityBelowParticipants)

	_, err = f.rooms.Update(ctx, 999, user("c1"), UpdateRoomInput{Title: &title})
	assert.ErrorIs(t, err, apperr.ErrRoomNotFound)
}

func TestRoomService_DeleteCascadesMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, "c1", 0, 10)
	require.NoError(t, f.store.CreateMessage(ctx, &models.Message{RoomID: room.ID, UserID: "c1", Content: "hi"}))

	assert.ErrorIs(t, f.rooms.Delete(ctx, room.ID, user("u2")), apperr.ErrForbidden)
	require.NoError(t, f.rooms.Delete(ctx, room.ID, user("c1")))

	_, err := f.rooms.Get(ctx, room.ID)
	assert.ErrorIs(t, err, apperr.ErrRoomNotFound)
	msgs, _ := f.store.ListMessages(ctx, room.ID, 10)
	assert.Empty(t, msgs)
	assert.ErrorIs(t, f.rooms.Delete(ctx, room.ID, user("c1")), apperr.ErrRoomNotFound)
}

func TestRoomService_CanConnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, "c1", 0, 10)
	_, err := f.joins.Join(ctx, user("u1"), room.ID)
	require.NoError(t, err)

	assert.NoError(t, f.rooms.CanConnect(ctx, room.ID, "c1"))
	assert.NoError(t, f.rooms.CanConnect(ctx, room.ID, "u1"))
	assert.ErrorIs(t, f.rooms.CanConnect(ctx, room.ID, "u2"), apperr.ErrNotParticipant)
	assert.ErrorIs(t, f.rooms.CanConnect(ctx, 999, "u1"), apperr.ErrRoomNotFound)

	closed := models.RoomClosed
	_, err = f.rooms.Update(ctx, room.ID, user("c1"), UpdateRoomInput{Status: &closed})
	require.NoError(t, err)
	assert.ErrorIs(t, f.rooms.CanConnect(ctx, room.ID, "u1"), apperr.ErrRoomClosed)
}

func TestRoomService_MessagesAndRevenue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room := f.room(t, "c1", 4, 10)
	f.store.SetBalance("u1", 4)
	_, err := f.joins.Join(ctx, user("u1"), room.ID)
	require.NoError(t, err)

	for _, text := range []string{"first", "second"} {
		require.NoError(t, f.store.CreateMessage(ctx, &models.Message{RoomID: room.ID, UserID: "u1", Content: text}))
	}

	msgs, err := f.rooms.Messages(ctx, room.ID, user("u1"), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)

	_, err = f.rooms.Messages(ctx, room.ID, user("outsider"), 0)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.rooms.Messages(ctx, room.ID, admin("root"), 0)
	assert.NoError(t, err)

	rev, err := f.rooms.Revenue(ctx, room.ID, user("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, rev.PaidParticipants)
	assert.Equal(t, "4", rev.Gross.String())
	assert.Equal(t, "3", rev.CreatorShare.String())
	assert.Equal(t, "1", rev.PlatformShare.String())

	_, err = f.rooms.Revenue(ctx, room.ID, user("u1"))
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRoomService_List(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.room(t, "c1", 0, 10)
	f.room(t, "c2", 0, 10)

	rooms, err := f.rooms.List(ctx, store.RoomFilter{CreatorID: "c2"})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "c2", rooms[0].CreatorID)
}
