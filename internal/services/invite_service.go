package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"image/png"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/models"
)

var ErrInviteExpired = apperr.New(apperr.KindNotFound, "invite_expired", "invalid or expired invite code")

type Invite struct {
	RoomID    int64     `json:"room_id"`
	Code      string    `json:"code,omitempty"`
	Link      string    `json:"link"`
	QRImage   string    `json:"qr_image"` // base64 PNG
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// InviteService issues shareable room links rendered as QR codes. When Redis
// is available each invite also gets a short code that expires after ttl.
type InviteService struct {
	rooms   *RoomService
	redis   *redis.Client
	baseURL string
	ttl     time.Duration
}

func NewInviteService(rooms *RoomService, rdb *redis.Client, baseURL string, ttl time.Duration) *InviteService {
	return &InviteService{
		rooms:   rooms,
		redis:   rdb,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

func (s *InviteService) Generate(ctx context.Context, roomID int64, by models.Identity) (*Invite, error) {
	ok, err := s.rooms.IsParticipant(ctx, roomID, by.UserID)
	if err != nil {
		return nil, err
	}
	if !ok && !by.IsAdmin {
		return nil, apperr.ErrForbidden
	}

	inv := &Invite{RoomID: roomID, Link: fmt.Sprintf("%s/debates/%d", s.baseURL, roomID)}
	if s.redis != nil {
		code := generateNonce()
		if err := s.redis.Set(ctx, inviteKey(code), roomID, s.ttl).Err(); err != nil {
			return nil, apperr.Wrap(apperr.ErrUnavailable, err)
		}
		inv.Code = code
		inv.Link += "?invite=" + code
		inv.ExpiresAt = time.Now().UTC().Add(s.ttl)
	}

	img, err := RenderQR(inv.Link, 256)
	if err != nil {
		return nil, err
	}
	inv.QRImage = base64.StdEncoding.EncodeToString(img)
	return inv, nil
}

// Resolve maps an invite code back to its room.
func (s *InviteService) Resolve(ctx context.Context, code string) (int64, error) {
	if s.redis == nil {
		return 0, ErrInviteExpired
	}
	val, err := s.redis.Get(ctx, inviteKey(code)).Result()
	if err == redis.Nil {
		return 0, ErrInviteExpired
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrUnavailable, err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, apperr.Invariant("invite %s holds non-numeric room id %q", code, val)
	}
	return id, nil
}

// RenderQR encodes content as a size×size PNG.
func RenderQR(content string, size int) ([]byte, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inviteKey(code string) string {
	return "invite:" + code
}

func generateNonce() string {
	b := make([]byte, 12)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
