package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/models"
	"github.com/zagdebate/backend/internal/store"
)

// UserDirectory is the read-only view of the external user store.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// AuthService resolves bearer tokens into identities. Tokens are HS256 JWTs
// carrying a user_id claim; revoked tokens are kept in Redis under
// blacklist:<token> until they would have expired anyway.
type AuthService struct {
	secret []byte
	expiry time.Duration
	users  UserDirectory
	redis  *redis.Client
}

func NewAuthService(cfg config.JWTConfig, users UserDirectory, redisClient *redis.Client) *AuthService {
	return &AuthService{
		secret: []byte(cfg.SecretKey),
		expiry: cfg.Expiry(),
		users:  users,
		redis:  redisClient,
	}
}

// Resolve never fails: a missing, malformed, expired or revoked token, or an
// unknown user, all resolve to the anonymous identity.
func (s *AuthService) Resolve(ctx context.Context, token string) models.Identity {
	if token == "" || len(s.secret) == 0 {
		return models.Anonymous()
	}

	userID, err := s.validateToken(token)
	if err != nil {
		log.Debug().Err(err).Str("module", "auth").Msg("token rejected")
		return models.Anonymous()
	}

	if s.redis != nil {
		n, err := s.redis.Exists(ctx, blacklistKey(token)).Result()
		if err != nil {
			// without the blacklist we cannot tell a revoked token apart
			log.Warn().Err(err).Str("module", "auth").Msg("blacklist lookup failed")
			return models.Anonymous()
		}
		if n > 0 {
			return models.Anonymous()
		}
	}

	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("module", "auth").Str("user", userID).Msg("user lookup failed")
		}
		return models.Anonymous()
	}
	return u.Identity()
}

// IssueToken signs a token for userID. Account management lives outside
// this service; this is used by operators and tests.
func (s *AuthService) IssueToken(userID string) (string, error) {
	if len(s.secret) == 0 {
		return "", apperr.Invariant("jwt secret not configured")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(s.expiry).Unix(),
	})
	return token.SignedString(s.secret)
}

// Logout blacklists the token for the rest of its lifetime.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if s.redis == nil {
		return apperr.Wrap(apperr.ErrUnavailable, errors.New("redis not configured"))
	}
	if err := s.redis.Set(ctx, blacklistKey(token), "1", s.expiry).Err(); err != nil {
		return apperr.Wrap(apperr.ErrUnavailable, err)
	}
	return nil
}

func (s *AuthService) validateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	userID, ok := claims["user_id"]
	if !ok || userID == nil {
		return "", errors.New("missing user_id claim")
	}
	// numeric ids arrive as float64
	if f, ok := userID.(float64); ok {
		return fmt.Sprintf("%d", int64(f)), nil
	}
	return fmt.Sprintf("%v", userID), nil
}

func blacklistKey(token string) string {
	return fmt.Sprintf("blacklist:%s", token)
}
