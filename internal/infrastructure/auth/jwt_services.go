package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = time.Hour

// AdminAuth issues and checks admin API session tokens. A token is only
// valid while it is also the one remembered in Redis for that admin, so a new
// login revokes the previous session.
type AdminAuth struct {
	adminID      int64
	username     string
	passwordHash []byte
	secret       []byte
	redisClient  redis.RedisClient
	now          func() time.Time
}

type sessionClaims struct {
	AdminID int64 `json:"admin_id"`
	jwt.RegisteredClaims
}

// NewAdminAuth configures the single API operator. adminID is the platform
// user id recorded as reviewer for actions taken through the API.
func NewAdminAuth(adminID int64, username, passwordHash, secret string, redisClient redis.RedisClient) *AdminAuth {
	return &AdminAuth{
		adminID:      adminID,
		username:     username,
		passwordHash: []byte(passwordHash),
		secret:       []byte(secret),
		redisClient:  redisClient,
		now:          time.Now,
	}
}

func tokenKey(username string) string {
	return fmt.Sprintf("admin:%s:token", username)
}

func (a *AdminAuth) Login(ctx context.Context, username, password string) (string, error) {
	if len(a.passwordHash) == 0 || username != a.username {
		slog.Warn("admin login refused", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		slog.Warn("invalid admin password", "username", username)
		return "", pkgerrors.ErrInvalidCredentials
	}

	token, err := a.GenerateJWT(username)
	if err != nil {
		return "", err
	}
	if err := a.redisClient.Set(ctx, tokenKey(username), token, tokenTTL); err != nil {
		slog.Error("failed to cache admin token", "username", username, "error", err)
		return "", fmt.Errorf("failed to store session: %w", err)
	}

	slog.Info("admin logged in", "username", username)
	return token, nil
}

func (a *AdminAuth) GenerateJWT(username string) (string, error) {
	if len(a.secret) == 0 {
		return "", fmt.Errorf("JWT secret not set")
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		AdminID: a.adminID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		slog.Error("failed to generate JWT", "error", err)
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return signed, nil
}

// ValidateJWT checks the signature, expiry and the Redis session entry.
func (a *AdminAuth) ValidateJWT(ctx context.Context, tokenStr string) (*models.AdminClaims, error) {
	var claims sessionClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", pkgerrors.ErrUnauthorized)
	}

	stored, err := a.redisClient.Get(ctx, tokenKey(claims.Subject))
	if err != nil || stored != tokenStr {
		slog.Warn("invalid or revoked token", "username", claims.Subject, "error", err)
		return nil, fmt.Errorf("%w: revoked token", pkgerrors.ErrUnauthorized)
	}

	out := &models.AdminClaims{AdminID: claims.AdminID, Username: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
