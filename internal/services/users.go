package service

import (
	"context"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
)

type UserService struct {
	users repository.UserRepository
}

func NewUserService(users repository.UserRepository) *UserService {
	return &UserService{users: users}
}

// Register creates the user on first contact and refreshes the display name
// afterwards.
func (s *UserService) Register(ctx context.Context, userID int64, displayName string) (*models.User, error) {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	user := &models.User{ID: userID, DisplayName: displayName}
	if err := s.users.Upsert(ctx, user); err != nil {
		failSpan(span, err, "user upsert failed")
		slog.Error("failed to register user", "user_id", userID, "error", err)
		return nil, err
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// Active returns the user unless it is unknown or banned.
func (s *UserService) Active(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Banned {
		return nil, pkgerrors.ErrUserBanned
	}
	return user, nil
}

func (s *UserService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	tracer := otel.Tracer("user-service")
	ctx, span := tracer.Start(ctx, "SetBanned")
	defer span.End()

	if err := s.users.SetBanned(ctx, userID, banned); err != nil {
		failSpan(span, err, "ban update failed")
		return err
	}
	slog.Info("user ban updated", "user_id", userID, "banned", banned)
	return nil
}
