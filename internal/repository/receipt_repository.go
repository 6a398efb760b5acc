package repository

import (
	"context"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type ReceiptRepository interface {
	Create(ctx context.Context, receipt *models.Receipt) error
	GetByID(ctx context.Context, id int64) (*models.Receipt, error)
	ListPending(ctx context.Context, limit int) ([]models.Receipt, error)
	// Review moves a pending receipt to status; ErrInvalidState otherwise.
	Review(ctx context.Context, id int64, status models.ReceiptStatus, adminID int64, at time.Time) (*models.Receipt, error)
	CountPending(ctx context.Context) (int64, error)
}
