package memory

import (
	"context"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type UserRepository struct {
	b *backend
}

func (r *UserRepository) Upsert(_ context.Context, user *models.User) error {
	if user == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	existing, err := first[models.User](txn, tableUsers, "id", user.ID)
	if err != nil {
		return err
	}
	now := time.Now()
	next := models.User{ID: user.ID, DisplayName: user.DisplayName, CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		next = *existing
		next.DisplayName = user.DisplayName
		next.UpdatedAt = now
	}
	if err = insert(txn, tableUsers, &next); err != nil {
		return err
	}
	txn.Commit()
	*user = next
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	u, err := first[models.User](txn, tableUsers, "id", id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, pkgerrors.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (r *UserRepository) List(_ context.Context) ([]models.User, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	users, err := all[models.User](txn, tableUsers, "id")
	if err != nil {
		return nil, err
	}
	sortByID(users, func(u *models.User) int64 { return u.ID }, false)
	return values(users), nil
}

func (r *UserRepository) SetBanned(_ context.Context, id int64, banned bool) error {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	u, err := first[models.User](txn, tableUsers, "id", id)
	if err != nil {
		return err
	}
	if u == nil {
		return pkgerrors.ErrUserNotFound
	}
	next := *u
	next.Banned = banned
	next.UpdatedAt = time.Now()
	if err = insert(txn, tableUsers, &next); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *UserRepository) Count(_ context.Context) (int64, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	users, err := all[models.User](txn, tableUsers, "id")
	if err != nil {
		return 0, err
	}
	return int64(len(users)), nil
}
