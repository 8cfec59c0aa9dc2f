package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"booking-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads principals from the platform's user table.
type UserRepository interface {
	FindActiveByID(ctx context.Context, userID int64) (models.Principal, error)
	SetOnline(ctx context.Context, userID int64, online bool) error
}

// UserRepo is a sqlx-backed repository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// FindActiveByID returns the active user with the given id.
func (r *UserRepo) FindActiveByID(ctx context.Context, userID int64) (models.Principal, error) {
	var p models.Principal
	err := r.db.GetContext(ctx, &p, `SELECT id, role, name, phone FROM users WHERE id = $1 AND is_active = TRUE`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Principal{}, ErrUserNotFound
	}
	return p, err
}

// SetOnline flips the user's online flag.
func (r *UserRepo) SetOnline(ctx context.Context, userID int64, online bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET is_online = $2 WHERE id = $1`, userID, online)
	return err
}
