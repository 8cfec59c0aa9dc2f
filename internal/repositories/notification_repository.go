package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"booking-chat/internal/models"
)

// NotificationRepository writes per-message notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n models.Notification) (models.Notification, error)
}

// NotificationRepo is a sqlx-backed repository.
type NotificationRepo struct {
	db *sqlx.DB
}

// NewNotificationRepo constructs NotificationRepo.
func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

// Create inserts the record for a message. A second record for the same
// message is ignored and the existing one returned.
func (r *NotificationRepo) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	var out models.Notification
	err := r.db.GetContext(ctx, &out, `INSERT INTO chat_notifications (session_id, message_id, recipient_id, sender_id, delivered)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (message_id) DO UPDATE SET message_id = EXCLUDED.message_id
        RETURNING id, session_id, message_id, recipient_id, sender_id, delivered, created_at`,
		n.SessionID, n.MessageID, n.RecipientID, n.SenderID, n.Delivered)
	return out, err
}
