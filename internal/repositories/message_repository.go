package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"booking-chat/internal/models"
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg models.NewMessage) (models.Message, error)
	MarkRead(ctx context.Context, sessionID, readerID int64, messageIDs []int64) ([]int64, error)
	ListRecent(ctx context.Context, sessionID int64, limit, offset int) ([]models.MessageView, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, session_id, sender_id, sender_type, message_type, content, file_url, file_name, file_size, is_read, read_at, created_at`

// Create stores a message and bumps the session counters in one transaction.
func (r *MessageRepo) Create(ctx context.Context, in models.NewMessage) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var msg models.Message
	err = tx.GetContext(ctx, &msg, `INSERT INTO chat_messages
        (session_id, sender_id, sender_type, message_type, content, file_url, file_name, file_size)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING `+messageColumns,
		in.SessionID, in.SenderID, in.SenderType, in.MessageType, in.Content, in.FileURL, in.FileName, in.FileSize)
	if err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chat_sessions
        SET message_count = message_count + 1, last_message_at = $2
        WHERE id = $1`, in.SessionID, msg.CreatedAt); err != nil {
		return models.Message{}, fmt.Errorf("touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// MarkRead flags the given messages of the session as read, skipping the
// reader's own messages. It returns the ids that changed.
func (r *MessageRepo) MarkRead(ctx context.Context, sessionID, readerID int64, messageIDs []int64) ([]int64, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}
	var updated []int64
	err := r.db.SelectContext(ctx, &updated, `UPDATE chat_messages
        SET is_read = TRUE, read_at = NOW()
        WHERE session_id = $1 AND sender_id <> $2 AND id = ANY($3) AND is_read = FALSE
        RETURNING id`, sessionID, readerID, pq.Array(messageIDs))
	return updated, err
}

// ListRecent returns a page of messages, newest first, with sender display
// attributes when the user row still exists.
func (r *MessageRepo) ListRecent(ctx context.Context, sessionID int64, limit, offset int) ([]models.MessageView, error) {
	query := `SELECT m.id, m.session_id, m.sender_id, m.sender_type, m.message_type, m.content,
            m.file_url, m.file_name, m.file_size, m.is_read, m.read_at, m.created_at,
            u.name AS sender_name, u.phone AS sender_phone
        FROM chat_messages m
        LEFT JOIN users u ON u.id = m.sender_id
        WHERE m.session_id = $1
        ORDER BY m.id DESC
        LIMIT $2 OFFSET $3`
	var msgs []models.MessageView
	err := r.db.SelectContext(ctx, &msgs, query, sessionID, limit, offset)
	return msgs, err
}
