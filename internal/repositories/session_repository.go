package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"booking-chat/internal/models"
)

var ErrSessionNotFound = errors.New("chat session not found")

// SessionRepository abstracts chat session persistence and the membership
// queries behind authorization.
type SessionRepository interface {
	CreateOrGet(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64) (models.ChatSession, error)
	GetSession(ctx context.Context, sessionID int64) (models.ChatSession, error)
	GetByBooking(ctx context.Context, bookingID int64) (models.ChatSession, error)
	GetMembership(ctx context.Context, sessionID int64) (models.Membership, error)
	ListAuthorizedSessionIDs(ctx context.Context, userID int64) ([]int64, error)
	ListSessionsForUser(ctx context.Context, userID int64) ([]models.ChatSession, error)
	End(ctx context.Context, sessionID int64) (bool, error)
	Delete(ctx context.Context, sessionID int64) error
}

// SessionRepo is a sqlx implementation of SessionRepository.
type SessionRepo struct {
	db *sqlx.DB
}

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(db *sqlx.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, booking_id, requester_id, fulfiller_id, status, last_message_at, message_count, created_at, ended_at`

// assignedUserPredicate matches sessions whose booking is assigned to a
// worker owned by the user bound as $1.
const assignedUserPredicate = `EXISTS (
            SELECT 1 FROM booking_assignments ba
            JOIN workers w ON w.id = ba.worker_id
            WHERE ba.booking_id = cs.booking_id AND w.user_id = $1)`

// CreateOrGet opens the chat for a booking, returning the existing one when
// the booking already has a session.
func (r *SessionRepo) CreateOrGet(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `INSERT INTO chat_sessions (booking_id, requester_id, fulfiller_id)
        VALUES ($1, $2, $3)
        ON CONFLICT (booking_id) DO UPDATE SET fulfiller_id = COALESCE(EXCLUDED.fulfiller_id, chat_sessions.fulfiller_id)
        RETURNING `+sessionColumns, bookingID, requesterID, fulfillerID)
	return session, err
}

// GetSession fetches a session by id.
func (r *SessionRepo) GetSession(ctx context.Context, sessionID int64) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// GetByBooking fetches the session bound to a booking.
func (r *SessionRepo) GetByBooking(ctx context.Context, bookingID int64) (models.ChatSession, error) {
	var session models.ChatSession
	err := r.db.GetContext(ctx, &session, `SELECT `+sessionColumns+` FROM chat_sessions WHERE booking_id=$1`, bookingID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, ErrSessionNotFound
	}
	return session, err
}

// GetMembership loads a session along with the users assigned to its booking.
func (r *SessionRepo) GetMembership(ctx context.Context, sessionID int64) (models.Membership, error) {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return models.Membership{}, err
	}

	var assigned []int64
	err = r.db.SelectContext(ctx, &assigned, `SELECT DISTINCT w.user_id FROM booking_assignments ba
        JOIN workers w ON w.id = ba.worker_id
        WHERE ba.booking_id = $1
        ORDER BY w.user_id`, session.BookingID)
	if err != nil {
		return models.Membership{}, err
	}
	return models.Membership{Session: session, AssignedUserIDs: assigned}, nil
}

// ListAuthorizedSessionIDs returns the active sessions the user may take part in.
func (r *SessionRepo) ListAuthorizedSessionIDs(ctx context.Context, userID int64) ([]int64, error) {
	query := `SELECT cs.id FROM chat_sessions cs
        WHERE cs.status = 'active'
        AND (cs.requester_id = $1 OR cs.fulfiller_id = $1 OR ` + assignedUserPredicate + `)
        ORDER BY cs.id`
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, query, userID)
	return ids, err
}

// ListSessionsForUser returns every session, active or ended, the user belongs to.
func (r *SessionRepo) ListSessionsForUser(ctx context.Context, userID int64) ([]models.ChatSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions cs
        WHERE cs.requester_id = $1 OR cs.fulfiller_id = $1 OR ` + assignedUserPredicate + `
        ORDER BY COALESCE(cs.last_message_at, cs.created_at) DESC`
	var sessions []models.ChatSession
	err := r.db.SelectContext(ctx, &sessions, query, userID)
	return sessions, err
}

// End marks a session ended. It reports false when the session was already ended.
func (r *SessionRepo) End(ctx context.Context, sessionID int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE chat_sessions SET status = 'ended', ended_at = NOW()
        WHERE id = $1 AND status = 'active'`, sessionID)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if count == 0 {
		if _, err := r.GetSession(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Delete purges a session; messages and notifications cascade.
func (r *SessionRepo) Delete(ctx context.Context, sessionID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrSessionNotFound
	}
	return nil
}
