package chat

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"booking-chat/internal/models"
	"booking-chat/internal/telemetry"
)

// Actor identifies who triggered a lifecycle change, for auditing.
type Actor struct {
	RequestID string
	UserID    *int64
}

// OpenSession creates the chat for a booking, or returns the existing one.
// Participants already connected are subscribed right away.
func (s *Service) OpenSession(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64, actor Actor) (models.ChatSession, error) {
	if bookingID <= 0 || requesterID <= 0 {
		return models.ChatSession{}, fmt.Errorf("open session: booking and requester are required")
	}
	session, err := s.sessions.CreateOrGet(ctx, bookingID, requesterID, fulfillerID)
	if err != nil {
		return models.ChatSession{}, fmt.Errorf("open session booking=%d: %w", bookingID, err)
	}

	if membership, err := s.sessions.GetMembership(ctx, session.ID); err == nil {
		for _, userID := range members(membership) {
			if peer, ok := s.registry.Lookup(userID); ok {
				s.hub.Subscribe(session.ID, peer)
			}
		}
	}

	s.emitAudit(ctx, "opened", session, actor)
	return session, nil
}

// EndSession stops a session from accepting messages and closes its room.
// It reports false when the session had already ended.
func (s *Service) EndSession(ctx context.Context, sessionID int64, actor Actor) (bool, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	changed, err := s.sessions.End(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("end session=%d: %w", sessionID, err)
	}
	if !changed {
		return false, nil
	}
	s.closeRoom(sessionID)
	s.emitAudit(ctx, "ended", session, actor)
	return true, nil
}

// DeleteSession purges a session with its messages and notifications.
func (s *Service) DeleteSession(ctx context.Context, sessionID int64, actor Actor) error {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session=%d: %w", sessionID, err)
	}
	s.closeRoom(sessionID)
	s.emitAudit(ctx, "deleted", session, actor)
	return nil
}

// EndBooking ends the session bound to a booking.
func (s *Service) EndBooking(ctx context.Context, bookingID int64, actor Actor) (bool, error) {
	session, err := s.sessions.GetByBooking(ctx, bookingID)
	if err != nil {
		return false, err
	}
	return s.EndSession(ctx, session.ID, actor)
}

// DeleteBooking deletes the session bound to a booking.
func (s *Service) DeleteBooking(ctx context.Context, bookingID int64, actor Actor) error {
	session, err := s.sessions.GetByBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	return s.DeleteSession(ctx, session.ID, actor)
}

func (s *Service) closeRoom(sessionID int64) {
	s.broadcast(sessionID, models.EventChatEnded, models.EndedPayload{SessionID: sessionID}, nil)
	s.typing.ClearSession(sessionID)
	s.hub.CloseRoom(sessionID)
}

func (s *Service) emitAudit(ctx context.Context, action string, session models.ChatSession, actor Actor) {
	if s.audit == nil {
		return
	}
	s.audit.EmitSession(ctx, telemetry.SessionAudit{
		Action:    action,
		SessionID: session.ID,
		BookingID: session.BookingID,
		RequestID: actor.RequestID,
		ActorID:   actor.UserID,
	})
}

func members(m models.Membership) []int64 {
	ids := append([]int64{m.Session.RequesterID}, m.AssignedUserIDs...)
	if m.Session.FulfillerID != nil {
		ids = append(ids, *m.Session.FulfillerID)
	}
	return lo.Uniq(ids)
}
