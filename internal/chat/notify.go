package chat

import (
	"context"
	"log"
	"unicode/utf8"

	"booking-chat/internal/models"
	"booking-chat/internal/observability"
)

const pushPreviewRunes = 120

// notify writes the notification record for a message and hands it to the
// push sink when the recipient has no live connection. Failures are logged.
func (s *Service) notify(msg models.Message, senderName string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotifyTimeout)
	defer cancel()

	membership, err := s.sessions.GetMembership(ctx, msg.SessionID)
	if err != nil {
		observability.IncSideEffectError("notify")
		log.Printf("notify: load session=%d: %v", msg.SessionID, err)
		return
	}
	recipientID, ok := recipientOf(msg.SenderID, membership)
	if !ok {
		log.Printf("notify: no recipient session=%d message=%d", msg.SessionID, msg.ID)
		return
	}

	online := s.registry.IsOnline(recipientID)
	if _, err := s.notifications.Create(ctx, models.Notification{
		SessionID:   msg.SessionID,
		MessageID:   msg.ID,
		RecipientID: recipientID,
		SenderID:    msg.SenderID,
		Delivered:   online,
	}); err != nil {
		observability.IncSideEffectError("notify")
		log.Printf("notify: create record message=%d: %v", msg.ID, err)
		return
	}
	observability.IncNotification(online)

	if online || s.push == nil {
		return
	}
	if err := s.push.EnqueuePush(ctx, models.PushNotification{
		RecipientID: recipientID,
		SenderID:    msg.SenderID,
		SenderName:  senderName,
		SessionID:   msg.SessionID,
		MessageID:   msg.ID,
		Preview:     preview(msg),
		SentAt:      msg.CreatedAt,
	}); err != nil {
		observability.IncSideEffectError("push")
		log.Printf("notify: enqueue push recipient=%d message=%d: %v", recipientID, msg.ID, err)
	}
}

// recipientOf picks the participant who is not the sender.
func recipientOf(senderID int64, m models.Membership) (int64, bool) {
	requesterID, fulfillerID, hasFulfiller := m.Participants()
	if senderID != requesterID {
		return requesterID, true
	}
	if !hasFulfiller || fulfillerID == senderID {
		return 0, false
	}
	return fulfillerID, true
}

func preview(msg models.Message) string {
	if msg.MessageType == models.MessageFile && msg.FileName != nil {
		return *msg.FileName
	}
	if utf8.RuneCountInString(msg.Content) <= pushPreviewRunes {
		return msg.Content
	}
	return string([]rune(msg.Content)[:pushPreviewRunes]) + "…"
}
