package rabbitmq

import (
	"context"

	"booking-chat/internal/models"
)

// PushRoutingKey is where offline message notifications are published for
// the push delivery service.
const PushRoutingKey = "push.chat_message"

// PushSink hands offline notifications to the push pipeline.
type PushSink struct {
	publisher Publisher
}

// NewPushSink wraps a publisher.
func NewPushSink(publisher Publisher) *PushSink {
	return &PushSink{publisher: publisher}
}

// EnqueuePush publishes one push request. Delivery is the consumer's job.
func (s *PushSink) EnqueuePush(ctx context.Context, push models.PushNotification) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	return s.publisher.Publish(ctx, PushRoutingKey, push)
}
