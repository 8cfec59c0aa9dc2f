package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"

	"booking-chat/internal/chat"
	"booking-chat/internal/models"
	"booking-chat/internal/repositories"
)

// Booking lifecycle routing keys.
const (
	BookingAccepted  = "booking.accepted"
	BookingCompleted = "booking.completed"
	BookingDeleted   = "booking.deleted"
)

// BookingEvent is the body of a booking lifecycle message.
type BookingEvent struct {
	BookingID   int64  `json:"booking_id"`
	RequesterID int64  `json:"requester_id"`
	FulfillerID *int64 `json:"fulfiller_id,omitempty"`
}

// LifecycleHandler applies booking lifecycle changes to chat sessions.
type LifecycleHandler interface {
	OpenSession(ctx context.Context, bookingID, requesterID int64, fulfillerID *int64, actor chat.Actor) (models.ChatSession, error)
	EndBooking(ctx context.Context, bookingID int64, actor chat.Actor) (bool, error)
	DeleteBooking(ctx context.Context, bookingID int64, actor chat.Actor) error
}

// ErrMalformedEvent marks deliveries that can never be processed.
var ErrMalformedEvent = errors.New("malformed booking event")

// HandleBookingEvent routes one lifecycle message. Events for bookings that
// have no chat are ignored.
func HandleBookingEvent(ctx context.Context, handler LifecycleHandler, routingKey, messageID string, body []byte) error {
	var event BookingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.BookingID <= 0 {
		return fmt.Errorf("%w: missing booking_id", ErrMalformedEvent)
	}
	actor := chat.Actor{RequestID: messageID}

	var err error
	switch routingKey {
	case BookingAccepted:
		if event.RequesterID <= 0 {
			return fmt.Errorf("%w: missing requester_id", ErrMalformedEvent)
		}
		_, err = handler.OpenSession(ctx, event.BookingID, event.RequesterID, event.FulfillerID, actor)
	case BookingCompleted:
		_, err = handler.EndBooking(ctx, event.BookingID, actor)
	case BookingDeleted:
		err = handler.DeleteBooking(ctx, event.BookingID, actor)
	default:
		log.Printf("rabbitmq booking consumer: ignoring routing_key=%s", routingKey)
		return nil
	}
	if errors.Is(err, repositories.ErrSessionNotFound) {
		log.Printf("rabbitmq booking consumer: no chat for booking=%d routing_key=%s", event.BookingID, routingKey)
		return nil
	}
	return err
}

// BookingConsumer feeds booking lifecycle events from a queue bound to the
// booking exchange into a LifecycleHandler.
type BookingConsumer struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	queue    string
	handler  LifecycleHandler
	prefetch int
}

// NewBookingConsumer connects and declares the exchange, queue and bindings.
func NewBookingConsumer(amqpURL, exchange, queue string, handler LifecycleHandler) (*BookingConsumer, error) {
	conn, ch, err := dialTopic(amqpURL, exchange)
	if err != nil {
		return nil, err
	}
	c := &BookingConsumer{conn: conn, ch: ch, queue: queue, handler: handler, prefetch: 16}
	if err := c.bind(exchange); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *BookingConsumer) bind(exchange string) error {
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range []string{BookingAccepted, BookingCompleted, BookingDeleted} {
		if err := c.ch.QueueBind(c.queue, key, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return c.ch.Qos(c.prefetch, 0, false)
}

// Run consumes until ctx is cancelled or the channel closes.
func (c *BookingConsumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	log.Printf("rabbitmq booking consumer started queue=%s", c.queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq booking consumer: delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *BookingConsumer) handle(ctx context.Context, d amqp.Delivery) {
	err := HandleBookingEvent(ctx, c.handler, d.RoutingKey, d.MessageId, d.Body)
	if err == nil {
		_ = d.Ack(false)
		return
	}
	log.Printf("rabbitmq booking consumer: routing_key=%s message_id=%s: %v", d.RoutingKey, d.MessageId, err)
	// malformed events are dropped, anything else is retried once by redelivery
	requeue := !errors.Is(err, ErrMalformedEvent) && !d.Redelivered
	_ = d.Nack(false, requeue)
}

// Close releases the channel and connection.
func (c *BookingConsumer) Close() error {
	return closeAll(c.conn, c.ch)
}
