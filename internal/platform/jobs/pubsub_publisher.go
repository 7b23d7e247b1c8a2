package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/storefront/api/internal/services"
)

// Message attribute keys set on published messages.
const (
	AttrDeliveryID = "deliveryId"
	AttrEventID    = "eventId"
	AttrEventType  = "eventType"
	AttrAttempt    = "attempt"
	AttrNotBefore  = "notBefore"
	AttrKind       = "kind"
	AttrProductID  = "productId"
	AttrOrderID    = "orderId"
)

// topicPublisher publishes JSON payloads and waits for the server-assigned id.
type topicPublisher struct {
	name    string
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

func newTopicPublisher(name string, topic *pubsub.Topic) (topicPublisher, error) {
	if topic == nil {
		return topicPublisher{}, fmt.Errorf("pubsub %s publisher: topic is required", name)
	}
	return topicPublisher{name: name, topic: topic, marshal: json.Marshal}, nil
}

func (p topicPublisher) publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub %s publisher: not initialised", p.name)
	}
	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s message: %w", p.name, err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s message: %w", p.name, err)
	}
	return id, nil
}

// PubSubWebhookQueue publishes webhook retry deliveries. The push subscription hands them
// back to the retry worker.
type PubSubWebhookQueue struct {
	pub topicPublisher
}

// NewPubSubWebhookQueue constructs a Pub/Sub backed retry queue.
func NewPubSubWebhookQueue(topic *pubsub.Topic) (*PubSubWebhookQueue, error) {
	pub, err := newTopicPublisher("webhook retry", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubWebhookQueue{pub: pub}, nil
}

// Enqueue publishes the delivery.
func (q *PubSubWebhookQueue) Enqueue(ctx context.Context, delivery services.WebhookDelivery) error {
	if q == nil {
		return errors.New("pubsub webhook queue: not initialised")
	}
	attrs := make(map[string]string)
	setAttr(attrs, AttrDeliveryID, delivery.ID)
	setAttr(attrs, AttrEventID, delivery.Event.ID)
	setAttr(attrs, AttrEventType, delivery.Event.Type)
	setAttr(attrs, AttrAttempt, strconv.Itoa(delivery.Attempt))
	if !delivery.NotBefore.IsZero() {
		attrs[AttrNotBefore] = delivery.NotBefore.UTC().Format(time.RFC3339)
	}
	_, err := q.pub.publish(ctx, delivery, attrs)
	return err
}

// PubSubNotificationPublisher publishes notification messages for the mailer.
type PubSubNotificationPublisher struct {
	pub topicPublisher
}

// NewPubSubNotificationPublisher constructs a Pub/Sub backed notification publisher.
func NewPubSubNotificationPublisher(topic *pubsub.Topic) (*PubSubNotificationPublisher, error) {
	pub, err := newTopicPublisher("notification", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubNotificationPublisher{pub: pub}, nil
}

// PublishNotification publishes message and returns the Pub/Sub message id.
func (p *PubSubNotificationPublisher) PublishNotification(ctx context.Context, message services.NotificationMessage) (string, error) {
	if p == nil {
		return "", errors.New("pubsub notification publisher: not initialised")
	}
	attrs := make(map[string]string)
	setAttr(attrs, AttrKind, message.Kind)
	setAttr(attrs, AttrProductID, message.ProductID)
	return p.pub.publish(ctx, message, attrs)
}

// orderEventMessage is the wire form of services.OrderEvent.
type orderEventMessage struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	UserID         string         `json:"userId,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PubSubOrderEventPublisher publishes order lifecycle events.
type PubSubOrderEventPublisher struct {
	pub topicPublisher
}

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	pub, err := newTopicPublisher("order event", topic)
	if err != nil {
		return nil, err
	}
	return &PubSubOrderEventPublisher{pub: pub}, nil
}

// PublishOrderEvent publishes event.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}
	attrs := make(map[string]string)
	setAttr(attrs, AttrEventType, event.Type)
	setAttr(attrs, AttrOrderID, event.OrderID)
	_, err := p.pub.publish(ctx, orderEventMessage{
		Type:           event.Type,
		OrderID:        event.OrderID,
		UserID:         event.UserID,
		PreviousStatus: event.PreviousStatus,
		CurrentStatus:  event.CurrentStatus,
		ActorID:        event.ActorID,
		OccurredAt:     event.OccurredAt,
		Metadata:       event.Metadata,
	}, attrs)
	return err
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var (
	_ services.WebhookRetryQueue     = (*PubSubWebhookQueue)(nil)
	_ services.NotificationPublisher = (*PubSubNotificationPublisher)(nil)
	_ services.OrderEventPublisher   = (*PubSubOrderEventPublisher)(nil)
)
