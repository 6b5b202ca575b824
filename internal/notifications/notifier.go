package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	"marketplace/internal/cache"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var droppedPayloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "marketplace_broker_dropped_payloads_total",
	Help: "Payloads dropped because a subscriber buffer was full",
}, []string{"broker"})

// Notification is pushed to a user's notification stream.
type Notification struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	ProductID string `json:"product_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"created_at"`
}

// NotificationChatMessage is the type of a new chat message notification.
const NotificationChatMessage = "chat_message"

// Notifier publishes domain events onto the broker topics.
type Notifier struct {
	broker Broker
}

// NewNotifier creates a new Notifier over broker.
func NewNotifier(broker Broker) *Notifier {
	return &Notifier{broker: broker}
}

// Broker exposes the underlying broker for subscribers.
func (n *Notifier) Broker() Broker {
	return n.broker
}

// PublishRoomChanged announces that a room's messages or metadata changed.
func (n *Notifier) PublishRoomChanged(ctx context.Context, roomID string) error {
	return n.broker.Publish(ctx, cache.ChatRoomTopic(roomID), roomID)
}

// SubscribeRoom listens for change announcements of one room.
func (n *Notifier) SubscribeRoom(ctx context.Context, roomID string) (*Subscription, error) {
	return n.broker.Subscribe(ctx, cache.ChatRoomTopic(roomID))
}

// PublishUser sends a notification to one user's stream.
func (n *Notifier) PublishUser(ctx context.Context, uid string, note Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return n.broker.Publish(ctx, cache.UserNotificationTopic(uid), string(payload))
}

// SubscribeUser listens to one user's notification stream.
func (n *Notifier) SubscribeUser(ctx context.Context, uid string) (*Subscription, error) {
	return n.broker.Subscribe(ctx, cache.UserNotificationTopic(uid))
}
