package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Event kinds published on the notification stream. Delivery is one-way
// and fire-and-forget: this service owns no retry contract.
const (
	OrderPaid             = "order.paid"
	OrderDelivered        = "order.delivered"
	SubscriptionActivated = "subscription.activated"
	SubscriptionRevoked   = "subscription.revoked"
)

type Event struct {
	Kind    string    `json:"kind"`
	OrderID string    `json:"orderId,omitempty"`
	UserID  string    `json:"userId,omitempty"`
	At      time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// LogPublisher is the fallback when no broker is configured: events land
// in the logs and nowhere else.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(ctx context.Context, evt Event) error {
	p.Log.WithFields(logrus.Fields{
		"kind":     evt.Kind,
		"order_id": evt.OrderID,
		"user_id":  evt.UserID,
	}).Info("event published")
	return nil
}
