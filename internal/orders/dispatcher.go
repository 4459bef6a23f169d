package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
)

const confirmationEventType = "order.confirmed"

type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// PubSubDispatcher publishes confirmations to the order confirmation topic.
// A notification worker subscribed to the topic sends the email.
type PubSubDispatcher struct {
	publish publishFunc
}

// NewPubSubDispatcher wraps a publisher handle. Publish waits for the
// server acknowledgement so the caller's deadline bounds the whole attempt.
func NewPubSubDispatcher(publisher *pubsub.Publisher) (*PubSubDispatcher, error) {
	if publisher == nil {
		return nil, errors.New("confirmation publisher required")
	}
	return &PubSubDispatcher{
		publish: func(ctx context.Context, msg *pubsub.Message) (string, error) {
			return publisher.Publish(ctx, msg).Get(ctx)
		},
	}, nil
}

func (d *PubSubDispatcher) Dispatch(ctx context.Context, confirmation Confirmation) error {
	msg, err := confirmationMessage(confirmation)
	if err != nil {
		return err
	}
	if _, err := d.publish(ctx, msg); err != nil {
		return fmt.Errorf("publish order confirmation: %w", err)
	}
	return nil
}

func confirmationMessage(confirmation Confirmation) (*pubsub.Message, error) {
	payload, err := json.Marshal(confirmation)
	if err != nil {
		return nil, fmt.Errorf("marshal order confirmation: %w", err)
	}
	return &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": confirmationEventType,
			"order_id":   confirmation.OrderID.String(),
		},
	}, nil
}
