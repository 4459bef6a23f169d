package orders

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/types"
)

func TestPubSubDispatcherPublishesConfirmation(t *testing.T) {
	var got *pubsub.Message
	d := &PubSubDispatcher{publish: func(_ context.Context, msg *pubsub.Message) (string, error) {
		got = msg
		return "server-id", nil
	}}

	orderID := uuid.New()
	err := d.Dispatch(context.Background(), Confirmation{
		OrderID:    orderID,
		Currency:   "TRY",
		FinalTotal: types.Money(8000),
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "order.confirmed", got.Attributes["event_type"])
	assert.Equal(t, orderID.String(), got.Attributes["order_id"])

	var payload map[string]any
	require.NoError(t, json.Unmarshal(got.Data, &payload))
	assert.Equal(t, orderID.String(), payload["order_id"])
	assert.Equal(t, 80.0, payload["final_total"])
}

func TestPubSubDispatcherWrapsPublishError(t *testing.T) {
	d := &PubSubDispatcher{publish: func(context.Context, *pubsub.Message) (string, error) {
		return "", context.DeadlineExceeded
	}}

	err := d.Dispatch(context.Background(), Confirmation{OrderID: uuid.New()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewPubSubDispatcherRequiresPublisher(t *testing.T) {
	_, err := NewPubSubDispatcher(nil)
	require.Error(t, err)
}
