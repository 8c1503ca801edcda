package activation

import (
	"context"
	"encoding/json"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/airmesh-mobile/airmesh-backend/pkg/pubsub"
)

const publishTimeout = 15 * time.Second

// ActivationEvent is the payload published when a line goes live.
type ActivationEvent struct {
	UserID      string    `json:"user_id"`
	ICCID       string    `json:"iccid,omitempty"`
	LineID      string    `json:"line_id,omitempty"`
	PhoneNumber string    `json:"phone_number,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
}

// EventPublisher emits activation lifecycle events. Delivery is best effort;
// orchestration never fails on a publish error.
type EventPublisher interface {
	PublishActivation(ctx context.Context, event ActivationEvent) error
}

type pubsubPublisher struct {
	client *pubsub.Client
}

// NewEventPublisher wraps the Pub/Sub client for activation events.
func NewEventPublisher(client *pubsub.Client) EventPublisher {
	if client == nil {
		return nil
	}
	return &pubsubPublisher{client: client}
}

func (p *pubsubPublisher) PublishActivation(ctx context.Context, event ActivationEvent) error {
	publisher := p.client.ActivationPublisher()
	if publisher == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	result := publisher.Publish(publishCtx, &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type": "line.activated",
			"user_id":    event.UserID,
		},
	})
	_, err = result.Get(publishCtx)
	return err
}
