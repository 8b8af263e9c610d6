package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/y3dhub/api/internal/services"
)

// PubSubReconcilePublisher publishes reconcile completion events to a Pub/Sub topic.
type PubSubReconcilePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReconcilePublisher constructs a Pub/Sub backed reconcile event publisher.
func NewPubSubReconcilePublisher(topic *pubsub.Topic) (*PubSubReconcilePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub reconcile publisher: topic is required")
	}
	return &PubSubReconcilePublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReconcileEvent enqueues a reconcile completion message on the configured topic.
func (p *PubSubReconcilePublisher) PublishReconcileEvent(ctx context.Context, message services.ReconcileEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub reconcile publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal reconcile event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "orderNumber", message.OrderNumber)
	if message.DryRun {
		attrs["dryRun"] = "true"
	}
	if message.Warnings > 0 {
		attrs["warnings"] = fmt.Sprintf("%d", message.Warnings)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish reconcile event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
