package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubNotifier publishes alerts to a Google Cloud Pub/Sub topic, for fleets
// whose alert fan-out runs through a message bus instead of a webhook.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier creates a Pub/Sub client and resolves the topic handle.
// It authenticates using Application Default Credentials.
func NewPubSubNotifier(ctx context.Context, projectID, topicID string) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &PubSubNotifier{topic: client.Topic(topicID)}, nil
}

// NewPubSubNotifierFromTopic wraps an existing topic (primarily for tests).
func NewPubSubNotifierFromTopic(topic *pubsub.Topic) *PubSubNotifier {
	return &PubSubNotifier{topic: topic}
}

// Notify marshals the alert to JSON and publishes it, waiting for the server
// acknowledgment so the caller can observe delivery failure.
func (n *PubSubNotifier) Notify(ctx context.Context, alert Alert) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}
