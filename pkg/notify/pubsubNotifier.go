package notify

import (
	"context"
	"encoding/json"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/petsync/pkg/config"
)

// PubSubNotifierCreator defines a function type for creating Pub/Sub sinks.
type PubSubNotifierCreator func(ctx context.Context, settings *config.NotifierSettings, opts ...option.ClientOption) (Notifier, error)

// NewPubSubNotifier is the default implementation of PubSubNotifierCreator.
var NewPubSubNotifier PubSubNotifierCreator = func(ctx context.Context, settings *config.NotifierSettings, opts ...option.ClientOption) (Notifier, error) {
	client, err := pubsub.NewClient(ctx, settings.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	topic := client.Topic(settings.Topic)
	// Ordering by kind needs the flag set on the publish handle.
	topic.EnableMessageOrdering = true
	return &pubSubNotifier{client: client, topic: topic}, nil
}

type pubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

func (p *pubSubNotifier) Publish(ctx context.Context, n *Notification) error {
	tracer := otel.Tracer("petsync")
	ctx, span := tracer.Start(ctx, "PublishNotification",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("pubsub"),
			semconv.MessagingDestinationKindKey.String("topic"),
			semconv.MessagingDestinationKey.String(p.topic.ID()),
		),
	)
	defer span.End()

	payload, err := json.Marshal(n)
	if err != nil {
		span.RecordError(err)
		return err
	}

	message := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"kind": n.Kind},
	}
	message.OrderingKey = n.Kind

	res := p.topic.Publish(ctx, message)
	_, err = res.Get(ctx) // wait for server ack
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)
	return nil
}

func (p *pubSubNotifier) Close() error {
	p.topic.Stop()
	return p.client.Close()
}
