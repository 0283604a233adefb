package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/zoff-tech/petsync/pkg/config"
)

type RabbitMqNotifierCreator func(ctx context.Context, settings *config.NotifierSettings) (Notifier, error)

var NewRabbitMqNotifier RabbitMqNotifierCreator = func(ctx context.Context, settings *config.NotifierSettings) (Notifier, error) {
	conn, err := amqp.Dial(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	// Surface connection drops in the log.
	notifyClose := make(chan *amqp.Error)
	conn.NotifyClose(notifyClose)
	go func() {
		for err := range notifyClose {
			log.Printf("RabbitMQ connection closed: %v", err)
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// ExchangeDeclare is idempotent and has no effect if the exchange is already in place
	err = ch.ExchangeDeclare(
		settings.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &rabbitMqNotifier{connection: conn, channel: ch, exchange: settings.Exchange}, nil
}

type rabbitMqNotifier struct {
	connection *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	mu         sync.Mutex
}

func (r *rabbitMqNotifier) Publish(ctx context.Context, n *Notification) error {
	tracer := otel.Tracer("petsync")
	_, span := tracer.Start(ctx, "PublishNotification",
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingDestinationKey.String(r.exchange),
			semconv.MessagingRabbitmqRoutingKeyKey.String(n.Kind),
		),
	)
	defer span.End()

	payload, err := json.Marshal(n)
	if err != nil {
		span.RecordError(err)
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.channel.Publish(
		r.exchange, n.Kind, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
		},
	)
	if err != nil {
		span.RecordError(err)
		return err
	}

	span.SetAttributes(
		attribute.Int("messaging.message_payload_size_bytes", len(payload)),
	)
	return nil
}

func (r *rabbitMqNotifier) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.connection != nil {
		return r.connection.Close()
	}
	return nil
}
