package notify

import (
	"context"
	"fmt"

	"github.com/zoff-tech/petsync/pkg/config"
)

// NewNotifier selects the configured notification sink.
func NewNotifier(ctx context.Context, cfg *config.NotifierSettings) (Notifier, error) {
	switch cfg.Type {
	case "", "log":
		return &logNotifier{}, nil
	case "rabbitmq":
		return NewRabbitMqNotifier(ctx, cfg)
	case "gcp-pubsub":
		return NewPubSubNotifier(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}
