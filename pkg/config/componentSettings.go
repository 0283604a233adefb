package config

import "time"

// DbSettings selects and configures the offline store backend.
type DbSettings struct {
	Type string `mapstructure:"type" validate:"oneof=sqlite postgres mongo"`
	DSN  string `mapstructure:"dsn"`  // sqlite path or postgres DSN
	URI  string `mapstructure:"uri"`  // mongo connection URI
	Name string `mapstructure:"name"` // mongo database name
}

// APISettings configures the remote REST endpoint.
type APISettings struct {
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
}

// RealtimeSettings configures the event-stream connection.
type RealtimeSettings struct {
	StreamURL            string        `mapstructure:"stream_url" validate:"required,url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
}

// NotifierSettings selects the sink user-facing notifications go to.
type NotifierSettings struct {
	Type      string `mapstructure:"type" validate:"oneof=log rabbitmq gcp-pubsub"`
	URL       string `mapstructure:"url"`
	Exchange  string `mapstructure:"exchange"`
	Topic     string `mapstructure:"topic"`
	ProjectID string `mapstructure:"projectID"` // Optional, for GCP Pub/Sub
}

// NetworkSettings configures connectivity probing.
type NetworkSettings struct {
	ProbeURL      string        `mapstructure:"probe_url" validate:"required,url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}
