package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zoff-tech/petsync/pkg/config"
	"go.opentelemetry.io/otel"
)

func TestInit_Success(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "petsync-agent",
		TracingURL:  "localhost:4318",
	}

	shutdown, err := Init(cfg)
	assert.NoError(t, err)
	assert.NotNil(t, shutdown)

	tp := otel.GetTracerProvider()
	assert.NotNil(t, tp)

	shutdown()
}

func TestInit_EmptyTracingURL(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "petsync-agent",
		TracingURL:  "",
	}

	shutdown, err := Init(cfg)
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}

func TestInit_EmptyServiceName(t *testing.T) {
	cfg := config.Observability{
		ServiceName: "",
		TracingURL:  "localhost:4318",
	}

	shutdown, err := Init(cfg)
	assert.Error(t, err)
	assert.Nil(t, shutdown)
}
