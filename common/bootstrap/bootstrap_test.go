package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/queueboard/common/config"
	"github.com/lyzr/queueboard/common/db"
	"github.com/lyzr/queueboard/common/logger"
)

func testConfig() *config.Config {
	return &config.Config{
		Service:   config.ServiceConfig{Name: "queueboard", StoreBackend: "memory"},
		Queue:     config.QueueConfig{Type: "memory", Topic: "queueboard:events", BufferLen: 8},
		Cache:     config.CacheConfig{Enabled: true},
		Telemetry: config.TelemetryConfig{EnableMetrics: true},
	}
}

func TestSetupBuildsComponents(t *testing.T) {
	ctx := context.Background()
	components, err := Setup(ctx, "queueboard", WithCustomConfig(testConfig()), WithCustomLogger(logger.Discard()))
	require.NoError(t, err)

	assert.Nil(t, components.DB, "memory store runs without a database")
	assert.NotNil(t, components.Queue)
	assert.NotNil(t, components.Cache)
	assert.NotNil(t, components.Metrics)
	assert.NoError(t, components.Health(ctx))
	assert.NoError(t, components.Shutdown(ctx))
}

func TestSetupSkipsWhatMigrateDoesNotNeed(t *testing.T) {
	ctx := context.Background()
	hookRan := false
	components, err := Setup(ctx, "queueboard",
		WithCustomConfig(testConfig()),
		WithCustomLogger(logger.Discard()),
		WithoutQueue(),
		WithoutCache(),
		WithoutTelemetry(),
		WithDBInitHook(func(*db.DB) error {
			hookRan = true
			return nil
		}),
	)
	require.NoError(t, err)

	assert.Nil(t, components.Queue)
	assert.Nil(t, components.Cache)
	assert.Nil(t, components.Telemetry)
	assert.False(t, hookRan, "no pool, no hook")
	assert.NoError(t, components.Shutdown(ctx))
}

func TestSetupWithoutDBIgnoresPostgresBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Service.StoreBackend = "postgres"

	components, err := Setup(context.Background(), "queueboard",
		WithCustomConfig(cfg),
		WithCustomLogger(logger.Discard()),
		WithoutDB(),
	)
	require.NoError(t, err)
	assert.Nil(t, components.DB)
	assert.NoError(t, components.Shutdown(context.Background()))
}

func TestSetupRejectsUnknownQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Queue.Type = "kafka"

	_, err := Setup(context.Background(), "queueboard", WithCustomConfig(cfg), WithCustomLogger(logger.Discard()))
	assert.ErrorContains(t, err, "unknown queue type")
}
