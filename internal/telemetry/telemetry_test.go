package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogplatform/internal/config"
)

func TestSetupTracing_Disabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), config.TraceConfig{}, "blog")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_UnknownExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), config.TraceConfig{Exporter: "zipkin"}, "blog")
	assert.Error(t, err)
}

func TestNewExporter_OTLP(t *testing.T) {
	exp, err := newExporter(context.Background(), config.TraceConfig{Exporter: "otlp", Endpoint: "http://localhost:4318"})
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.NoError(t, exp.Shutdown(context.Background()))
}
