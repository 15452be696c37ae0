package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gemwire/gemini/internal/config"
)

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), config.TracingConfig{})
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())

	_, span := p.Tracer().Start(context.Background(), "test")
	require.False(t, span.IsRecording())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderRecordsWithoutExporter(t *testing.T) {
	p, err := NewProvider(context.Background(), config.TracingConfig{
		Enabled:  true,
		Exporter: "none",
	})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "test")
	require.True(t, span.IsRecording())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderUnsupported(t *testing.T) {
	_, err := NewProvider(context.Background(), config.TracingConfig{
		Enabled:  true,
		Exporter: "zipkin",
	})
	require.Error(t, err)
}
