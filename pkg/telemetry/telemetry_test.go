package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cexll/schemafetch-go/pkg/telemetry"
)

func TestNewTracerWithoutEndpointIsNoop(t *testing.T) {
	tr, err := telemetry.NewTracer(telemetry.TracerConfig{})
	require.NoError(t, err)

	ctx, span := tr.Start(context.Background(), "get")
	require.NotNil(t, ctx)
	span.End()
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestNilTracerStartIsSafe(t *testing.T) {
	var tr *telemetry.Tracer
	ctx, span := tr.Start(context.Background(), "get")
	require.NotNil(t, ctx)
	require.False(t, span.IsRecording())
	require.NoError(t, tr.Shutdown(context.Background()))
}

func TestRedactHeadersMasksSensitiveValues(t *testing.T) {
	blob := telemetry.RedactHeaders(map[string]string{
		"Authorization": "Bearer secret",
		"X-Request-Id":  "abc-123",
	})
	require.Contains(t, blob, `"[redacted]"`)
	require.Contains(t, blob, "abc-123")
	require.NotContains(t, blob, "secret")
}

func TestNewDefaultLoggerIsUsable(t *testing.T) {
	logger := telemetry.NewDefaultLogger()
	logger.Info("test message", "k", "v")
}
