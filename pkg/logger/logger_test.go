package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"ecoquest/pkg/config"
)

func TestNew(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zap.NewNop()))

	cfg := &config.Config{AppEnv: "production", AppName: "ecoquest", LogLevel: "warn"}
	log, err := New(Params{Cfg: cfg})
	require.NoError(t, err)
	require.Same(t, log, zap.L())
	require.False(t, log.Core().Enabled(zapcore.InfoLevel))
	require.True(t, log.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Params{Cfg: &config.Config{LogLevel: "loud"}})
	require.ErrorContains(t, err, `invalid LOG_LEVEL "loud"`)
}

func TestFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	require.Empty(t, TraceFields(context.Background()))
	FromContext(context.Background(), zap.String("user_id", "u-1")).Info("untraced")

	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: trace.TraceID{0xaa}, SpanID: trace.SpanID{0xbb}})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	FromContext(ctx, zap.String("user_id", "u-1")).Info("traced")

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, map[string]any{"user_id": "u-1"}, entries[0].ContextMap())
	require.Equal(t, map[string]any{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
		"user_id":  "u-1",
	}, entries[1].ContextMap())
}
