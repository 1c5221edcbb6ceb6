package ctxlogger_test

import (
	"context"
	"testing"

	"github.com/smallbiznis/escrowd/pkg/log/ctxlogger"
	"github.com/smallbiznis/escrowd/pkg/telemetry/correlation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationAndOperation(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctxlogger.SetServiceName("escrowd")

	ctx := correlation.WithID(context.Background(), "01HZX")
	ctx = ctxlogger.ContextWithOperation(ctx, "invariant_check")
	ctxlogger.WithContext(ctx, zap.New(core)).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	require.Equal(t, "01HZX", fields["correlation_id"])
	require.Equal(t, "invariant_check", fields["operation"])
	require.Equal(t, "escrowd", fields["service"])
}

func TestWithContextOmitsMissingIdentifiers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)

	ctxlogger.WithContext(context.Background(), zap.New(core)).Info("bare")

	fields := logs.All()[0].ContextMap()
	require.NotContains(t, fields, "correlation_id")
	require.NotContains(t, fields, "trace_id")
	require.NotContains(t, fields, "operation")
}
