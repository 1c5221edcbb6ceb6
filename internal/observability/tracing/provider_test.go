package tracing_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/smallbiznis/escrowd/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

func TestSafeAttributesDropsBankDetails(t *testing.T) {
	attrs := tracing.SafeAttributes(
		attribute.String("payout_id", "1"),
		attribute.String("account_number", "000123"),
		attribute.String("routing_code", "021000021"),
	)
	if len(attrs) != 1 || attrs[0].Key != "payout_id" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

func TestSafeErrorTruncates(t *testing.T) {
	err := tracing.SafeError(errors.New(strings.Repeat("x", 400)))
	if len(err.Error()) != 256 {
		t.Fatalf("expected truncated message, got %d chars", len(err.Error()))
	}
	if tracing.SafeError(nil) != nil {
		t.Fatalf("nil error must stay nil")
	}
}

func TestDisabledProviderStillTraces(t *testing.T) {
	tp, err := tracing.NewProvider(nil, tracing.Config{Enabled: false, SamplingRatio: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tracing.StartSpan(context.Background(), "test")
	if !span.SpanContext().IsValid() {
		t.Fatalf("expected a valid span context")
	}
	tracing.EndSpan(span, errors.New("boom"))
	_ = ctx
}
