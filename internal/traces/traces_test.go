package traces

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_SetsAttributes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "payment.HandleNotification",
		TransactionID("tx_1"), WebhookID("wh_1"), Reference("SO042"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "payment.HandleNotification", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("transaction.id", "tx_1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("webhook.id", "wh_1"))
	assert.Contains(t, spans[0].Attributes(), attribute.String("paybox.reference", "SO042"))
}

func TestInit_WithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), "", "test", slogDiscard())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
