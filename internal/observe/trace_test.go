package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

func TestStartSpanRecordsError(t *testing.T) {
	exp := installTestProvider(t)

	_, span := StartSpan(context.Background(), "pipeline.trim")
	EndSpan(span, errors.New("all silent"))

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}

	if spans[0].Name != "pipeline.trim" {
		t.Errorf("Expected span name pipeline.trim, got %s", spans[0].Name)
	}

	if spans[0].Status.Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status.Code)
	}
}

func TestEndSpanIgnoresCancellation(t *testing.T) {
	exp := installTestProvider(t)

	_, span := StartSpan(context.Background(), "pipeline.transcribe")
	EndSpan(span, context.Canceled)

	if got := exp.GetSpans()[0].Status.Code; got == codes.Error {
		t.Error("Cancellation must not mark the span as failed")
	}
}

func TestLoggerAddsTraceIDs(t *testing.T) {
	installTestProvider(t)

	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, span := StartSpan(context.Background(), "pipeline.run")
	defer span.End()

	Logger(ctx, base).Info("stage completed")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("Expected trace correlation attributes, got: %s", out)
	}
}

func TestLoggerWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	Logger(context.Background(), base).Info("no span")

	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("Unexpected trace_id in output: %s", buf.String())
	}
}

func TestInitTracing(t *testing.T) {
	orig := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	shutdown, err := InitTracing(TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Disabled shutdown failed: %v", err)
	}

	var buf bytes.Buffer
	shutdown, err = InitTracing(TracingConfig{Enabled: true, Exporter: ExporterStdout, Output: &buf})
	if err != nil {
		t.Fatalf("InitTracing failed: %v", err)
	}

	_, span := StartSpan(context.Background(), "exported")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if !strings.Contains(buf.String(), "exported") {
		t.Errorf("Expected exported span in output, got: %s", buf.String())
	}

	if _, err := InitTracing(TracingConfig{Enabled: true, Exporter: "jaeger"}); err == nil {
		t.Error("Expected error for unknown exporter")
	}
}
