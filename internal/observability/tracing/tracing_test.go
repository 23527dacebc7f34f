package tracing

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	if _, err := Init(context.Background(), Config{Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unknown exporter")
	}
}

func TestStdoutExporterWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{Service: "casefile-test", Exporter: ExporterStdout, SampleRatio: 1, Writer: &buf}, nil)
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "docsapi.list_documents")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "docsapi.list_documents") {
		t.Fatalf("expected span in exporter output, got %q", buf.String())
	}
}
