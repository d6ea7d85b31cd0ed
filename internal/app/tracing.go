package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const tracerName = "github.com/rendis/copilot"

// newTracerProvider exports run and node spans as JSON lines to the
// configured file, or stderr.
func newTracerProvider(cfg TracingConfig) (*sdktrace.TracerProvider, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	if cfg.Output != "" {
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open trace output: %w", err)
		}
		w, closer = f, f
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		closer.Close()
		return nil, nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider, out io.Closer) error {
	err := tp.Shutdown(ctx)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
