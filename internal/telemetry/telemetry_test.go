package telemetry

import (
	"context"
	"testing"
)

func TestParseSampleRate(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{"", 0.1},
		{"0.5", 0.5},
		{"1", 1},
		{"0", 0},
		{"1.5", 0.1},
		{"-0.2", 0.1},
		{"half", 0.1},
	}
	for _, tc := range tests {
		if got := parseSampleRate(tc.raw); got != tc.want {
			t.Errorf("parseSampleRate(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://collector:4318")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")
	t.Setenv("OTEL_TRACE_SAMPLE_RATE", "0.25")
	t.Setenv("OTEL_SERVICE_VERSION", "1.2.3")

	opts := OptionsFromEnv("popcorn-stream")
	if opts.Endpoint != "collector:4318" {
		t.Errorf("Endpoint = %q", opts.Endpoint)
	}
	if opts.Insecure {
		t.Error("https endpoint should not be insecure")
	}
	if opts.SampleRate != 0.25 || opts.ServiceVersion != "1.2.3" || opts.ServiceName != "popcorn-stream" {
		t.Errorf("opts = %+v", opts)
	}

	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4318")
	if opts := OptionsFromEnv("x"); !opts.Insecure {
		t.Error("http endpoint should be insecure")
	}
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "false")
	if opts := OptionsFromEnv("x"); opts.Insecure {
		t.Error("explicit insecure=false should win")
	}
}

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := Init(context.Background(), "popcorn-stream")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
