package recognize

import (
	"context"
	"testing"

	"github.com/phrasewatch/phrasewatch/internal/config"
)

func TestExecDecoderParsesOutput(t *testing.T) {
	// sh -c ignores the appended --audio/--model arguments.
	cfg := config.OfflineConfig{
		Engine:     "exec",
		Command:    `sh -c 'printf "{\"text\":\"stop the pump\",\"confidence\":0.9}"'`,
		SampleRate: 16000,
	}
	dec, err := newExecDecoder(cfg)
	if err != nil {
		t.Fatalf("new exec decoder: %v", err)
	}
	t.Cleanup(func() { _ = dec.Close() })

	text, err := dec.Decode(context.Background(), testSample())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if text != "stop the pump" {
		t.Fatalf("unexpected text: %q", text)
	}
	if dec.SampleRate() != 16000 {
		t.Fatalf("unexpected sample rate: %d", dec.SampleRate())
	}
}

func TestExecDecoderCommandFailure(t *testing.T) {
	cfg := config.OfflineConfig{Engine: "exec", Command: "sh -c 'exit 3'", SampleRate: 16000}
	dec, err := newExecDecoder(cfg)
	if err != nil {
		t.Fatalf("new exec decoder: %v", err)
	}
	if _, err := dec.Decode(context.Background(), testSample()); err == nil {
		t.Fatalf("expected command failure")
	}
}

func TestExecDecoderRejectsEmptyCommand(t *testing.T) {
	if _, err := newExecDecoder(config.OfflineConfig{Engine: "exec", SampleRate: 16000}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestDecoderFactoryModes(t *testing.T) {
	if _, err := DecoderFactory(config.OfflineConfig{Engine: "mock", SampleRate: 16000})(); err != nil {
		t.Fatalf("mock factory: %v", err)
	}
	if _, err := DecoderFactory(config.OfflineConfig{Engine: "sphinx"})(); err == nil {
		t.Fatalf("expected error for unknown engine")
	}
}
