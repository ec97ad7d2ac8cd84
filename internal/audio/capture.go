package audio

import (
	"context"
	"fmt"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/config"
)

// Capturer records one bounded utterance from an input source. Capture
// blocks until trailing silence exceeds the pause threshold after speech
// began, or the time limit elapses. The device is held for the duration
// of the call only.
type Capturer interface {
	Capture(ctx context.Context, limit time.Duration) (Sample, error)
}

// New selects the capture backend from config.
func New(cfg config.CaptureConfig) (Capturer, error) {
	switch cfg.Backend {
	case "device":
		return newDeviceCapturer(cfg), nil
	case "mock":
		return NewMockCapturer(cfg.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.Backend)
	}
}
