package recognize

import (
	"context"
	"fmt"

	"github.com/phrasewatch/phrasewatch/internal/audio"
)

// MockDecoder returns a deterministic transcript for tests and the mock
// offline engine.
type MockDecoder struct {
	Text string
	Err  error
	rate int
}

func NewMockDecoder(text string, sampleRate int) *MockDecoder {
	return &MockDecoder{Text: text, rate: sampleRate}
}

func (m *MockDecoder) Decode(_ context.Context, sample audio.Sample) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	if m.Text != "" {
		return m.Text, nil
	}
	return fmt.Sprintf("[mock transcript length=%d]", len(sample.PCM)), nil
}

func (m *MockDecoder) SampleRate() int {
	return m.rate
}

func (m *MockDecoder) Close() error {
	return nil
}
