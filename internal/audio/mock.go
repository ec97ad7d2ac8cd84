package audio

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

// MockCapturer returns a short synthetic tone instead of touching any
// device. Used by tests and the mock capture backend.
type MockCapturer struct {
	sampleRate int
	// Err, when set, is returned instead of a sample.
	Err error
}

func NewMockCapturer(sampleRate int) *MockCapturer {
	return &MockCapturer{sampleRate: sampleRate}
}

func (m *MockCapturer) Capture(ctx context.Context, _ time.Duration) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if m.Err != nil {
		return Sample{}, m.Err
	}

	// 200ms of a 440Hz tone.
	frames := m.sampleRate / 5
	pcm := make([]byte, 0, frames*2)
	for i := 0; i < frames; i++ {
		v := math.Sin(2 * math.Pi * 440 * float64(i) / float64(m.sampleRate))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(floatToInt16(v*0.5)))
	}
	return Sample{PCM: pcm, SampleRate: m.sampleRate, BitDepth: 16, Channels: 1}, nil
}
