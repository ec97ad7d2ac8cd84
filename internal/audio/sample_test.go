package audio

import (
	"context"
	"encoding/binary"
	"testing"
	"time"
)

func pcmFromInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestSampleDuration(t *testing.T) {
	s := Sample{PCM: make([]byte, 16000*2), SampleRate: 16000, BitDepth: 16, Channels: 1}
	if got := s.Duration(); got != time.Second {
		t.Fatalf("expected 1s, got %v", got)
	}
}

func TestResampleHalvesRate(t *testing.T) {
	src := make([]int16, 320)
	for i := range src {
		src[i] = int16(i)
	}
	s := Sample{PCM: pcmFromInt16(src), SampleRate: 32000, BitDepth: 16, Channels: 1}

	out := Resample(s, 16000)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("unexpected format: %d Hz, %d ch", out.SampleRate, out.Channels)
	}
	got := len(out.PCM) / 2
	if got < 155 || got > 165 {
		t.Fatalf("expected ~160 samples after downsampling, got %d", got)
	}
}

func TestResampleSameRateDownmixesOnly(t *testing.T) {
	// Two-channel frames with identical L/R values.
	src := []int16{100, 100, 200, 200, 300, 300}
	s := Sample{PCM: pcmFromInt16(src), SampleRate: 16000, BitDepth: 16, Channels: 2}

	out := Resample(s, 16000)
	mono := out.Int16s()
	if len(mono) != 3 {
		t.Fatalf("expected 3 mono samples, got %d", len(mono))
	}
	for i, want := range []int16{100, 200, 300} {
		if mono[i] != want {
			t.Fatalf("sample %d: got %d, want %d", i, mono[i], want)
		}
	}
}

func TestResampleEmpty(t *testing.T) {
	out := Resample(Sample{SampleRate: 44100, BitDepth: 16, Channels: 1}, 16000)
	if len(out.PCM) != 0 || out.SampleRate != 16000 {
		t.Fatalf("unexpected resample of empty sample: %d bytes at %d Hz", len(out.PCM), out.SampleRate)
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	s := Sample{PCM: pcmFromInt16([]int16{0, 1000, -1000, 0}), SampleRate: 16000, BitDepth: 16, Channels: 1}
	data, err := EncodeWAV(s)
	if err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if len(data) < 44 {
		t.Fatalf("wav payload too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}
}

func TestFloatToInt16Clamps(t *testing.T) {
	if floatToInt16(2.0) != 32767 {
		t.Fatalf("expected positive clamp")
	}
	if floatToInt16(-2.0) != -32768 {
		t.Fatalf("expected negative clamp")
	}
	if floatToInt16(0) != 0 {
		t.Fatalf("expected zero")
	}
}

func TestMockCapturer(t *testing.T) {
	c := NewMockCapturer(16000)
	s, err := c.Capture(context.Background(), 15*time.Second)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if s.SampleRate != 16000 || s.BitDepth != 16 || s.Channels != 1 {
		t.Fatalf("unexpected sample format: %+v", s)
	}
	if len(s.PCM) == 0 {
		t.Fatalf("expected non-empty PCM")
	}
}
