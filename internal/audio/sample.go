// Package audio acquires bounded utterances from the microphone and
// carries raw PCM between capture and recognition.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrDevice reports a capture failure: the input device could not be
// acquired, calibration failed, or the stream broke mid-utterance.
var ErrDevice = errors.New("audio device unavailable")

// Sample is one captured utterance: little-endian signed 16-bit PCM plus
// its format metadata. Consumed once by recognition and discarded.
type Sample struct {
	PCM        []byte
	SampleRate int
	BitDepth   int
	Channels   int
}

// Duration reports the playback length of the sample.
func (s Sample) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	frames := len(s.PCM) / 2 / s.Channels
	return time.Duration(frames) * time.Second / time.Duration(s.SampleRate)
}

// Int16s decodes the PCM payload into interleaved int16 samples.
func (s Sample) Int16s() []int16 {
	out := make([]int16, len(s.PCM)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(s.PCM[i*2:]))
	}
	return out
}

// Resample converts the sample to mono at targetRate using linear
// interpolation. Decoders require a fixed rate and width; capture may run
// at whatever the device provides.
func Resample(s Sample, targetRate int) Sample {
	mono := downmix(s)
	if mono.SampleRate == targetRate {
		return mono
	}

	src := mono.Int16s()
	if len(src) == 0 {
		return Sample{SampleRate: targetRate, BitDepth: 16, Channels: 1}
	}

	ratio := float64(mono.SampleRate) / float64(targetRate)
	outLen := int(float64(len(src)) / ratio)
	if outLen < 1 {
		outLen = 1
	}
	out := make([]byte, outLen*2)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		a := src[idx]
		b := a
		if idx+1 < len(src) {
			b = src[idx+1]
		}
		v := int16(float64(a)*(1-frac) + float64(b)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return Sample{PCM: out, SampleRate: targetRate, BitDepth: 16, Channels: 1}
}

func downmix(s Sample) Sample {
	if s.Channels <= 1 {
		out := s
		out.Channels = 1
		out.BitDepth = 16
		return out
	}
	src := s.Int16s()
	frames := len(src) / s.Channels
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < s.Channels; c++ {
			sum += int(src[i*s.Channels+c])
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/s.Channels)))
	}
	return Sample{PCM: out, SampleRate: s.SampleRate, BitDepth: 16, Channels: 1}
}

// WriteWAV encodes the sample as a 16-bit PCM WAV file.
func WriteWAV(file *os.File, s Sample) error {
	if len(s.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: s.Channels, SampleRate: s.SampleRate}}
	samples := make([]int, len(s.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(s.PCM[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, s.SampleRate, 16, s.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// EncodeWAV returns the sample as an in-memory WAV payload. The encoder
// needs a seekable target, so it stages through a temp file.
func EncodeWAV(s Sample) ([]byte, error) {
	file, err := os.CreateTemp("", "phrasewatch_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	name := file.Name()
	defer os.Remove(name)

	if err := WriteWAV(file, s); err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close wav temp file: %w", err)
	}
	return os.ReadFile(name)
}
