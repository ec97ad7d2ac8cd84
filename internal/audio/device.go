package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/MarkKremer/microphone/v2"
	"github.com/gopxl/beep/v2"

	"github.com/phrasewatch/phrasewatch/internal/config"
)

// chunkFrames is the per-read frame count: 32ms at 16kHz.
const chunkFrames = 512

// silenceFloor is the minimum energy threshold so a dead-quiet room does
// not make every breath register as speech.
const silenceFloor = 0.01

type deviceCapturer struct {
	cfg config.CaptureConfig
}

func newDeviceCapturer(cfg config.CaptureConfig) *deviceCapturer {
	return &deviceCapturer{cfg: cfg}
}

// Capture opens the default input device, calibrates against ambient
// noise, then records until the utterance ends or the limit elapses. The
// device is released on every exit path.
func (d *deviceCapturer) Capture(ctx context.Context, limit time.Duration) (Sample, error) {
	if err := microphone.Init(); err != nil {
		return Sample{}, fmt.Errorf("%w: init audio backend: %v", ErrDevice, err)
	}
	defer microphone.Terminate()

	stream, _, err := microphone.OpenDefaultStream(beep.SampleRate(d.cfg.SampleRate), d.cfg.Channels)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: open default input: %v", ErrDevice, err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return Sample{}, fmt.Errorf("%w: start input stream: %v", ErrDevice, err)
	}
	defer stream.Stop()

	threshold, err := d.calibrate(ctx, stream)
	if err != nil {
		return Sample{}, err
	}

	return d.record(ctx, stream, threshold, limit)
}

type frameStream interface {
	Stream(samples [][2]float64) (int, bool)
	Err() error
}

// calibrate listens to ambient noise for the configured window and
// derives the silence energy threshold from its RMS level.
func (d *deviceCapturer) calibrate(ctx context.Context, stream frameStream) (float64, error) {
	buf := make([][2]float64, chunkFrames)
	var sumSquares float64
	var count int

	deadline := time.Now().Add(time.Duration(d.cfg.CalibrationMS) * time.Millisecond)
	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, ok := stream.Stream(buf)
		if !ok {
			return 0, fmt.Errorf("%w: calibration read failed: %v", ErrDevice, stream.Err())
		}
		for i := 0; i < n; i++ {
			for c := 0; c < d.cfg.Channels; c++ {
				v := buf[i][c]
				sumSquares += v * v
				count++
			}
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: no calibration frames received", ErrDevice)
	}

	ambient := math.Sqrt(sumSquares / float64(count))
	threshold := ambient * d.cfg.EnergyFactor
	if threshold < silenceFloor {
		threshold = silenceFloor
	}
	return threshold, nil
}

// record accumulates PCM until trailing silence exceeds the pause
// threshold after speech started, or the time limit elapses.
func (d *deviceCapturer) record(ctx context.Context, stream frameStream, threshold float64, limit time.Duration) (Sample, error) {
	pause := time.Duration(d.cfg.PauseThresholdMS) * time.Millisecond
	chunkDur := time.Duration(chunkFrames) * time.Second / time.Duration(d.cfg.SampleRate)

	buf := make([][2]float64, chunkFrames)
	pcm := make([]byte, 0, int(limit/time.Second+1)*d.cfg.SampleRate*2*d.cfg.Channels)

	var elapsed, silence time.Duration
	var speechSeen bool

	for elapsed < limit {
		if err := ctx.Err(); err != nil {
			return Sample{}, err
		}
		n, ok := stream.Stream(buf)
		if !ok {
			return Sample{}, fmt.Errorf("%w: input stream closed: %v", ErrDevice, stream.Err())
		}
		if n == 0 {
			continue
		}

		var sumSquares float64
		for i := 0; i < n; i++ {
			for c := 0; c < d.cfg.Channels; c++ {
				v := buf[i][c]
				sumSquares += v * v
				pcm = binary.LittleEndian.AppendUint16(pcm, uint16(floatToInt16(v)))
			}
		}
		rms := math.Sqrt(sumSquares / float64(n*d.cfg.Channels))

		dur := time.Duration(n) * chunkDur / chunkFrames
		elapsed += dur
		if rms >= threshold {
			speechSeen = true
			silence = 0
		} else if speechSeen {
			silence += dur
			if silence >= pause {
				break
			}
		}
	}

	return Sample{
		PCM:        pcm,
		SampleRate: d.cfg.SampleRate,
		BitDepth:   16,
		Channels:   d.cfg.Channels,
	}, nil
}

func floatToInt16(v float64) int16 {
	switch {
	case v > 1:
		return math.MaxInt16
	case v < -1:
		return math.MinInt16
	default:
		return int16(v * math.MaxInt16)
	}
}
