//go:build vosk
// +build vosk

package recognize

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/model"
)

// voskDecoder runs utterances through a Kaldi recognizer backed by a
// pre-loaded Vosk model bundle.
type voskDecoder struct {
	model      *vosk.VoskModel
	sampleRate int
	mu         sync.Mutex
}

type voskResult struct {
	Text string `json:"text"`
}

func newVoskDecoder(cfg config.OfflineConfig) (model.Decoder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("offline model path not configured")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("offline model bundle: %w", err)
	}
	vm, err := vosk.NewModel(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model: %w", err)
	}
	return &voskDecoder{model: vm, sampleRate: cfg.SampleRate}, nil
}

// Decode feeds the whole utterance as one waveform. The recognizer
// signals a terminal result either from AcceptWaveform directly or only
// after finalization; the two paths are mutually exclusive for a single
// full-utterance feed, and the accept-waveform result wins when present.
func (d *voskDecoder) Decode(ctx context.Context, sample audio.Sample) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, err := vosk.NewRecognizer(d.model, float64(d.sampleRate))
	if err != nil {
		return "", fmt.Errorf("create vosk recognizer: %w", err)
	}
	defer rec.Free()

	var raw string
	if rec.AcceptWaveform(sample.PCM) != 0 {
		raw = rec.Result()
	} else {
		raw = rec.FinalResult()
	}

	var result voskResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return "", fmt.Errorf("decode vosk result: %w", err)
	}
	return result.Text, nil
}

func (d *voskDecoder) SampleRate() int {
	return d.sampleRate
}

func (d *voskDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.model != nil {
		d.model.Free()
		d.model = nil
	}
	return nil
}
