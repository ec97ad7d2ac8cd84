// Package recognize turns a captured utterance into text through either
// the online service or the locally loaded offline decoder.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/model"
)

// Mode selects the recognition backend for one cycle. It is passed
// explicitly per call; the engine holds no mode state.
type Mode int

const (
	ModeOnline Mode = iota
	ModeOffline
)

func (m Mode) String() string {
	if m == ModeOffline {
		return config.ModeOffline
	}
	return config.ModeOnline
}

// ParseMode maps the wire/config representation onto Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case config.ModeOnline:
		return ModeOnline, nil
	case config.ModeOffline:
		return ModeOffline, nil
	default:
		return ModeOnline, fmt.Errorf("unknown recognition mode %q", s)
	}
}

// ModelSource yields an atomic view of the offline model lifecycle.
// *model.Loader satisfies it.
type ModelSource interface {
	Snapshot() (model.State, model.Decoder, error)
}

// onlineBackend is the remote service boundary, split out so tests can
// fake the network.
type onlineBackend interface {
	Transcribe(ctx context.Context, sample audio.Sample) (string, error)
}

// Engine routes a finalized utterance to the selected backend and maps
// every outcome onto the package error taxonomy. Empty transcribed text
// is a successful result. The engine never retries.
type Engine struct {
	online onlineBackend
	log    *slog.Logger
}

func NewEngine(cfg config.OnlineConfig, log *slog.Logger) *Engine {
	return &Engine{
		online: newOnlineClient(cfg),
		log:    log.With(slog.String("component", "recognize")),
	}
}

// Recognize transcribes one sample. Offline mode requires a Ready model;
// anything else fails fast with ErrModelNotReady.
func (e *Engine) Recognize(ctx context.Context, sample audio.Sample, mode Mode, models ModelSource) (string, error) {
	switch mode {
	case ModeOffline:
		return e.recognizeOffline(ctx, sample, models)
	case ModeOnline:
		return e.online.Transcribe(ctx, sample)
	default:
		return "", &BackendError{Detail: fmt.Sprintf("unsupported mode %d", mode)}
	}
}

func (e *Engine) recognizeOffline(ctx context.Context, sample audio.Sample, models ModelSource) (string, error) {
	state, decoder, _ := models.Snapshot()
	if state != model.StateReady || decoder == nil {
		return "", ErrModelNotReady
	}

	prepared := audio.Resample(sample, decoder.SampleRate())
	text, err := decoder.Decode(ctx, prepared)
	if err != nil {
		if errors.Is(err, ErrUnintelligible) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &BackendError{Detail: "offline decode failed", Err: err}
	}
	return text, nil
}
