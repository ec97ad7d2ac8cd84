// Package model owns the lazily-loaded offline decoder and its lifecycle
// state. The state and the decoder handle live in one atomically-swapped
// snapshot so readiness and the handle can never disagree.
package model

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/phrasewatch/phrasewatch/internal/audio"
)

// State tracks the offline model lifecycle. Transitions are strictly
// forward: NotRequested → Loading → Ready or Failed, never back.
type State int

const (
	StateNotRequested State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotRequested:
		return "not-requested"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Decoder is a loaded offline speech decoder. Decode runs one finalized
// utterance through the model and returns the best-guess text.
type Decoder interface {
	Decode(ctx context.Context, sample audio.Sample) (string, error)
	SampleRate() int
	Close() error
}

// Factory constructs the decoder. It is expected to be slow (reads a
// multi-gigabyte model bundle) and is invoked exactly once, off the
// caller's goroutine.
type Factory func() (Decoder, error)

// StatusSink receives persistent status lines about model availability.
// Publications are best effort and never affect the load outcome.
type StatusSink interface {
	PublishPersistentStatus(message string)
}

type snapshot struct {
	state   State
	decoder Decoder
	err     error
}

// Loader loads the offline model once, in the background.
type Loader struct {
	factory Factory
	sink    StatusSink
	log     *slog.Logger

	once sync.Once
	snap atomic.Value // snapshot

	loadDuration metric.Float64Histogram
}

func NewLoader(factory Factory, sink StatusSink, log *slog.Logger) *Loader {
	l := &Loader{
		factory: factory,
		sink:    sink,
		log:     log.With(slog.String("component", "model-loader")),
	}
	l.snap.Store(snapshot{state: StateNotRequested})

	meter := otel.Meter("github.com/phrasewatch/phrasewatch/internal/model")
	l.loadDuration, _ = meter.Float64Histogram("phrasewatch.model.load_duration_seconds")

	return l
}

// BeginLoad starts the background load. Subsequent calls are no-ops
// regardless of the current state.
func (l *Loader) BeginLoad() {
	l.once.Do(func() {
		l.snap.Store(snapshot{state: StateLoading})
		l.notify("Loading offline voice recognition model...")
		go l.load()
	})
}

func (l *Loader) load() {
	start := time.Now()
	decoder, err := l.factory()
	outcome := "ready"
	if err != nil {
		outcome = "failed"
	}
	l.loadDuration.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))

	if err != nil {
		l.snap.Store(snapshot{state: StateFailed, err: err})
		l.log.Warn("offline model load failed", slog.String("error", err.Error()))
		l.notify("Error loading offline model: " + err.Error())
		return
	}
	l.snap.Store(snapshot{state: StateReady, decoder: decoder})
	l.log.Info("offline model loaded",
		slog.Duration("duration", time.Since(start)),
		slog.Int("sample_rate", decoder.SampleRate()))
	l.notify("Offline loaded | Online available")
}

// Snapshot returns the state, the decoder handle (nil unless Ready), and
// the load error (nil unless Failed) as one consistent read.
func (l *Loader) Snapshot() (State, Decoder, error) {
	s := l.snap.Load().(snapshot)
	return s.state, s.decoder, s.err
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	s, _, _ := l.Snapshot()
	return s
}

// Ready reports whether offline recognition is usable.
func (l *Loader) Ready() bool {
	return l.State() == StateReady
}

// Close releases the decoder if one was loaded.
func (l *Loader) Close() error {
	_, decoder, _ := l.Snapshot()
	if decoder != nil {
		return decoder.Close()
	}
	return nil
}

func (l *Loader) notify(message string) {
	if l.sink == nil {
		return
	}
	l.sink.PublishPersistentStatus(message)
}
