// Package session orchestrates one listen-transcribe-extract cycle on a
// background goroutine, publishing every observable effect as a message
// rather than calling the presentation layer directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/phrasewatch/phrasewatch/internal/audio"
	"github.com/phrasewatch/phrasewatch/internal/config"
	"github.com/phrasewatch/phrasewatch/internal/match"
	"github.com/phrasewatch/phrasewatch/internal/protocol"
	"github.com/phrasewatch/phrasewatch/internal/recognize"
)

// Phase is the controller's cycle state. Only Idle accepts a new cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseRecognizing
	PhaseExtracting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseRecognizing:
		return "recognizing"
	case PhaseExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// Failure kinds recorded in the audit log.
const (
	FailureDevice             = "device"
	FailureModelNotReady      = "model-not-ready"
	FailureServiceUnavailable = "service-unavailable"
	FailureUnintelligible     = "unintelligible"
	FailureBackend            = "backend"
)

// Sink receives everything the presentation layer may render. The bus
// client satisfies it in production; tests record into fakes.
type Sink interface {
	PublishEphemeralStatus(severity, message string, busy bool)
	PublishTranscript(entry protocol.TranscriptEntry) error
	PublishKeyPhrases(report protocol.KeyPhraseReport) error
}

// Recognizer is the recognition boundary; *recognize.Engine satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, sample audio.Sample, mode recognize.Mode, models recognize.ModelSource) (string, error)
}

// CycleEvent is the audit record for one finished cycle. It carries no
// transcript text.
type CycleEvent struct {
	Seq         uint64
	EventType   string // cycle.completed, cycle.failed
	Mode        string
	FailureKind string
	Phrases     []string
}

// Auditor persists cycle outcomes. May be nil.
type Auditor interface {
	RecordCycle(ctx context.Context, evt CycleEvent) error
}

// Controller guarantees at most one capture/recognition cycle in flight.
// Mode and phrase input are snapshotted when a cycle starts; updates
// apply to the next cycle.
type Controller struct {
	capturer audio.Capturer
	engine   Recognizer
	models   recognize.ModelSource
	sink     Sink
	audit    Auditor
	log      *slog.Logger

	defaultPhrase string
	timeLimit     time.Duration

	mode     atomic.Int32
	phraseMu sync.Mutex
	phrases  string

	phase atomic.Int32
	seq   atomic.Uint64
	wg    sync.WaitGroup

	cyclesStarted metric.Int64Counter
	cyclesFailed  metric.Int64Counter
	matchesFound  metric.Int64Counter
	cycleDuration metric.Float64Histogram
}

func NewController(
	capturer audio.Capturer,
	engine Recognizer,
	models recognize.ModelSource,
	sink Sink,
	audit Auditor,
	cfg config.Config,
	log *slog.Logger,
) *Controller {
	c := &Controller{
		capturer:      capturer,
		engine:        engine,
		models:        models,
		sink:          sink,
		audit:         audit,
		log:           log.With(slog.String("component", "session")),
		defaultPhrase: cfg.Phrases.Default,
		timeLimit:     time.Duration(cfg.Capture.TimeLimitS) * time.Second,
		phrases:       cfg.Phrases.Targets,
	}
	if mode, err := recognize.ParseMode(cfg.Recognition.Mode); err == nil {
		c.mode.Store(int32(mode))
	}

	meter := otel.Meter("github.com/phrasewatch/phrasewatch/internal/session")
	c.cyclesStarted, _ = meter.Int64Counter("phrasewatch.cycles.started")
	c.cyclesFailed, _ = meter.Int64Counter("phrasewatch.cycles.failed")
	c.matchesFound, _ = meter.Int64Counter("phrasewatch.phrases.matched")
	c.cycleDuration, _ = meter.Float64Histogram("phrasewatch.cycle.duration_seconds")

	return c
}

// SetMode switches the backend for subsequent cycles.
func (c *Controller) SetMode(mode recognize.Mode) {
	c.mode.Store(int32(mode))
}

// Mode returns the backend selection for the next cycle.
func (c *Controller) Mode() recognize.Mode {
	return recognize.Mode(c.mode.Load())
}

// SetPhraseInput replaces the comma-separated target phrase input.
func (c *Controller) SetPhraseInput(raw string) {
	c.phraseMu.Lock()
	c.phrases = raw
	c.phraseMu.Unlock()
}

// PhraseInput returns the current raw phrase input.
func (c *Controller) PhraseInput() string {
	c.phraseMu.Lock()
	defer c.phraseMu.Unlock()
	return c.phrases
}

// Phase reports the controller's current cycle phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// StartCycle begins one cycle on a background goroutine. It reports
// false, and does nothing, unless the controller is Idle.
func (c *Controller) StartCycle() bool {
	if !c.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseCapturing)) {
		c.log.Debug("cycle rejected, not idle", slog.String("phase", c.Phase().String()))
		return false
	}

	mode := c.Mode()
	targets := match.ParseTargets(c.PhraseInput(), c.defaultPhrase)

	c.wg.Add(1)
	go c.runCycle(mode, targets)
	return true
}

// Close waits for an in-flight cycle to finish.
func (c *Controller) Close() {
	c.wg.Wait()
}

func (c *Controller) runCycle(mode recognize.Mode, targets []string) {
	defer c.wg.Done()

	ctx := context.Background()
	start := time.Now()
	terminal := false
	defer func() {
		// The busy indicator must clear on every exit path. Normal paths
		// publish their own terminal status; anything else gets a generic
		// one here.
		if !terminal {
			c.sink.PublishEphemeralStatus(protocol.SeverityError, "Error: cycle aborted", false)
		}
		c.phase.Store(int32(PhaseIdle))
	}()

	c.cyclesStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode.String())))
	c.sink.PublishEphemeralStatus(protocol.SeverityInfo, "Listening...", true)

	sample, err := c.capturer.Capture(ctx, c.timeLimit)
	if err != nil {
		c.fail(ctx, mode, err)
		terminal = true
		return
	}

	c.phase.Store(int32(PhaseRecognizing))
	c.sink.PublishEphemeralStatus(protocol.SeverityInfo, "Transcribing...", true)

	text, err := c.engine.Recognize(ctx, sample, mode, c.models)
	if err != nil {
		c.fail(ctx, mode, err)
		terminal = true
		return
	}

	c.phase.Store(int32(PhaseExtracting))

	seq := c.seq.Add(1)
	now := time.Now().UTC()
	entry := protocol.TranscriptEntry{Seq: seq, Text: text, Mode: mode.String(), Timestamp: now}
	if err := c.sink.PublishTranscript(entry); err != nil {
		c.log.Warn("failed to publish transcript entry", slog.String("error", err.Error()))
	}

	phrases := match.Match(text, targets)
	report := protocol.KeyPhraseReport{
		Seq:       seq,
		Phrases:   phrases,
		Line:      FormatReport(phrases),
		Timestamp: time.Now().UTC(),
	}
	if err := c.sink.PublishKeyPhrases(report); err != nil {
		c.log.Warn("failed to publish key phrase report", slog.String("error", err.Error()))
	}

	c.sink.PublishEphemeralStatus(protocol.SeveritySuccess, "Transcription successful", false)
	terminal = true

	c.matchesFound.Add(ctx, int64(len(phrases)), metric.WithAttributes(attribute.String("mode", mode.String())))
	c.cycleDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("mode", mode.String())))
	c.record(ctx, CycleEvent{Seq: seq, EventType: "cycle.completed", Mode: mode.String(), Phrases: phrases})
}

// fail converts one cycle error into exactly one ephemeral status
// publication and an audit record. No transcript is appended.
func (c *Controller) fail(ctx context.Context, mode recognize.Mode, err error) {
	kind, message := classify(err)
	c.log.Warn("cycle failed",
		slog.String("mode", mode.String()),
		slog.String("kind", kind),
		slog.String("error", err.Error()))
	c.sink.PublishEphemeralStatus(protocol.SeverityError, message, false)
	c.cyclesFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode.String()),
		attribute.String("kind", kind)))
	c.record(ctx, CycleEvent{EventType: "cycle.failed", Mode: mode.String(), FailureKind: kind})
}

func (c *Controller) record(ctx context.Context, evt CycleEvent) {
	if c.audit == nil {
		return
	}
	if err := c.audit.RecordCycle(ctx, evt); err != nil {
		c.log.Warn("failed to record cycle event", slog.String("error", err.Error()))
	}
}

func classify(err error) (kind, message string) {
	switch {
	case errors.Is(err, audio.ErrDevice):
		return FailureDevice, "Microphone unavailable"
	case errors.Is(err, recognize.ErrModelNotReady):
		return FailureModelNotReady, "Offline model not loaded yet"
	case errors.Is(err, recognize.ErrServiceUnavailable):
		return FailureServiceUnavailable, "API unavailable"
	case errors.Is(err, recognize.ErrUnintelligible):
		return FailureUnintelligible, "Could not understand audio"
	default:
		return FailureBackend, "Error: " + err.Error()
	}
}

// FormatReport renders the key-phrase sink line for one cycle.
func FormatReport(phrases []string) string {
	if len(phrases) == 0 {
		return "No key phrases detected."
	}
	return "Key Phrases: " + strings.Join(phrases, ", ")
}
