package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeralIsNoOp(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	if err := es.RecordCycle(ctx, CycleRecord{Seq: 1, EventType: "cycle.completed"}); err != nil {
		t.Fatalf("record on ephemeral store: %v", err)
	}
	records, err := es.ListRecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("list on ephemeral store: %v", err)
	}
	if records != nil {
		t.Fatalf("ephemeral store should retain nothing, got %v", records)
	}
}

func TestRecordAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{Path: filepath.Join(tmp, "audit.db"), RetentionMode: "persistent"}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	rec := CycleRecord{
		Seq:       1,
		EventType: "cycle.completed",
		Mode:      "online",
		Phrases:   []string{"safety reset", "start"},
	}
	if err := es.RecordCycle(context.Background(), rec); err != nil {
		t.Fatalf("record cycle: %v", err)
	}
	if err := es.RecordCycle(context.Background(), CycleRecord{
		EventType:   "cycle.failed",
		Mode:        "offline",
		FailureKind: "model-not-ready",
	}); err != nil {
		t.Fatalf("record failed cycle: %v", err)
	}

	records, err := es.ListRecentCycles(context.Background(), 10)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	// Newest first.
	if records[0].EventType != "cycle.failed" || records[0].FailureKind != "model-not-ready" {
		t.Fatalf("unexpected newest record: %+v", records[0])
	}
	if records[1].Seq != 1 || len(records[1].Phrases) != 2 || records[1].Phrases[0] != "safety reset" {
		t.Fatalf("unexpected completed record: %+v", records[1])
	}

	n, err := es.CountPhrase(context.Background(), "Safety Reset")
	if err != nil {
		t.Fatalf("count phrase: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 detection, got %d", n)
	}
}

func TestPruneByDaysAndMaxCycles(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.EventStoreConfig{
		Path:          filepath.Join(tmp, "audit.db"),
		RetentionMode: "persistent",
		RetentionDays: 1,
		MaxCycles:     1,
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })

	es.clock = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordCycle(context.Background(), CycleRecord{Seq: 1, EventType: "cycle.completed", Phrases: []string{"stop"}}); err != nil {
		t.Fatalf("record old cycle: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.RecordCycle(context.Background(), CycleRecord{Seq: 2, EventType: "cycle.completed"}); err != nil {
		t.Fatalf("record new cycle: %v", err)
	}
	if err := es.Prune(context.Background()); err != nil {
		t.Fatalf("prune: %v", err)
	}

	records, err := es.ListRecentCycles(context.Background(), 10)
	if err != nil {
		t.Fatalf("list cycles: %v", err)
	}
	if len(records) != 1 || records[0].Seq != 2 {
		t.Fatalf("expected only the new cycle to remain, got %+v", records)
	}

	// Cascade removed the old cycle's detections too.
	n, err := es.CountPhrase(context.Background(), "stop")
	if err != nil {
		t.Fatalf("count phrase: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected detections pruned with their cycle, got %d", n)
	}
}
