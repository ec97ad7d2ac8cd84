package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/phrasewatch/phrasewatch/internal/config"
	_ "modernc.org/sqlite"
)

// CycleRecord is the audit row for one finished capture/recognition
// cycle. It records the outcome and any detected phrases, never the
// transcript text itself.
type CycleRecord struct {
	ID          int64
	Seq         uint64
	EventType   string
	Mode        string
	FailureKind string
	Phrases     []string
	CreatedAt   time.Time
}

// Store wraps a SQLite-backed cycle audit log. In ephemeral retention
// mode it holds no database and every write is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the audit store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("audit store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("audit store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS cycles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    seq INTEGER,
    event_type TEXT NOT NULL,
    mode TEXT,
    failure_kind TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS detections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id INTEGER NOT NULL,
    phrase TEXT NOT NULL,
    FOREIGN KEY(cycle_id) REFERENCES cycles(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cycles_created ON cycles(created_at);
CREATE INDEX IF NOT EXISTS idx_detections_cycle ON detections(cycle_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordCycle writes one cycle outcome plus its detections.
func (s *Store) RecordCycle(ctx context.Context, rec CycleRecord) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO cycles(seq, event_type, mode, failure_kind, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		rec.Seq, rec.EventType, rec.Mode, rec.FailureKind, rec.CreatedAt)
	if err != nil {
		return err
	}
	cycleID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, phrase := range rec.Phrases {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO detections(cycle_id, phrase) VALUES(?, ?)`, cycleID, phrase); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ListRecentCycles retrieves up to limit cycle records ordered newest
// first, with their detections attached.
func (s *Store) ListRecentCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, event_type, mode, failure_kind, created_at
		 FROM cycles ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		var rec CycleRecord
		var created string
		if err := rows.Scan(&rec.ID, &rec.Seq, &rec.EventType, &rec.Mode, &rec.FailureKind, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			rec.CreatedAt = ts
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		phrases, err := s.listDetections(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Phrases = phrases
	}
	return records, nil
}

func (s *Store) listDetections(ctx context.Context, cycleID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT phrase FROM detections WHERE cycle_id = ? ORDER BY id ASC`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		phrases = append(phrases, p)
	}
	return phrases, rows.Err()
}

// CountPhrase reports how many times a phrase has been detected across
// retained cycles. Phrase comparison is case-insensitive.
func (s *Store) CountPhrase(ctx context.Context, phrase string) (int64, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return 0, nil
	}
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM detections WHERE LOWER(phrase) = ?`,
		strings.ToLower(phrase)).Scan(&n)
	return n, err
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxCycles > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM cycles WHERE id IN (
			SELECT id FROM cycles ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxCycles)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
