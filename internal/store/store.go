// Package store provides PostgreSQL-backed persistence for security modes,
// violation records, the moderation action audit log, and the message
// backlog consumed by the batch sweep. Schema setup runs through embedded
// migrations at startup.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/flushguard/engine/internal/enforce"
	"github.com/flushguard/engine/internal/ledger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Open connects to PostgreSQL and applies pending migrations.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("store: migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migrate up: %w", err)
	}
	return nil
}

// Store wraps the database handle.
type Store struct {
	db *sql.DB
}

// New creates a Store backed by the given database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// LoadRecord reads one violation record. found is false when the user has
// no history in the chat.
func (s *Store) LoadRecord(ctx context.Context, chatID, userID int64) (ledger.Record, bool, error) {
	const query = `
		SELECT violation_count, tier, temp_bans, COALESCE(last_violation, 'epoch'::timestamptz)
		FROM violation_records
		WHERE chat_id = $1 AND user_id = $2`

	rec := ledger.Record{ChatID: chatID, UserID: userID}
	var tier string
	err := s.db.QueryRowContext(ctx, query, chatID, userID).
		Scan(&rec.Count, &tier, &rec.TempBans, &rec.LastViolation)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, fmt.Errorf("store: load record: %w", err)
	}
	rec.Tier = enforce.ParseTier(tier)
	return rec, true, nil
}

// SaveRecord upserts one violation record.
func (s *Store) SaveRecord(ctx context.Context, rec ledger.Record) error {
	const query = `
		INSERT INTO violation_records (chat_id, user_id, violation_count, tier, temp_bans, last_violation, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 'epoch'::timestamptz), NOW())
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			violation_count = EXCLUDED.violation_count,
			tier = EXCLUDED.tier,
			temp_bans = EXCLUDED.temp_bans,
			last_violation = EXCLUDED.last_violation,
			updated_at = NOW()`

	last := rec.LastViolation
	if last.IsZero() {
		last = time.Unix(0, 0).UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ChatID, rec.UserID, rec.Count, rec.Tier.String(), rec.TempBans, last)
	if err != nil {
		return fmt.Errorf("store: save record: %w", err)
	}
	return nil
}

// LoadMode reads a chat's stored security mode. found is false when the
// chat has never been configured.
func (s *Store) LoadMode(ctx context.Context, chatID int64) (enforce.Mode, bool, error) {
	const query = `SELECT mode FROM security_modes WHERE chat_id = $1`

	var raw string
	err := s.db.QueryRowContext(ctx, query, chatID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: load mode: %w", err)
	}
	mode, err := enforce.ParseMode(raw)
	if err != nil {
		// The CHECK constraint should make this unreachable; fall back
		// to the default rather than failing the read.
		return enforce.DefaultMode, true, nil
	}
	return mode, true, nil
}

// SaveMode upserts a chat's security mode.
func (s *Store) SaveMode(ctx context.Context, chatID int64, mode enforce.Mode) error {
	const query = `
		INSERT INTO security_modes (chat_id, mode, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chat_id) DO UPDATE SET mode = EXCLUDED.mode, updated_at = NOW()`

	if _, err := s.db.ExecContext(ctx, query, chatID, string(mode)); err != nil {
		return fmt.Errorf("store: save mode: %w", err)
	}
	return nil
}

// ActionEntry is one row in the moderation audit log.
type ActionEntry struct {
	EventID   string
	ChatID    int64
	UserID    int64
	MessageID int64
	Category  string
	Severity  string
	Source    string
	Action    string
	Duration  time.Duration
	Reason    string
}

// AppendAction records an issued enforcement action for auditing and stats.
func (s *Store) AppendAction(ctx context.Context, e ActionEntry) error {
	const query = `
		INSERT INTO moderation_actions (event_id, chat_id, user_id, message_id, category, severity, source, action, duration_s, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		e.EventID, e.ChatID, e.UserID, e.MessageID, e.Category, e.Severity,
		e.Source, e.Action, int64(e.Duration.Seconds()), e.Reason)
	if err != nil {
		return fmt.Errorf("store: append action: %w", err)
	}
	return nil
}

// ChatStats aggregates per-chat counters for the stats query surface.
type ChatStats struct {
	ViolationCounts map[string]int64 // by category
	ActionCounts    map[string]int64 // by action kind
}

// Stats returns violation and action counts for one chat.
func (s *Store) Stats(ctx context.Context, chatID int64) (ChatStats, error) {
	stats := ChatStats{
		ViolationCounts: make(map[string]int64),
		ActionCounts:    make(map[string]int64),
	}

	const query = `
		SELECT category, action, COUNT(*)
		FROM moderation_actions
		WHERE chat_id = $1
		GROUP BY category, action`

	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return stats, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category, action string
		var count int64
		if err := rows.Scan(&category, &action, &count); err != nil {
			return stats, fmt.Errorf("store: stats scan: %w", err)
		}
		if category != "none" {
			stats.ViolationCounts[category] += count
		}
		stats.ActionCounts[action] += count
	}
	return stats, rows.Err()
}

// BacklogMessage is one unanalyzed message awaiting the batch sweep.
type BacklogMessage struct {
	ID        int64
	ChatID    int64
	UserID    int64
	MessageID int64
	Body      string
	SentAt    time.Time
}

// EnqueueBacklog stores a message for later sweep analysis.
func (s *Store) EnqueueBacklog(ctx context.Context, m BacklogMessage) error {
	const query = `
		INSERT INTO message_backlog (chat_id, user_id, message_id, body, sent_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.db.ExecContext(ctx, query, m.ChatID, m.UserID, m.MessageID, m.Body, m.SentAt)
	if err != nil {
		return fmt.Errorf("store: enqueue backlog: %w", err)
	}
	return nil
}

// ClaimBacklog atomically claims up to limit unanalyzed messages older than
// minAge. Claimed rows are invisible to concurrent sweepers; SKIP LOCKED
// keeps claimers from serializing on each other.
func (s *Store) ClaimBacklog(ctx context.Context, minAge time.Duration, limit int) ([]BacklogMessage, error) {
	const query = `
		UPDATE message_backlog SET claimed_at = NOW()
		WHERE id IN (
			SELECT id FROM message_backlog
			WHERE NOT analyzed
			  AND claimed_at IS NULL
			  AND enqueued_at <= NOW() - $1::interval
			ORDER BY enqueued_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, chat_id, user_id, message_id, body, sent_at`

	rows, err := s.db.QueryContext(ctx, query, minAge.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("store: claim backlog: %w", err)
	}
	defer rows.Close()

	var batch []BacklogMessage
	for rows.Next() {
		var m BacklogMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.UserID, &m.MessageID, &m.Body, &m.SentAt); err != nil {
			return nil, fmt.Errorf("store: claim scan: %w", err)
		}
		batch = append(batch, m)
	}
	return batch, rows.Err()
}

// MarkAnalyzed completes claimed backlog rows.
func (s *Store) MarkAnalyzed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const query = `UPDATE message_backlog SET analyzed = TRUE WHERE id = ANY($1)`
	if _, err := s.db.ExecContext(ctx, query, pq.Array(ids)); err != nil {
		return fmt.Errorf("store: mark analyzed: %w", err)
	}
	return nil
}

// ReleaseStaleClaims requeues rows claimed longer than maxHold ago, so a
// sweeper that died mid-batch loses no backlog position.
func (s *Store) ReleaseStaleClaims(ctx context.Context, maxHold time.Duration) (int64, error) {
	const query = `
		UPDATE message_backlog SET claimed_at = NULL
		WHERE NOT analyzed
		  AND claimed_at IS NOT NULL
		  AND claimed_at <= NOW() - $1::interval`

	res, err := s.db.ExecContext(ctx, query, maxHold.String())
	if err != nil {
		return 0, fmt.Errorf("store: release claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
