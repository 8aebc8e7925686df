// Package sqlstore implements the progress and balance stores on SQL.
// SQLite (modernc, pure Go) backs local and test deployments; Postgres
// (lib/pq) backs shared ones. Both speak the same schema.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"jobeconomy.ai/internal/persistence/store"
)

type Dialect int

const (
	SQLite Dialect = iota + 1
	Postgres
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	default:
		return "unknown"
	}
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var (
	_ store.ProgressStore = (*Store)(nil)
	_ store.BalanceStore  = (*Store)(nil)
)

func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; sqlite serializes anyway and this avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return open(db, SQLite)
}

func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(db, Postgres)
}

func open(db *sql.DB, d Dialect) (*Store, error) {
	s := &Store{db: db, dialect: d, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress (
			actor_id TEXT NOT NULL,
			track_id TEXT NOT NULL,
			level INTEGER NOT NULL,
			experience DOUBLE PRECISION NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (actor_id, track_id)
		);`,
		`CREATE TABLE IF NOT EXISTS balances (
			actor_id TEXT PRIMARY KEY,
			balance DOUBLE PRECISION NOT NULL,
			updated_at BIGINT NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

func (s *Store) stamp() int64 { return s.now().UTC().UnixMilli() }

func (s *Store) Get(ctx context.Context, actorID, trackID string) (store.ActorProgress, error) {
	p := store.ActorProgress{ActorID: actorID, TrackID: trackID}
	var updated int64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT level, experience, updated_at FROM progress WHERE actor_id = ? AND track_id = ?`),
		actorID, trackID).Scan(&p.Level, &p.Experience, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return p, store.ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.UpdatedAt = time.UnixMilli(updated).UTC()
	return p, nil
}

func (s *Store) Upsert(ctx context.Context, p store.ActorProgress) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO progress (actor_id, track_id, level, experience, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (actor_id, track_id) DO UPDATE SET
			level = excluded.level,
			experience = excluded.experience,
			updated_at = excluded.updated_at`),
		p.ActorID, p.TrackID, p.Level, p.Experience, s.stamp())
	return err
}

func (s *Store) ListByActor(ctx context.Context, actorID string) ([]store.ActorProgress, error) {
	return s.listProgress(ctx, `WHERE actor_id = ?`, actorID)
}

// ListProgress returns every record, ordered by actor then track.
func (s *Store) ListProgress(ctx context.Context) ([]store.ActorProgress, error) {
	return s.listProgress(ctx, "")
}

func (s *Store) listProgress(ctx context.Context, where string, args ...any) ([]store.ActorProgress, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT actor_id, track_id, level, experience, updated_at FROM progress `+where+
			` ORDER BY actor_id, track_id`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ActorProgress
	for rows.Next() {
		var p store.ActorProgress
		var updated int64
		if err := rows.Scan(&p.ActorID, &p.TrackID, &p.Level, &p.Experience, &updated); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, actorID, trackID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM progress WHERE actor_id = ? AND track_id = ?`), actorID, trackID)
	return err
}

func (s *Store) Balance(ctx context.Context, actorID string) (float64, error) {
	var b float64
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT balance FROM balances WHERE actor_id = ?`), actorID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return b, err
}

func (s *Store) Add(ctx context.Context, actorID string, delta float64) error {
	if !(delta > 0) || delta >= 1e300 {
		return store.ErrInvalidAmount
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO balances (actor_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (actor_id) DO UPDATE SET
			balance = balances.balance + excluded.balance,
			updated_at = excluded.updated_at`),
		actorID, delta, s.stamp())
	return err
}

func (s *Store) Subtract(ctx context.Context, actorID string, delta float64) error {
	if !(delta > 0) || delta >= 1e300 {
		return store.ErrInvalidAmount
	}
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE balances SET balance = balance - ?, updated_at = ?
		WHERE actor_id = ? AND balance >= ?`),
		delta, s.stamp(), actorID, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrInsufficientFunds
	}
	return nil
}

type BalanceRow struct {
	ActorID   string    `json:"actor_id"`
	Balance   float64   `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TopBalances lists the richest accounts first.
func (s *Store) TopBalances(ctx context.Context, limit int) ([]BalanceRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT actor_id, balance, updated_at FROM balances ORDER BY balance DESC, actor_id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BalanceRow
	for rows.Next() {
		var r BalanceRow
		var updated int64
		if err := rows.Scan(&r.ActorID, &r.Balance, &updated); err != nil {
			return nil, err
		}
		r.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
