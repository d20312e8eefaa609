package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// SQLite persists settings and history to a SQLite database.
type SQLite struct {
	db  *sql.DB
	mu  sync.Mutex
	log logrus.FieldLogger
}

// NewSQLite opens (or creates) the database and runs migrations.
func NewSQLite(dbPath string, log logrus.FieldLogger) (*SQLite, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.WithField("path", dbPath).Info("sqlite store opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_settings (
			user_id    TEXT    NOT NULL,
			key        TEXT    NOT NULL,
			value      TEXT    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS prescriptions (
			id         TEXT PRIMARY KEY,
			user_id    TEXT    NOT NULL,
			created_at INTEGER NOT NULL,
			amount     TEXT    NOT NULL,
			principal  TEXT    NOT NULL,
			roi        TEXT    NOT NULL,
			tier       TEXT,
			tier_label TEXT,
			mood       TEXT,
			exercise   TEXT,
			advice     TEXT,
			model      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prescriptions_user_ts ON prescriptions(user_id, created_at)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

// Get returns the value for key or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, userID, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM user_settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s/%s: %w", userID, key, err)
	}
	return v, nil
}

// Set upserts a value.
func (s *SQLite) Set(ctx context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO user_settings (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", userID, key, err)
	}
	return nil
}

// RecordPrescription appends a history row.
func (s *SQLite) RecordPrescription(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO prescriptions
		(id, user_id, created_at, amount, principal, roi, tier, tier_label, mood, exercise, advice, model)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.CreatedAt.UnixMilli(),
		rec.Amount.String(), rec.Principal.String(), rec.ROIPercent.String(),
		rec.Tier, rec.TierLabel, rec.Mood, rec.Exercise, rec.Advice, rec.Model)
	if err != nil {
		return fmt.Errorf("insert prescription: %w", err)
	}
	return nil
}

// ListPrescriptions returns a user's history, newest first.
func (s *SQLite) ListPrescriptions(ctx context.Context, userID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, user_id, created_at, amount, principal, roi, tier, tier_label, mood, exercise, advice, model
		FROM prescriptions WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query prescriptions: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r                      Record
			ts                     int64
			amount, principal, roi string
		)
		if err := rows.Scan(&r.ID, &r.UserID, &ts, &amount, &principal, &roi,
			&r.Tier, &r.TierLabel, &r.Mood, &r.Exercise, &r.Advice, &r.Model); err != nil {
			return nil, fmt.Errorf("scan prescription: %w", err)
		}
		r.CreatedAt = time.UnixMilli(ts)
		if r.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("decode amount: %w", err)
		}
		if r.Principal, err = decimal.NewFromString(principal); err != nil {
			return nil, fmt.Errorf("decode principal: %w", err)
		}
		if r.ROIPercent, err = decimal.NewFromString(roi); err != nil {
			return nil, fmt.Errorf("decode roi: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
