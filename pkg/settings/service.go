// Package settings stores runtime-tunable settings in SQLite with a
// read-through cache and a change audit. Static deployment config stays in
// the config package; this holds the handful of knobs operators change
// while the service runs.
package settings

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MaskedValue replaces sensitive values in listings.
const MaskedValue = "********"

// Setting is one runtime setting row.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedBy string    `json:"updated_by"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Change is one settings_audit row.
type Change struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

// sensitiveMarkers flag keys whose values never leave the service unmasked.
var sensitiveMarkers = []string{"secret", "password", "token", "api_key", "apikey", "credential"}

// IsSensitive reports whether a settings key holds secret material.
func IsSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// Service is the settings store. Reads hit an in-memory cache first; writes
// update the database, the audit table and the cache under one lock.
type Service struct {
	db     *sql.DB
	logger *zap.Logger

	mu    sync.RWMutex
	cache map[string]Setting
}

// Open opens the SQLite file, applies migrations, and warms the cache.
func Open(dbPath string, logger *zap.Logger) (*Service, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open settings db at %q: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Service{
		db:     db,
		logger: logger.Named("settings"),
		cache:  make(map[string]Setting),
	}
	if err := s.warmCache(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("Settings store opened",
		zap.String("path", dbPath),
		zap.Int("settings", len(s.cache)))
	return s, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load settings migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init settings migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init settings migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply settings migrations: %w", err)
	}
	return nil
}

func (s *Service) warmCache(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_by, updated_at FROM settings`)
	if err != nil {
		return fmt.Errorf("warm settings cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st Setting
		var ts string
		if err := rows.Scan(&st.Key, &st.Value, &st.UpdatedBy, &ts); err != nil {
			return fmt.Errorf("scan setting: %w", err)
		}
		if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return fmt.Errorf("parse setting timestamp: %w", err)
		}
		s.cache[st.Key] = st
	}
	return rows.Err()
}

// Get returns one setting. Sensitive values are returned as stored; callers
// exposing them outward must check IsSensitive first.
func (s *Service) Get(key string) (Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.cache[key]
	if !ok {
		return Setting{}, fmt.Errorf("setting %q: %w", key, apperrors.ErrNotFound)
	}
	return st, nil
}

// GetOr returns the setting value, or fallback when unset.
func (s *Service) GetOr(key, fallback string) string {
	st, err := s.Get(key)
	if err != nil {
		return fallback
	}
	return st.Value
}

// Set writes a setting, records the change in settings_audit, and refreshes
// the cache.
func (s *Service) Set(ctx context.Context, key, value, changedBy string) error {
	if key == "" {
		return fmt.Errorf("set setting: empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cache[key]
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settings tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at`,
		key, value, changedBy, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert setting %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings_audit (key, old_value, new_value, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?)`,
		key, maskIfSensitive(key, old.Value), maskIfSensitive(key, value),
		changedBy, now.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("audit setting %q: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit setting %q: %w", key, err)
	}

	s.cache[key] = Setting{Key: key, Value: value, UpdatedBy: changedBy, UpdatedAt: now}
	s.logger.Info("Setting changed",
		zap.String("key", key),
		zap.String("changed_by", changedBy),
		zap.Bool("sensitive", IsSensitive(key)))
	return nil
}

// List returns every setting sorted by key, with sensitive values masked.
func (s *Service) List() []Setting {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Setting, 0, len(s.cache))
	for _, st := range s.cache {
		if IsSensitive(st.Key) {
			st.Value = MaskedValue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// History returns the change trail for one key, newest first, with
// sensitive values already masked at write time.
func (s *Service) History(ctx context.Context, key string, limit int) ([]Change, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, key, old_value, new_value, changed_by, changed_at
		FROM settings_audit WHERE key = ?
		ORDER BY id DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("read settings history: %w", err)
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var ts string
		if err := rows.Scan(&c.ID, &c.Key, &c.OldValue, &c.NewValue, &c.ChangedBy, &ts); err != nil {
			return nil, fmt.Errorf("scan settings change: %w", err)
		}
		if c.ChangedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse change timestamp: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// Close releases the database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

func maskIfSensitive(key, value string) string {
	if value != "" && IsSensitive(key) {
		return MaskedValue
	}
	return value
}
