package audit

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sage-clinical/sage-engine/pkg/apperrors"
	"github.com/sage-clinical/sage-engine/pkg/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config controls the audit store.
type Config struct {
	DBPath          string
	ChecksumEnabled bool
	SignatureSecret string
	RetentionDays   int
}

// Filter narrows List queries. Zero fields match everything.
type Filter struct {
	UserID string
	Action string
	Status string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Store is the append-only audit trail. Records are inserted once and never
// updated; integrity checks re-derive the stored checksum.
type Store struct {
	db     *sql.DB
	cfg    Config
	logger *zap.Logger
}

// Open opens the SQLite file, applies migrations, and returns the store.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db at %q: %w", cfg.DBPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logger = logger.Named("audit")
	logger.Info("Audit store opened",
		zap.String("path", cfg.DBPath),
		zap.Bool("checksums", cfg.ChecksumEnabled),
		zap.Int("retention_days", cfg.RetentionDays))
	return &Store{db: db, cfg: cfg, logger: logger}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load audit migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init audit migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init audit migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply audit migrations: %w", err)
	}
	return nil
}

// Record inserts one audit event. ID and timestamp are assigned when unset;
// the checksum is computed at insert time and never recomputed on update
// because updates do not exist.
func (s *Store) Record(ctx context.Context, e *models.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if s.cfg.ChecksumEnabled {
		e.Checksum = ComputeChecksum(e)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs
			(id, timestamp, user_id, username, action, resource_type, resource_id,
			 status, ip, method, path, request_body, response_status, duration_ms, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(), e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.UserID, e.Username, e.Action, e.ResourceType, e.ResourceID,
		e.Status, e.IP, e.Method, e.Path, e.RequestBody, e.ResponseStatus,
		e.DurationMS, e.Checksum)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// RecordQueryDetail attaches query provenance to an audit event.
func (s *Store) RecordQueryDetail(ctx context.Context, d *models.QueryAuditDetail) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_audit_details
			(audit_id, question, prompt, sql_text, confidence_json,
			 tables_accessed, columns_accessed, row_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.AuditID.String(), d.Question, d.Prompt, d.SQL, d.ConfidenceJSON,
		d.TablesAccessed, d.ColumnsAccessed, d.RowCount)
	if err != nil {
		return fmt.Errorf("insert query audit detail: %w", err)
	}
	return nil
}

const eventColumns = `id, timestamp, user_id, username, action, resource_type, resource_id,
	status, ip, method, path, request_body, response_status, duration_ms, checksum`

// Get returns one event by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM audit_logs WHERE id = ?`, id.String())
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit event %s: %w", id, apperrors.ErrNotFound)
	}
	return e, err
}

// List returns events matching the filter, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]*models.AuditEvent, error) {
	var conds []string
	var args []any
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, f.Action)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.From.UTC().Format(time.RFC3339Nano))
	}
	if !f.To.IsZero() {
		conds = append(conds, "timestamp <= ?")
		args = append(args, f.To.UTC().Format(time.RFC3339Nano))
	}

	query := `SELECT ` + eventColumns + ` FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp DESC"

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// QueryDetail returns the provenance record for an audit event.
func (s *Store) QueryDetail(ctx context.Context, auditID uuid.UUID) (*models.QueryAuditDetail, error) {
	d := &models.QueryAuditDetail{}
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT audit_id, question, prompt, sql_text, confidence_json,
		       tables_accessed, columns_accessed, row_count
		FROM query_audit_details WHERE audit_id = ?`, auditID.String()).
		Scan(&id, &d.Question, &d.Prompt, &d.SQL, &d.ConfidenceJSON,
			&d.TablesAccessed, &d.ColumnsAccessed, &d.RowCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query detail for %s: %w", auditID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read query audit detail: %w", err)
	}
	d.AuditID, err = uuid.Parse(id)
	return d, err
}

// VerifyIntegrity re-derives the checksum of a stored event and reports
// whether it still matches.
func (s *Store) VerifyIntegrity(ctx context.Context, id uuid.UUID) (*models.IntegrityReport, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &models.IntegrityReport{AuditID: id}
	switch {
	case e.Checksum == "":
		report.Reason = "no checksum stored"
	case ComputeChecksum(e) == e.Checksum:
		report.IntegrityValid = true
	default:
		report.Reason = "checksum mismatch: record was modified after insertion"
	}
	return report, nil
}

// VerifyRange checks every event matching the filter and returns one report
// per event.
func (s *Store) VerifyRange(ctx context.Context, f Filter) ([]*models.IntegrityReport, error) {
	events, err := s.List(ctx, f)
	if err != nil {
		return nil, err
	}

	reports := make([]*models.IntegrityReport, 0, len(events))
	for _, e := range events {
		report := &models.IntegrityReport{AuditID: e.ID}
		switch {
		case e.Checksum == "":
			report.Reason = "no checksum stored"
		case ComputeChecksum(e) == e.Checksum:
			report.IntegrityValid = true
		default:
			report.Reason = "checksum mismatch: record was modified after insertion"
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Sign attaches an electronic signature to an audit event.
func (s *Store) Sign(ctx context.Context, auditID uuid.UUID, signer, meaning string) (*models.ElectronicSignature, error) {
	if _, err := s.Get(ctx, auditID); err != nil {
		return nil, err
	}

	sig := &models.ElectronicSignature{
		ID:        uuid.New(),
		AuditID:   auditID,
		Signer:    signer,
		Meaning:   meaning,
		Timestamp: time.Now().UTC(),
	}
	sig.HMAC = ComputeSignatureHMAC(s.cfg.SignatureSecret, sig.Signer, sig.Meaning, sig.Timestamp)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO electronic_signatures (id, audit_id, signer, meaning, timestamp, hmac)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID.String(), sig.AuditID.String(), sig.Signer, sig.Meaning,
		sig.Timestamp.Format(time.RFC3339Nano), sig.HMAC)
	if err != nil {
		return nil, fmt.Errorf("insert signature: %w", err)
	}

	s.logger.Info("Audit event signed",
		zap.String("audit_id", auditID.String()),
		zap.String("signer", signer),
		zap.String("meaning", meaning))
	return sig, nil
}

// Signatures lists the signatures attached to an audit event.
func (s *Store) Signatures(ctx context.Context, auditID uuid.UUID) ([]*models.ElectronicSignature, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, signer, meaning, timestamp, hmac
		FROM electronic_signatures WHERE audit_id = ? ORDER BY timestamp`, auditID.String())
	if err != nil {
		return nil, fmt.Errorf("list signatures: %w", err)
	}
	defer rows.Close()

	var sigs []*models.ElectronicSignature
	for rows.Next() {
		sig := &models.ElectronicSignature{}
		var id, aid, ts string
		if err := rows.Scan(&id, &aid, &sig.Signer, &sig.Meaning, &ts, &sig.HMAC); err != nil {
			return nil, fmt.Errorf("scan signature: %w", err)
		}
		if sig.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if sig.AuditID, err = uuid.Parse(aid); err != nil {
			return nil, err
		}
		if sig.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, err
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

// VerifySignature re-derives a signature's HMAC. Returns
// apperrors.ErrSignatureMismatch when it no longer matches.
func (s *Store) VerifySignature(ctx context.Context, auditID, sigID uuid.UUID) error {
	sigs, err := s.Signatures(ctx, auditID)
	if err != nil {
		return err
	}
	for _, sig := range sigs {
		if sig.ID != sigID {
			continue
		}
		if !SignatureValid(s.cfg.SignatureSecret, sig) {
			return apperrors.ErrSignatureMismatch
		}
		return nil
	}
	return fmt.Errorf("signature %s: %w", sigID, apperrors.ErrNotFound)
}

// PurgeExpired deletes events older than the retention window. Retention of
// zero disables purging.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.RetentionDays).Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_logs WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("Expired audit events purged", zap.Int64("count", n))
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.AuditEvent, error) {
	e := &models.AuditEvent{}
	var id, ts string
	err := row.Scan(&id, &ts, &e.UserID, &e.Username, &e.Action, &e.ResourceType,
		&e.ResourceID, &e.Status, &e.IP, &e.Method, &e.Path, &e.RequestBody,
		&e.ResponseStatus, &e.DurationMS, &e.Checksum)
	if err != nil {
		return nil, err
	}
	if e.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse audit id: %w", err)
	}
	if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
		return nil, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return e, nil
}
