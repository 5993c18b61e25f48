// Package duckdb adapts an embedded DuckDB file to the store.QueryExecutor
// interface. This is the default column store for single-node deployments.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

// Config controls the DuckDB connection.
type Config struct {
	// Path is the database file; empty means in-memory.
	Path string
	// MemoryLimitMB caps DuckDB's working memory. Zero leaves the default.
	MemoryLimitMB int
	// Threads caps DuckDB's worker threads. Zero leaves the default.
	Threads int
}

// Store is a DuckDB-backed query executor.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ store.QueryExecutor = (*Store)(nil)

// Open opens or creates the database file and applies resource limits.
func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("duckdb", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb at %q: %w", cfg.Path, err)
	}
	// DuckDB is in-process; a single connection avoids file lock contention.
	db.SetMaxOpenConns(1)

	if cfg.MemoryLimitMB > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%dMB'", cfg.MemoryLimitMB)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set duckdb memory limit: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if _, err := db.Exec(fmt.Sprintf("SET threads=%d", cfg.Threads)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set duckdb threads: %w", err)
		}
	}

	logger = logger.Named("duckdb")
	logger.Info("DuckDB opened",
		zap.String("path", cfg.Path),
		zap.Int("memory_limit_mb", cfg.MemoryLimitMB),
		zap.Int("threads", cfg.Threads))
	return &Store{db: db, logger: logger}, nil
}

// Execute runs one read-only statement. Failures come back classified.
func (s *Store) Execute(ctx context.Context, query string) (*models.ExecutionResult, error) {
	started := time.Now()

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, store.Classify(err)
	}
	defer rows.Close()

	result, err := store.ScanRows(rows, started)
	if err != nil {
		return nil, store.Classify(err)
	}

	s.logger.Debug("Query executed",
		zap.Int("rows", result.RowCount),
		zap.Int64("elapsed_ms", result.ExecutionTimeMS))
	return result, nil
}

// IntrospectCatalog builds the table catalog from information_schema,
// keeping only recognized study datasets.
func (s *Store) IntrospectCatalog(ctx context.Context) (*models.TableCatalog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'main'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("introspect duckdb schema: %w", err)
	}
	defer rows.Close()

	catalog := models.NewTableCatalog()
	byName := make(map[string]*models.TableSchema)

	for rows.Next() {
		var tableName, columnName, dataType string
		if err := rows.Scan(&tableName, &columnName, &dataType); err != nil {
			return nil, fmt.Errorf("scan schema row: %w", err)
		}

		tableType, domain, ok := store.StudyTableInfo(tableName)
		if !ok {
			continue
		}

		table, exists := byName[tableName]
		if !exists {
			table = &models.TableSchema{Name: tableName, Type: tableType, Domain: domain}
			byName[tableName] = table
			catalog.Add(table)
		}
		table.Columns = append(table.Columns, models.ColumnSchema{Name: columnName, Type: dataType})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("introspect duckdb schema: %w", err)
	}

	s.logger.Info("Catalog introspected", zap.Strings("tables", catalog.Names()))
	return catalog, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
