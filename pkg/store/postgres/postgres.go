// Package postgres adapts a PostgreSQL database to the store.QueryExecutor
// interface, for deployments where study data lives in a shared warehouse
// rather than an embedded file.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sage-clinical/sage-engine/pkg/models"
	"github.com/sage-clinical/sage-engine/pkg/store"
)

// Store is a PostgreSQL-backed query executor.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

var _ store.QueryExecutor = (*Store)(nil)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger = logger.Named("postgres")
	logger.Info("PostgreSQL connected")
	return &Store{pool: pool, logger: logger}, nil
}

// Execute runs one read-only statement. Failures come back classified.
func (s *Store) Execute(ctx context.Context, query string) (*models.ExecutionResult, error) {
	started := time.Now()

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	result := &models.ExecutionResult{Columns: make([]string, len(descs))}
	for i, d := range descs {
		result.Columns[i] = d.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, classify(err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	result.Success = true
	result.RowCount = len(result.Rows)
	result.ExecutionTimeMS = time.Since(started).Milliseconds()

	s.logger.Debug("Query executed",
		zap.Int("rows", result.RowCount),
		zap.Int64("elapsed_ms", result.ExecutionTimeMS))
	return result, nil
}

// classify prefers the typed SQLSTATE over message matching.
func classify(err error) *store.ExecError {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return store.Classify(err)
	}

	kind := store.KindOther
	switch pgErr.Code {
	case "42601": // syntax_error
		kind = store.KindSyntax
	case "42P01", "42703", "42883": // undefined table / column / function
		kind = store.KindUnknownIdentifier
	case "57014": // query_canceled
		kind = store.KindTimeout
	case "53200": // out_of_memory
		kind = store.KindOutOfMemory
	case "08000", "08003", "08006": // connection failures
		kind = store.KindConnection
	}
	return &store.ExecError{Kind: kind, Message: pgErr.Message, Cause: err}
}

// IntrospectCatalog builds the table catalog from information_schema,
// keeping only recognized study datasets.
func (s *Store) IntrospectCatalog(ctx context.Context) (*models.TableCatalog, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name, ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("introspect postgres schema: %w", err)
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
		return nil, fmt.Errorf("introspect postgres schema: %w", err)
	}

	s.logger.Info("Catalog introspected", zap.Strings("tables", catalog.Names()))
	return catalog, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
