// Package store abstracts the study column store. The pipeline talks to a
// QueryExecutor and never to a driver; adapters for DuckDB and PostgreSQL
// live in subpackages.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sage-clinical/sage-engine/pkg/models"
)

// QueryExecutor runs validated read-only SQL against the study data.
// Execute honors ctx cancellation and deadlines; implementations classify
// driver failures into ExecError so the pipeline can decide whether a
// self-correction round is worthwhile.
type QueryExecutor interface {
	Execute(ctx context.Context, query string) (*models.ExecutionResult, error)

	// IntrospectCatalog reads the live table schemas. Returns an empty
	// catalog when the store holds no recognized study tables.
	IntrospectCatalog(ctx context.Context) (*models.TableCatalog, error)

	Ping(ctx context.Context) error
	Close() error
}

// ScanRows drains a database/sql row set into an ExecutionResult. Shared by
// every adapter built on database/sql.
func ScanRows(rows *sql.Rows, started time.Time) (*models.ExecutionResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read result columns: %w", err)
	}

	result := &models.ExecutionResult{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		for i, v := range values {
			// Drivers hand back []byte for text; normalize for JSON.
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.Success = true
	result.RowCount = len(result.Rows)
	result.ExecutionTimeMS = time.Since(started).Milliseconds()
	return result, nil
}
