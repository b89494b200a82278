package database

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"
)

// Row is one result row keyed by column name.
type Row = map[string]any

// Executor runs a parameterized query and returns its rows. Read paths
// depend on this rather than on gorm so they can be tested against fakes.
type Executor interface {
	Execute(ctx context.Context, query string, params ...any) ([]Row, error)
}

// GormExecutor runs raw SQL through a gorm connection.
type GormExecutor struct {
	db *gorm.DB
}

// NewGormExecutor wraps db.
func NewGormExecutor(db *gorm.DB) *GormExecutor {
	return &GormExecutor{db: db}
}

// Execute implements Executor.
func (e *GormExecutor) Execute(ctx context.Context, query string, params ...any) ([]Row, error) {
	rows, err := e.db.WithContext(ctx).Raw(query, params...).Rows()
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			// drivers may reuse byte buffers between rows
			if b, ok := vals[i].([]byte); ok {
				vals[i] = string(b)
			}
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
