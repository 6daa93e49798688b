package store

import (
	"context"
	"database/sql"

	"go.uber.org/zap"
)

// QueryInterceptor is the subset of *sql.DB the repositories depend on; it
// lets tests substitute an in-memory DuckDB handle without wiring the whole
// Store.
type QueryInterceptor interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type loggingDB struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

func newInterceptor(db *sql.DB) QueryInterceptor {
	return &loggingDB{db: db, log: zap.S().Named("store")}
}

func (l *loggingDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	l.log.Debugw("query", "sql", query)
	return l.db.QueryContext(ctx, query, args...)
}

func (l *loggingDB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	l.log.Debugw("query_row", "sql", query)
	return l.db.QueryRowContext(ctx, query, args...)
}

func (l *loggingDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	l.log.Debugw("exec", "sql", query)
	return l.db.ExecContext(ctx, query, args...)
}
