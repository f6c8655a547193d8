package sqlexec

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"

	"pams-ai/internal/policy"
)

// Executor runs read-only statements built with Query.
type Executor interface {
	Query(ctx context.Context, q *Query) ([]Row, error)
}

// DBExecutor runs every statement in its own read-only transaction with a
// server-side statement timeout and a matching context deadline.
type DBExecutor struct {
	db      *bun.DB
	timeout time.Duration
}

var _ Executor = (*DBExecutor)(nil)

func NewExecutor(db *bun.DB, timeout time.Duration) *DBExecutor {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &DBExecutor{db: db, timeout: timeout}
}

func (e *DBExecutor) Query(ctx context.Context, q *Query) ([]Row, error) {
	text, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	if err := policy.Enforce(ctx, policy.Read); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	var rows []Row
	err = e.db.RunInTx(ctx, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx bun.Tx) error {
		stmt := fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("set statement timeout: %w", err)
		}
		// The embedded *sql.Tx passes args to the driver untouched.
		res, err := tx.Tx.QueryContext(ctx, text, args...)
		if err != nil {
			return err
		}
		defer res.Close()
		rows, err = scanRows(res)
		return err
	})

	logger := zerolog.Ctx(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("sql", text).Msg("analytics query failed")
		return nil, fmt.Errorf("execute query: %w", err)
	}
	logger.Debug().Str("sql", text).Int("rows", len(rows)).Dur("took", time.Since(start)).Msg("analytics query")
	return rows, nil
}

func scanRows(res *sql.Rows) ([]Row, error) {
	cols, err := res.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for res.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := res.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, res.Err()
}
