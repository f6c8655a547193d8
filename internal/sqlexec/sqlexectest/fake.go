// Package sqlexectest provides a scripted Executor for tests.
package sqlexectest

import (
	"context"
	"sync"

	"pams-ai/internal/sqlexec"
)

// Call records one executed statement.
type Call struct {
	SQL  string
	Args []any
}

// Fake answers each statement with Respond. Statements that fail to build
// are returned as errors without reaching Respond.
type Fake struct {
	Respond func(sql string, args []any) ([]sqlexec.Row, error)

	mu    sync.Mutex
	calls []Call
}

var _ sqlexec.Executor = (*Fake)(nil)

func (f *Fake) Query(_ context.Context, q *sqlexec.Query) ([]sqlexec.Row, error) {
	text, args, err := q.Build()
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{SQL: text, Args: args})
	f.mu.Unlock()
	if f.Respond == nil {
		return nil, nil
	}
	return f.Respond(text, args)
}

func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}
