package postgres

import (
	"context"

	"github.com/costlens/costlens/internal/core/port"
)

// ExplainOnlyExecutor wraps a QueryExecutor and forces every query through
// EXPLAIN, so the pipeline can be exercised end to end without touching data.
type ExplainOnlyExecutor struct {
	inner port.QueryExecutor
}

func NewExplainOnlyExecutor(inner port.QueryExecutor) *ExplainOnlyExecutor {
	return &ExplainOnlyExecutor{inner: inner}
}

func (e *ExplainOnlyExecutor) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	if !isExplain(sql) {
		sql = "EXPLAIN " + sql
	}
	return e.inner.Execute(ctx, sql)
}
