package port

import "context"

// QueryExecutor runs validated SQL against the warehouse and returns rows as
// maps keyed by column name. Implementations own read-only enforcement, row
// limits, and server-side timeouts.
type QueryExecutor interface {
	Execute(ctx context.Context, sql string) ([]map[string]any, error)
}
