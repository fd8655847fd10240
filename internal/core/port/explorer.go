package port

import "context"

// LiveColumn describes one column of the warehouse table backing a dataset,
// as reported by the warehouse itself rather than the catalog.
type LiveColumn struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	Comment    string `json:"comment,omitempty"`
}

// TableSchema is the live schema of one warehouse table.
type TableSchema struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Comment     string       `json:"comment,omitempty"`
	RowEstimate int64        `json:"row_estimate"`
	Columns     []LiveColumn `json:"columns"`
}

// SchemaExplorer reads live table structure from the warehouse. Used to
// cross-check the catalog against reality, not as a discovery mechanism:
// the catalog is the source of truth for what the agent may query.
type SchemaExplorer interface {
	DescribeTable(ctx context.Context, schema, table string) (*TableSchema, error)
}
