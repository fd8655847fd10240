package postgres

import (
	"context"
	"fmt"

	"github.com/costlens/costlens/internal/core/port"
	"github.com/jackc/pgx/v5/pgxpool"
)

const queryDescribeTable = `
	SELECT
		c.column_name,
		c.data_type,
		c.is_nullable = 'YES' AS is_nullable,
		COALESCE(col_description(pc.oid, c.ordinal_position), '') AS comment
	FROM information_schema.columns c
	JOIN pg_class pc ON pc.relname = c.table_name
	JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

const queryTableMeta = `
	SELECT
		COALESCE(obj_description(pc.oid), '') AS comment,
		COALESCE(s.n_live_tup, 0) AS row_estimate
	FROM pg_class pc
	JOIN pg_namespace pn ON pn.oid = pc.relnamespace
	LEFT JOIN pg_stat_user_tables s ON s.relid = pc.oid
	WHERE pn.nspname = $1 AND pc.relname = $2`

// Explorer reads live table structure from the warehouse. costlens uses it to
// verify the catalog against the actual table, not to discover queryable data.
type Explorer struct {
	pool *pgxpool.Pool
}

func NewExplorer(pool *pgxpool.Pool) *Explorer {
	return &Explorer{pool: pool}
}

func (e *Explorer) DescribeTable(ctx context.Context, schema, table string) (*port.TableSchema, error) {
	if schema == "" {
		schema = "public"
	}

	detail := &port.TableSchema{Schema: schema, Name: table}

	if err := e.pool.QueryRow(ctx, queryTableMeta, schema, table).
		Scan(&detail.Comment, &detail.RowEstimate); err != nil {
		return nil, fmt.Errorf("describing table %s.%s: %w", schema, table, err)
	}

	rows, err := e.pool.Query(ctx, queryDescribeTable, schema, table)
	if err != nil {
		return nil, fmt.Errorf("listing columns for %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col port.LiveColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.Comment); err != nil {
			return nil, fmt.Errorf("scanning column row: %w", err)
		}
		detail.Columns = append(detail.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating column rows: %w", err)
	}

	if len(detail.Columns) == 0 {
		return nil, fmt.Errorf("table %s.%s has no columns or does not exist", schema, table)
	}

	return detail, nil
}
