package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/costlens/costlens/internal/adapter/postgres"
	"github.com/costlens/costlens/internal/catalog"
	"github.com/costlens/costlens/internal/core/domain"
	"github.com/costlens/costlens/internal/core/port"
	"github.com/costlens/costlens/internal/core/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const e2eSchema = `
	CREATE TABLE cost_analysis (
		date            DATE NOT NULL,
		cto             TEXT NOT NULL,
		cloud           TEXT NOT NULL,
		application     TEXT NOT NULL,
		managed_service TEXT NOT NULL,
		environment     TEXT NOT NULL,
		cost            NUMERIC(12,2) NOT NULL
	);
	COMMENT ON TABLE cost_analysis IS 'Daily cloud cost line items';
	COMMENT ON COLUMN cost_analysis.managed_service IS 'Service category, e.g. AI/ML';
	CREATE INDEX idx_cost_analysis_date ON cost_analysis(date);

	-- Seed: two fiscal years of spend across clouds and services.
	INSERT INTO cost_analysis (date, cto, cloud, application, managed_service, environment, cost)
	SELECT
		DATE '2025-02-01' + (i % 365),
		CASE (i % 2) WHEN 0 THEN 'Platform' ELSE 'Commerce' END,
		CASE (i % 3) WHEN 0 THEN 'GCP' WHEN 1 THEN 'AWS' ELSE 'Azure' END,
		'app-' || (i % 10),
		CASE (i % 4) WHEN 0 THEN 'AI/ML' WHEN 1 THEN 'Compute' WHEN 2 THEN 'Storage' ELSE 'Networking' END,
		CASE (i % 5) WHEN 0 THEN 'prod' ELSE 'dev' END,
		(i % 50) + 1
	FROM generate_series(1, 500) AS i;
`

func e2eCatalog() *catalog.Catalog {
	return &catalog.Catalog{
		Version: 1,
		Dataset: catalog.Dataset{
			Name:        "cost_analysis",
			Schema:      "public",
			Table:       "cost_analysis",
			Description: "daily cloud cost line items",
			Columns: []catalog.Column{
				{Name: "date", Type: "date"},
				{Name: "cto", Type: "text"},
				{Name: "cloud", Type: "text"},
				{Name: "application", Type: "text"},
				{Name: "managed_service", Type: "text"},
				{Name: "environment", Type: "text"},
				{Name: "cost", Type: "numeric"},
			},
		},
		Fiscal: catalog.Fiscal{StartMonth: time.February, StartDay: 1},
		Concepts: []catalog.ConceptHint{
			{Terms: []string{"GenAI", "AI"}, Predicate: "managed_service = 'AI/ML'"},
		},
		Defaults: catalog.QueryDefaults{TopNLimit: 10, OrderBy: "cost DESC"},
	}
}

// scriptedE2ECompleter stands in for the completion provider: the e2e suite
// exercises the warehouse path, not the model.
type scriptedE2ECompleter struct {
	sql     string
	insight string
	calls   atomic.Int64
}

func (c *scriptedE2ECompleter) Complete(_ context.Context, _, _ string) (string, error) {
	if c.calls.Add(1) == 1 {
		return c.sql, nil
	}
	return c.insight, nil
}

// setupE2E starts a Postgres testcontainer, applies the schema, and returns a
// fully wired MCP server backed by real adapters.
func setupE2E(t *testing.T, completer *scriptedE2ECompleter) *server.MCPServer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping E2E test in short mode")
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	_, err = pool.Exec(ctx, e2eSchema)
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "ANALYZE")
	require.NoError(t, err)

	// Real adapters.
	executor := postgres.NewExecutor(pool, 100, 10*time.Second)
	explorer := postgres.NewExplorer(pool)

	// Real services.
	cat := e2eCatalog()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	querySvc := service.NewQueryService(domain.NewSafetyValidator(), domain.NewParserGate(), executor, nil, logger, nil, nil)
	pipeline := service.NewPipeline(completer, domain.NewSafetyValidator(), querySvc, cat, logger, nil, nil)

	s := server.NewMCPServer("test-e2e", "0.0.1", server.WithToolCapabilities(true))
	RegisterTools(s, pipeline, querySvc, explorer, cat, logger)
	return s
}

func TestE2E_MCPTools(t *testing.T) {
	completer := &scriptedE2ECompleter{
		sql:     "SELECT cloud, SUM(cost) AS total FROM public.cost_analysis GROUP BY cloud ORDER BY total DESC",
		insight: "All three clouds carry spend; the largest share is near the top of the list.",
	}
	s := setupE2E(t, completer)

	t.Run("run_query", func(t *testing.T) {
		result := callToolE2E(t, s, "run_query", map[string]any{
			"sql": "SELECT cloud, COUNT(*) AS n FROM public.cost_analysis GROUP BY cloud ORDER BY cloud",
		})
		require.False(t, result.IsError, "unexpected error: %s", toolText(result))

		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(toolText(result)), &rows))
		require.Len(t, rows, 3)
		assert.Equal(t, "AWS", rows[0]["cloud"])
		assert.Equal(t, "Azure", rows[1]["cloud"])
		assert.Equal(t, "GCP", rows[2]["cloud"])
	})

	t.Run("run_query enforces row limit", func(t *testing.T) {
		result := callToolE2E(t, s, "run_query", map[string]any{
			"sql": "SELECT date, cost FROM public.cost_analysis",
		})
		require.False(t, result.IsError, "unexpected error: %s", toolText(result))

		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(toolText(result)), &rows))
		assert.Len(t, rows, 100, "server-side limit caps the 500 seeded rows")
	})

	t.Run("run_query refuses mutations against a real warehouse", func(t *testing.T) {
		result := callToolE2E(t, s, "run_query", map[string]any{
			"sql": "DELETE FROM public.cost_analysis",
		})
		assert.True(t, result.IsError)
		assert.Contains(t, toolText(result), "forbidden keyword DELETE")

		// Nothing was deleted.
		check := callToolE2E(t, s, "run_query", map[string]any{
			"sql": "SELECT COUNT(*) AS n FROM public.cost_analysis",
		})
		require.False(t, check.IsError)
		var rows []map[string]any
		require.NoError(t, json.Unmarshal([]byte(toolText(check)), &rows))
		require.Len(t, rows, 1)
		assert.EqualValues(t, 500, rows[0]["n"])
	})

	t.Run("validate_sql", func(t *testing.T) {
		result := callToolE2E(t, s, "validate_sql", map[string]any{
			"sql": "SELECT application, SUM(cost) FROM public.cost_analysis GROUP BY application",
		})
		require.False(t, result.IsError)
		assert.Equal(t, "VALID", toolText(result))
	})

	t.Run("describe_dataset sees the live table", func(t *testing.T) {
		result := callToolE2E(t, s, "describe_dataset", nil)
		require.False(t, result.IsError, "unexpected error: %s", toolText(result))

		var out struct {
			Catalog *catalog.Catalog  `json:"catalog"`
			Live    *port.TableSchema `json:"live_schema"`
			Warning string            `json:"warning"`
		}
		require.NoError(t, json.Unmarshal([]byte(toolText(result)), &out))
		require.NotNil(t, out.Live)
		assert.Equal(t, "cost_analysis", out.Live.Name)
		assert.Len(t, out.Live.Columns, 7)
		assert.Empty(t, out.Warning, "catalog and warehouse schema must agree")
	})

	t.Run("ask end to end", func(t *testing.T) {
		result := callToolE2E(t, s, "ask", map[string]any{
			"question": "which cloud costs the most?",
		})
		require.False(t, result.IsError, "unexpected error: %s", toolText(result))

		var state service.State
		require.NoError(t, json.Unmarshal([]byte(toolText(result)), &state))
		assert.Equal(t, "VALID", state.ValidationResult)
		assert.Contains(t, state.QueryResults, "cloud")
		assert.NotEmpty(t, state.Insight)
	})
}

var e2eSessionCounter atomic.Int64

func callToolE2E(t *testing.T, s *server.MCPServer, toolName string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	sessionID := fmt.Sprintf("e2e-%d", e2eSessionCounter.Add(1))
	session := server.NewInProcessSession(sessionID, nil)
	require.NoError(t, s.RegisterSession(ctx, session))
	sessionCtx := s.WithContext(ctx, session)

	// Initialize session.
	initBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "init", "method": "initialize",
		"params": map[string]any{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]any{},
			"clientInfo":      map[string]any{"name": "test-e2e", "version": "1.0"},
		},
	})
	s.HandleMessage(sessionCtx, initBytes)

	// Call tool.
	reqBytes, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0", "id": "call-1", "method": "tools/call",
		"params": map[string]any{
			"name":      toolName,
			"arguments": args,
		},
	})
	resp := s.HandleMessage(sessionCtx, reqBytes)
	respBytes, _ := json.Marshal(resp)

	var rpc struct {
		Result *mcp.CallToolResult       `json:"result"`
		Error  *struct{ Message string } `json:"error,omitempty"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &rpc))
	require.Nil(t, rpc.Error, "unexpected RPC error: %v", rpc.Error)
	require.NotNil(t, rpc.Result)
	return rpc.Result
}
