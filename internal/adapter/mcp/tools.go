package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/costlens/costlens/internal/catalog"
	"github.com/costlens/costlens/internal/core/domain"
	"github.com/costlens/costlens/internal/core/port"
	"github.com/costlens/costlens/internal/core/service"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server metadata
const serverName = "costlens"

// Tool descriptions
const (
	descAsk = "Answer a natural-language cloud cost question end to end: " +
		"SQL is generated from the dataset catalog, checked by the safety gate, executed read-only, " +
		"and the rows are summarized into a short business answer. " +
		"Returns the question, the SQL, the validation verdict, the raw rows, and the insight."

	descAskParam = "The cost question, e.g. \"What was GenAI spend in FY26 by application?\""

	descGenerateSQL = "Generate a candidate SQL query for a cost question without validating or executing it. " +
		"Useful for inspecting what would run; pass the result to validate_sql or run_query."

	descValidateSQL = "Run the deterministic SQL safety gate over a statement and return the verdict: " +
		"the literal token VALID, or INVALID: <reason>. " +
		"Rejects anything that is not a single SELECT/WITH statement, any deny-listed mutating keyword, " +
		"statement chaining, and comment-based injection. Nothing is executed."

	descValidateSQLParam = "The SQL statement to check"

	descRunQuery = "Validate a SQL statement and, if the verdict is VALID, execute it read-only against " +
		"the cost warehouse. A server-side row limit and statement timeout are enforced. " +
		"Returns rows as a JSON array of objects."

	descRunQueryParam = "SQL query to execute (single SELECT/WITH statement only)"

	descDescribeDataset = "Describe the cost dataset: the catalog definition (columns, fiscal calendar, " +
		"business vocabulary) plus the live warehouse schema of the backing table, so drift between " +
		"catalog and reality is visible."
)

func RegisterTools(s *server.MCPServer, pipeline *service.Pipeline, query *service.QueryService, explorer port.SchemaExplorer, cat *catalog.Catalog, logger *slog.Logger) {
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription(descAsk),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description(descAskParam),
			),
		),
		askHandler(pipeline, logger),
	)

	s.AddTool(
		mcp.NewTool("generate_sql",
			mcp.WithDescription(descGenerateSQL),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description(descAskParam),
			),
		),
		generateSQLHandler(pipeline, logger),
	)

	s.AddTool(
		mcp.NewTool("validate_sql",
			mcp.WithDescription(descValidateSQL),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descValidateSQLParam),
			),
		),
		validateSQLHandler(pipeline),
	)

	s.AddTool(
		mcp.NewTool("run_query",
			mcp.WithDescription(descRunQuery),
			mcp.WithString("sql",
				mcp.Required(),
				mcp.Description(descRunQueryParam),
			),
		),
		runQueryHandler(query, logger),
	)

	s.AddTool(
		mcp.NewTool("describe_dataset",
			mcp.WithDescription(descDescribeDataset),
		),
		describeDatasetHandler(explorer, cat, logger),
	)
}

func askHandler(pipeline *service.Pipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, ok := request.GetArguments()["question"].(string)
		if !ok || question == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		state, err := pipeline.Run(ctx, question)
		if err != nil {
			if errors.Is(err, service.ErrQueryRejected) {
				// Fail-closed outcome, reported in plain language. The state
				// (including the verdict) goes back so the caller can see why,
				// but the raw SQL is not echoed into the message.
				return mcp.NewToolResultError(fmt.Sprintf(
					"the generated query was refused by the safety gate and was not run (%s)",
					state.ValidationResult)), nil
			}
			return mcp.NewToolResultError(sanitizeError(logger, err, "ask")), nil
		}

		data, err := json.Marshal(state)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func generateSQLHandler(pipeline *service.Pipeline, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, ok := request.GetArguments()["question"].(string)
		if !ok || question == "" {
			return mcp.NewToolResultError("question is required"), nil
		}

		sql, err := pipeline.GenerateSQL(ctx, question)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "generate sql")), nil
		}

		return mcp.NewToolResultText(sql), nil
	}
}

func validateSQLHandler(pipeline *service.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok {
			return mcp.NewToolResultError("sql is required"), nil
		}

		// The verdict is the tool's result, not an error: an INVALID verdict
		// is the gate working, and callers branch on the wire form.
		return mcp.NewToolResultText(pipeline.Validate(sql)), nil
	}
}

func runQueryHandler(query *service.QueryService, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, ok := request.GetArguments()["sql"].(string)
		if !ok || sql == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}

		ctx = service.WithToolName(ctx, "run_query")
		results, err := query.Execute(ctx, sql)
		if err != nil {
			return mcp.NewToolResultError(sanitizeError(logger, err, "query")), nil
		}

		data, err := json.Marshal(results)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func describeDatasetHandler(explorer port.SchemaExplorer, cat *catalog.Catalog, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out := struct {
			Catalog *catalog.Catalog  `json:"catalog"`
			Live    *port.TableSchema `json:"live_schema,omitempty"`
			Warning string            `json:"warning,omitempty"`
		}{Catalog: cat}

		live, err := explorer.DescribeTable(ctx, cat.Dataset.Schema, cat.Dataset.Table)
		if err != nil {
			// The catalog is still useful without the live view.
			out.Warning = sanitizeError(logger, err, "describe dataset")
		} else {
			out.Live = live
			for _, col := range cat.Dataset.Columns {
				if !hasLiveColumn(live, col.Name) {
					out.Warning = fmt.Sprintf("catalog column %q not found in warehouse table", col.Name)
					break
				}
			}
		}

		data, err := json.Marshal(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}

		return mcp.NewToolResultText(string(data)), nil
	}
}

func hasLiveColumn(schema *port.TableSchema, name string) bool {
	for _, col := range schema.Columns {
		if col.Name == name {
			return true
		}
	}
	return false
}

// sanitizeError maps internal errors to messages safe for the MCP client.
// Safety-gate verdicts and timeouts pass through; anything else (connection
// strings, OIDs, provider responses) is masked and logged server-side.
func sanitizeError(logger *slog.Logger, err error, operation string) string {
	switch {
	case errors.Is(err, service.ErrQueryRejected),
		errors.Is(err, domain.ErrParseFailed),
		errors.Is(err, domain.ErrNotAllowed),
		errors.Is(err, domain.ErrMultiStatement),
		errors.Is(err, domain.ErrEmptyQuery):
		return err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out", operation)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" {
		return fmt.Sprintf("%s timed out", operation)
	}

	logger.Error("tool operation failed",
		slog.String("operation", operation),
		slog.String("error.message", err.Error()),
	)
	return fmt.Sprintf("%s failed: internal error; check server logs", operation)
}
