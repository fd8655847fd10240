package mcp

import (
	"log/slog"

	"github.com/costlens/costlens/internal/catalog"
	"github.com/costlens/costlens/internal/core/port"
	"github.com/costlens/costlens/internal/core/service"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/trace"
)

// NewServer creates an MCPServer with the costlens tools and logging hooks.
func NewServer(version string, pipeline *service.Pipeline, query *service.QueryService, explorer port.SchemaExplorer, cat *catalog.Catalog, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *server.MCPServer {
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
		server.WithHooks(ToolCallHooks(logger, tracer, inst)),
	)

	RegisterTools(s, pipeline, query, explorer, cat, logger)

	return s
}
