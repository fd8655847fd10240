package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/costlens/costlens/internal/adapter/mcp"
	"github.com/costlens/costlens/internal/adapter/openai"
	"github.com/costlens/costlens/internal/adapter/postgres"
	"github.com/costlens/costlens/internal/audit"
	"github.com/costlens/costlens/internal/catalog"
	"github.com/costlens/costlens/internal/config"
	"github.com/costlens/costlens/internal/core/domain"
	"github.com/costlens/costlens/internal/core/port"
	"github.com/costlens/costlens/internal/core/service"
	"github.com/costlens/costlens/internal/telemetry"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags builds config overrides from CLI arguments. Pointer fields are
// only set when the flag was actually passed.
func parseFlags(args []string) (config.Overrides, error) {
	fs := flag.NewFlagSet("costlens", flag.ContinueOnError)

	databaseURL := fs.String("database-url", "", "warehouse connection URL (overrides DATABASE_URL)")
	catalogFile := fs.String("catalog", "", "path to dataset catalog YAML (overrides CATALOG_FILE)")
	logLevel := fs.String("log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	maxRows := fs.Int("max-rows", 0, "maximum rows returned per query (overrides MAX_ROWS)")
	queryTimeout := fs.Duration("query-timeout", 0, "per-query timeout (overrides QUERY_TIMEOUT)")
	transport := fs.String("transport", "", "transport: stdio or http (overrides TRANSPORT)")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	httpBearerToken := fs.String("http-bearer-token", "", "bearer token for HTTP transport (overrides HTTP_BEARER_TOKEN)")
	poolMaxConns := fs.Int("pool-max-conns", 0, "maximum pool connections (overrides POOL_MAX_CONNS)")
	poolMinConns := fs.Int("pool-min-conns", -1, "minimum pool connections (overrides POOL_MIN_CONNS)")
	poolMaxConnLifetime := fs.Duration("pool-max-conn-lifetime", 0, "maximum connection lifetime (overrides POOL_MAX_CONN_LIFETIME)")
	otelEnabled := fs.Bool("otel", false, "enable OpenTelemetry tracing and metrics")
	ask := fs.String("ask", "", "answer one question and exit instead of serving")
	dryRun := fs.Bool("dry-run", false, "generate and validate SQL without executing it")
	explainOnly := fs.Bool("explain-only", false, "run only EXPLAIN plans, never the query itself")
	auditLog := fs.String("audit-log", "", "path to NDJSON audit log file")
	showVersion := fs.Bool("version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return config.Overrides{}, err
	}

	if *showVersion {
		fmt.Println("costlens " + version)
		os.Exit(0)
	}

	o := config.Overrides{
		OTelEnabled: *otelEnabled,
		Ask:         *ask,
		DryRun:      *dryRun,
		ExplainOnly: *explainOnly,
		AuditLog:    *auditLog,
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "database-url":
			o.DatabaseURL = databaseURL
		case "catalog":
			o.CatalogFile = catalogFile
		case "log-level":
			o.LogLevel = logLevel
		case "max-rows":
			o.MaxRows = maxRows
		case "query-timeout":
			o.QueryTimeout = queryTimeout
		case "transport":
			o.Transport = transport
		case "http-addr":
			o.HTTPAddr = httpAddr
		case "http-bearer-token":
			o.HTTPBearerToken = httpBearerToken
		case "pool-max-conns":
			n := int32(*poolMaxConns)
			o.PoolMaxConns = &n
		case "pool-min-conns":
			n := int32(*poolMinConns)
			o.PoolMinConns = &n
		case "pool-max-conn-lifetime":
			o.PoolMaxConnLifetime = poolMaxConnLifetime
		}
	})

	return o, nil
}

func run(args []string) error {
	overrides, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Logs go to stderr — stdout is reserved for the MCP stdio transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	logger.Info("starting costlens",
		slog.String("version", version),
		slog.String("log_level", cfg.LogLevel.String()),
		slog.Int("max_rows", cfg.MaxRows),
		slog.String("query_timeout", cfg.QueryTimeout.String()),
		slog.Bool("parser_gate", cfg.ParserGate),
		slog.Bool("dry_run", cfg.DryRun),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Observability.
	var tracer trace.Tracer
	var inst port.Instrumentation
	if cfg.OTelEnabled {
		provider, err := telemetry.Init(ctx, serverNameForTelemetry, version)
		if err != nil {
			return fmt.Errorf("initializing telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.String("error.message", err.Error()))
			}
		}()
		tracer = otel.Tracer(serverNameForTelemetry)
		inst = telemetry.NewInstruments()
	} else {
		tracer = telemetry.NoopTracer()
		inst = telemetry.NoopInstruments()
	}

	// Catalog.
	cat, err := catalog.LoadFromFile(cfg.CatalogFile)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	logger.Info("catalog loaded",
		slog.String("dataset", cat.Dataset.Name),
		slog.String("table", cat.QualifiedTable()),
		slog.Int("columns", len(cat.Dataset.Columns)),
	)

	// Warehouse.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolSettings{
		MaxConns:        cfg.PoolMaxConns,
		MinConns:        cfg.PoolMinConns,
		MaxConnLifetime: cfg.PoolMaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("connecting to warehouse: %w", err)
	}
	defer pool.Close()

	logger.Info("warehouse pool connected")

	var executor port.QueryExecutor = postgres.NewExecutor(pool, cfg.MaxRows, cfg.QueryTimeout)
	if cfg.ExplainOnly {
		executor = postgres.NewExplainOnlyExecutor(executor)
		logger.Info("explain-only mode: queries will not touch data")
	}
	explorer := postgres.NewExplorer(pool)

	// Audit.
	var auditor port.QueryAuditor = port.NoopAuditor{}
	if cfg.AuditLog != "" {
		fileAuditor, err := audit.NewFileAuditor(cfg.AuditLog)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		defer func() { _ = fileAuditor.Close() }()
		auditor = fileAuditor
		logger.Info("audit log enabled", slog.String("file", cfg.AuditLog))
	}

	// Domain.
	validator := domain.NewSafetyValidator()
	var deep port.DeepValidator
	if cfg.ParserGate {
		deep = domain.NewParserGate()
	}

	// Completion service.
	completer := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL, cfg.LLMTimeout)

	// Services.
	querySvc := service.NewQueryService(validator, deep, executor, auditor, logger, tracer, inst)
	pipeline := service.NewPipeline(completer, validator, querySvc, cat, logger, tracer, inst,
		service.WithDryRun(cfg.DryRun),
	)

	// One-shot mode: answer and exit.
	if cfg.Ask != "" {
		return runOnce(ctx, pipeline, cfg.Ask)
	}

	mcpServer := mcp.NewServer(version, pipeline, querySvc, explorer, cat, logger, tracer, inst)

	switch cfg.Transport {
	case "http":
		return serveHTTP(ctx, mcpServer, cfg, logger)
	default:
		stdioServer := mcpserver.NewStdioServer(mcpServer)
		logger.Info("serving MCP over stdio")
		if err := stdioServer.Listen(ctx, os.Stdin, os.Stdout); err != nil {
			return fmt.Errorf("stdio server: %w", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

const serverNameForTelemetry = "costlens"

// runOnce answers a single question on the CLI and prints the trail.
func runOnce(ctx context.Context, pipeline *service.Pipeline, question string) error {
	state, err := pipeline.Run(ctx, question)
	if err != nil {
		if errors.Is(err, service.ErrQueryRejected) {
			fmt.Printf("SQL:      %s\n", state.SQLQuery)
			fmt.Printf("Verdict:  %s\n", state.ValidationResult)
			return fmt.Errorf("query refused by the safety gate; nothing was executed")
		}
		return err
	}

	fmt.Printf("SQL:      %s\n", state.SQLQuery)
	fmt.Printf("Verdict:  %s\n", state.ValidationResult)
	if state.QueryResults != "" {
		fmt.Printf("\n%s\n", state.QueryResults)
	}
	if state.Insight != "" {
		fmt.Printf("\n%s\n", state.Insight)
	}
	return nil
}

func serveHTTP(ctx context.Context, mcpServer *mcpserver.MCPServer, cfg *config.Config, logger *slog.Logger) error {
	streamable := mcpserver.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/mcp", bearerAuthMiddleware(streamable, cfg.HTTPBearerToken))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           recoveryMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving MCP over HTTP", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
