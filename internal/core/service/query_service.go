package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/costlens/costlens/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrQueryRejected marks statements the safety gate refused to execute.
// The wrapped message carries the verdict reason and is safe to show users.
var ErrQueryRejected = errors.New("query rejected")

type toolNameKey struct{}

// WithToolName returns a context carrying the calling tool name for audit logging.
func WithToolName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, toolNameKey{}, name)
}

func toolNameFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(toolNameKey{}).(string); ok {
		return v
	}
	return ""
}

// QueryService gates SQL through the safety validator (domain) and, when it
// passes, delegates to the warehouse executor (infrastructure). The optional
// deep validator runs between the two as an independent parser-backed layer.
type QueryService struct {
	validator port.Validator
	deep      port.DeepValidator // nil when the parser gate is disabled
	executor  port.QueryExecutor
	auditor   port.QueryAuditor
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
}

func NewQueryService(validator port.Validator, deep port.DeepValidator, executor port.QueryExecutor, auditor port.QueryAuditor, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation) *QueryService {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	if auditor == nil {
		auditor = port.NoopAuditor{}
	}
	return &QueryService{
		validator: validator,
		deep:      deep,
		executor:  executor,
		auditor:   auditor,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
	}
}

// Execute validates the SQL statement and, if allowed, runs it read-only.
func (s *QueryService) Execute(ctx context.Context, sql string) ([]map[string]any, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.Execute",
		trace.WithAttributes(
			attribute.String("db.operation.name", "query"),
			attribute.String("db.statement", sql),
		),
	)
	defer span.End()

	verdict := s.validator.Validate(sql)
	if !verdict.OK() {
		err := fmt.Errorf("%w: %s", ErrQueryRejected, verdict.Reason())
		s.logger.WarnContext(ctx, "query validation rejected",
			slog.String("db.statement", sql),
			slog.String("verdict", verdict.String()),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementRejectedQueries(ctx)
		s.auditor.Record(ctx, port.AuditEntry{
			Tool:    toolNameFromCtx(ctx),
			SQL:     sql,
			Verdict: verdict.String(),
			Err:     err,
		})
		return nil, err
	}

	if s.deep != nil {
		if err := s.deep.Check(sql); err != nil {
			s.logger.WarnContext(ctx, "parser gate rejected query",
				slog.String("db.statement", sql),
				slog.String("error.message", err.Error()),
			)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.inst.IncrementRejectedQueries(ctx)
			s.auditor.Record(ctx, port.AuditEntry{
				Tool:    toolNameFromCtx(ctx),
				SQL:     sql,
				Verdict: "INVALID: " + err.Error(),
				Err:     err,
			})
			return nil, fmt.Errorf("validation: %w", err)
		}
	}

	start := time.Now()
	results, err := s.executor.Execute(ctx, sql)
	durationMS := time.Since(start).Milliseconds()

	s.inst.RecordQueryDuration(ctx, float64(durationMS))

	s.auditor.Record(ctx, port.AuditEntry{
		Tool:         toolNameFromCtx(ctx),
		SQL:          sql,
		Verdict:      verdict.String(),
		RowsReturned: len(results),
		DurationMS:   durationMS,
		Err:          err,
	})

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.inst.IncrementQueryErrors(ctx)
		return results, err
	}

	s.inst.IncrementQueryCount(ctx)
	span.SetAttributes(attribute.Int("db.response.rows", len(results)))

	return results, nil
}
