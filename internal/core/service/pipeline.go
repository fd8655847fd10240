package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/costlens/costlens/internal/catalog"
	"github.com/costlens/costlens/internal/core/port"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// State carries one question through the pipeline. Each stage fills in its
// own field and reads only what earlier stages wrote; there is no ambient
// shared state.
type State struct {
	Question         string `json:"question"`
	SQLQuery         string `json:"sql_query"`
	ValidationResult string `json:"validation_result"` // "VALID" or "INVALID: <reason>"
	QueryResults     string `json:"query_results,omitempty"`
	Insight          string `json:"insight,omitempty"`
}

// Pipeline runs the four-stage workflow: generate SQL, validate it, execute
// it, synthesize prose. Only the validate stage is deterministic; generation
// and synthesis sit behind port.Completer, execution behind QueryService.
type Pipeline struct {
	completer port.Completer
	validator port.Validator
	query     *QueryService
	cat       *catalog.Catalog
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      port.Instrumentation
	dryRun    bool

	// now is injectable so prompt rendering is testable.
	now func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDryRun stops the pipeline after validation; nothing is executed or
// summarized.
func WithDryRun(enabled bool) PipelineOption {
	return func(p *Pipeline) { p.dryRun = enabled }
}

// WithClock overrides the pipeline's notion of the current time.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(completer port.Completer, validator port.Validator, query *QueryService, cat *catalog.Catalog, logger *slog.Logger, tracer trace.Tracer, inst port.Instrumentation, opts ...PipelineOption) *Pipeline {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("noop")
	}
	if inst == nil {
		inst = port.NoopInstrumentation{}
	}
	p := &Pipeline{
		completer: completer,
		validator: validator,
		query:     query,
		cat:       cat,
		logger:    logger,
		tracer:    tracer,
		inst:      inst,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run answers one question end to end. The returned State is non-nil even on
// error so callers can report how far the question got. A rejected query
// returns ErrQueryRejected; its message contains the verdict reason and no
// raw SQL.
func (p *Pipeline) Run(ctx context.Context, question string) (*State, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.Run",
		trace.WithAttributes(attribute.String("pipeline.question", question)),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		p.inst.RecordPipelineDuration(ctx, float64(time.Since(start).Milliseconds()))
	}()

	state := &State{Question: question}

	if strings.TrimSpace(question) == "" {
		err := fmt.Errorf("empty question")
		span.SetStatus(codes.Error, err.Error())
		return state, err
	}

	// Stage 1: generate.
	sql, err := p.GenerateSQL(ctx, question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, fmt.Errorf("generating SQL: %w", err)
	}
	state.SQLQuery = sql

	// Stage 2: validate. Fail closed: any non-VALID verdict halts here.
	verdict := p.validator.Validate(sql)
	state.ValidationResult = verdict.String()
	if !verdict.OK() {
		err := fmt.Errorf("%w: %s", ErrQueryRejected, verdict.Reason())
		p.logger.WarnContext(ctx, "pipeline halted by safety gate",
			slog.String("verdict", state.ValidationResult),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.inst.IncrementRejectedQueries(ctx)
		return state, err
	}

	if p.dryRun {
		state.Insight = "Dry run: query validated but not executed."
		return state, nil
	}

	// Stage 3: execute. QueryService re-validates; the gate must hold even if
	// a future caller bypasses stage 2.
	rows, err := p.query.Execute(WithToolName(ctx, "pipeline"), sql)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, fmt.Errorf("executing query: %w", err)
	}
	state.QueryResults = FormatRows(rows)

	// Stage 4: synthesize.
	insight, err := p.completer.Complete(ctx, renderSynthesisPrompt(p.cat), synthesisInput(state))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return state, fmt.Errorf("synthesizing insight: %w", err)
	}
	state.Insight = strings.TrimSpace(insight)

	return state, nil
}

// GenerateSQL runs only the generation stage: catalog-derived prompt in,
// candidate SQL out. The result is NOT validated; callers must gate it.
func (p *Pipeline) GenerateSQL(ctx context.Context, question string) (string, error) {
	ctx, span := p.tracer.Start(ctx, "Pipeline.GenerateSQL")
	defer span.End()

	reply, err := p.completer.Complete(ctx, renderGenerationPrompt(p.cat, p.now()), question)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return stripFences(reply), nil
}

// Validate runs only the validation stage.
func (p *Pipeline) Validate(sql string) string {
	return p.validator.Validate(sql).String()
}

// stripFences removes a markdown code fence if the model wrapped its reply in
// one, including an optional language tag on the opening fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		// A bare language tag like "sql" on the fence line is not SQL.
		if len(firstLine) <= 10 && !strings.ContainsAny(firstLine, " \t") {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// FormatRows renders result rows tab-separated with a header line, NULL for
// nil values. Columns are ordered alphabetically since row maps carry no
// order of their own.
func FormatRows(rows []map[string]any) string {
	if len(rows) == 0 {
		return "No results found"
	}

	cols := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var b strings.Builder
	b.WriteString(strings.Join(cols, "\t"))
	for _, row := range rows {
		b.WriteByte('\n')
		for i, col := range cols {
			if i > 0 {
				b.WriteByte('\t')
			}
			val, ok := row[col]
			if !ok || val == nil {
				b.WriteString("NULL")
				continue
			}
			fmt.Fprintf(&b, "%v", val)
		}
	}
	return b.String()
}

func synthesisInput(state *State) string {
	var b strings.Builder
	b.WriteString("Question:\n")
	b.WriteString(state.Question)
	b.WriteString("\n\nSQL:\n")
	b.WriteString(state.SQLQuery)
	b.WriteString("\n\nResults:\n")
	b.WriteString(state.QueryResults)
	return b.String()
}
