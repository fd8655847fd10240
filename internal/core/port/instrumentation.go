package port

import "context"

// Instrumentation records application-level metrics.
type Instrumentation interface {
	RecordQueryDuration(ctx context.Context, ms float64)
	IncrementQueryCount(ctx context.Context)
	IncrementQueryErrors(ctx context.Context)
	IncrementRejectedQueries(ctx context.Context)
	RecordPipelineDuration(ctx context.Context, ms float64)
	RecordToolDuration(ctx context.Context, ms float64)
}

// NoopInstrumentation discards all metrics.
type NoopInstrumentation struct{}

func (NoopInstrumentation) RecordQueryDuration(context.Context, float64)    {}
func (NoopInstrumentation) IncrementQueryCount(context.Context)             {}
func (NoopInstrumentation) IncrementQueryErrors(context.Context)            {}
func (NoopInstrumentation) IncrementRejectedQueries(context.Context)        {}
func (NoopInstrumentation) RecordPipelineDuration(context.Context, float64) {}
func (NoopInstrumentation) RecordToolDuration(context.Context, float64)     {}
