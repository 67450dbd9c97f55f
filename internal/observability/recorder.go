// Package observability records pipeline operation outcomes and row volumes.
// Recorders are explicit dependencies passed in at construction so that
// concurrent integration runs never share ambient state.
package observability

import (
	"context"
	"time"
)

// Recorder aggregates operation timings, success/error counts and the row
// volumes flowing through pipeline stages.
type Recorder interface {
	// Observe records one completed operation.
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	// RecordRows records the row count produced by a pipeline stage.
	RecordRows(ctx context.Context, stage string, rows int)
}

// Nop discards all observations.
type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}

func (Nop) RecordRows(context.Context, string, int) {}

var _ Recorder = Nop{}
