package runner

import (
	"context"
	"log/slog"

	"github.com/leapstack-labs/leapdash/internal/extract"
	"github.com/leapstack-labs/leapdash/internal/sandbox"
)

// InProcess loads generated code into a fresh sandbox per job.
type InProcess struct {
	maxSteps uint64
	logger   *slog.Logger
}

// NewInProcess creates the in-process strategy. A zero maxSteps uses the
// sandbox default.
func NewInProcess(maxSteps uint64, logger *slog.Logger) *InProcess {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &InProcess{maxSteps: maxSteps, logger: logger}
}

// Dispatch implements Strategy.
func (p *InProcess) Dispatch(ctx context.Context, job Job) Result {
	sb := sandbox.New(
		sandbox.WithMaxSteps(p.maxSteps),
		sandbox.WithExploration(job.Exploration),
		sandbox.WithLogger(p.logger.With("generation", job.GenerationID)),
	)

	app, err := sb.Load(ctx, extract.Clean(job.Code), job.Dataset)
	if err != nil {
		return Result{
			State:   StateFailed,
			Message: InvalidAppMessage,
			Err:     &LoadError{GenerationID: job.GenerationID, Err: err},
		}
	}
	return Result{State: StateSucceeded, App: app}
}
