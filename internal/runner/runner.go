// Package runner dispatches generated code to an execution strategy and
// tracks each dispatch through its lifecycle.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/sandbox"
)

// Mode selects the execution strategy. It comes from configuration, never
// from the generated code.
type Mode string

// Execution modes.
const (
	ModeInProcess Mode = "inprocess"
	ModeProcess   Mode = "process"
)

// InvalidAppMessage is shown when generated code cannot be turned into an app.
const InvalidAppMessage = "Failed to generate a valid app."

// State is the lifecycle position of one dispatch.
type State int

// Dispatch states. Exited is only reached by the process strategy, after
// Succeeded, once the child terminates.
const (
	StateIdle State = iota
	StateDispatched
	StateSucceeded
	StateFailed
	StateExited
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateExited:
		return "exited"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Job is one unit of work for a strategy.
type Job struct {
	GenerationID string
	Code         string
	Dataset      *dataset.Dataset
	Exploration  bool
	// OnExit receives the exit status of a spawned process. It is called
	// from a background goroutine and may be nil.
	OnExit func(Exit)
}

// Result describes the outcome of a dispatch. Message is user-visible text
// for failures; Err carries the typed cause.
type Result struct {
	GenerationID string
	Mode         Mode
	State        State
	App          *sandbox.App
	ScriptPath   string
	LogPath      string
	PID          int
	Message      string
	Err          error
}

// Exit reports the termination of a spawned process.
type Exit struct {
	GenerationID string
	PID          int
	Code         int
	LogPath      string
	Err          error
}

// Strategy executes a job.
type Strategy interface {
	Dispatch(ctx context.Context, job Job) Result
}

// Config holds dispatcher settings.
type Config struct {
	Mode     Mode
	MaxSteps uint64
	Process  ProcessConfig
	Logger   *slog.Logger
}

// Dispatcher routes jobs to the configured strategy.
type Dispatcher struct {
	mode     Mode
	strategy Strategy
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher for cfg.Mode.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeInProcess
	}

	d := &Dispatcher{mode: cfg.Mode, logger: logger}
	switch cfg.Mode {
	case ModeInProcess:
		d.strategy = NewInProcess(cfg.MaxSteps, logger)
	case ModeProcess:
		p, err := NewProcess(cfg.Process, logger)
		if err != nil {
			return nil, err
		}
		d.strategy = p
	default:
		return nil, fmt.Errorf("unknown execution mode %q (expected %s or %s)", cfg.Mode, ModeInProcess, ModeProcess)
	}
	return d, nil
}

// Mode returns the configured execution mode.
func (d *Dispatcher) Mode() Mode { return d.mode }

// Dispatch runs job. It never returns an error: failures are reported in
// the Result so the caller can show Result.Message.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) Result {
	d.logger.Debug("dispatching", "generation", job.GenerationID, "mode", d.mode)
	res := d.strategy.Dispatch(ctx, job)
	res.GenerationID = job.GenerationID
	res.Mode = d.mode
	if res.Err != nil {
		d.logger.Warn("dispatch failed", "generation", job.GenerationID, "error", res.Err)
	} else {
		d.logger.Info("dispatched", "generation", job.GenerationID, "state", res.State)
	}
	return res
}
