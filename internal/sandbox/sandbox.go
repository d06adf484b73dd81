// Package sandbox executes generated dashboard code in an allow-listed
// Starlark namespace and renders the resulting app to HTML.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapdash/internal/dataset"
)

// DefaultMaxSteps bounds the work a single load or render may perform.
const DefaultMaxSteps = 10_000_000

// Filename is the name generated code is compiled under in error messages.
const Filename = "app.star"

// Stages at which an app can fail to load.
const (
	StageCompile = "compile"
	StageExecute = "execute"
	StageBind    = "bind"
	StageServer  = "server"
)

// ErrMissingBinding reports that generated code did not define app_ui or server.
var ErrMissingBinding = errors.New("missing binding")

// AppError describes why generated code could not be turned into an App.
type AppError struct {
	Stage string
	Err   error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s %s: %v", Filename, e.Stage, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// builtinFunc is the signature starlark.NewBuiltin accepts.
type builtinFunc = func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Sandbox loads apps. The zero value is not usable; call New.
type Sandbox struct {
	maxSteps    uint64
	exploration bool
	logger      *slog.Logger
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithMaxSteps bounds the Starlark execution steps of a load or render.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxSteps = n
		}
	}
}

// WithExploration predeclares the explore module.
func WithExploration(enabled bool) Option {
	return func(s *Sandbox) {
		s.exploration = enabled
	}
}

// WithLogger receives print() output from generated code.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Sandbox.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		maxSteps: DefaultMaxSteps,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Predeclared returns the namespace generated code runs in. Nothing outside
// it is reachable: load statements are rejected and there is no file, network
// or process access.
func (s *Sandbox) Predeclared(table *Table) starlark.StringDict {
	env := starlark.StringDict{
		"__name__": starlark.String("__app__"),
		"data":     table,
		"ui":       newUIModule(),
		"render":   newRenderModule(),
		"reactive": newReactiveModule(),
	}
	if s.exploration {
		env["explore"] = newExploreModule()
	}
	return env
}

// newThread creates a thread bounded by the step limit and cancelled with
// ctx. The returned stop func must be called when the thread is done.
func (s *Sandbox) newThread(ctx context.Context, name string) (*starlark.Thread, func() bool) {
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Debug("app print", "msg", msg)
		},
		Load: func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
			return nil, fmt.Errorf("load(%q): load statements are not supported", module)
		},
	}
	thread.SetMaxExecutionSteps(s.maxSteps)
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, stop
}

// Load executes code against ds and binds its app_ui and server. Every
// failure, including a panic inside a builtin, is returned as *AppError.
func (s *Sandbox) Load(ctx context.Context, code string, ds *dataset.Dataset) (app *App, err error) {
	defer func() {
		if r := recover(); r != nil {
			app, err = nil, &AppError{Stage: StageExecute, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	table := NewTable(ds)
	thread, stop := s.newThread(ctx, "load")
	defer stop()

	globals, err := starlark.ExecFileOptions(fileOptions, thread, Filename, code, s.Predeclared(table))
	if err != nil {
		var syntaxErr syntax.Error
		var resolveErr resolve.ErrorList
		if errors.As(err, &syntaxErr) || errors.As(err, &resolveErr) {
			return nil, &AppError{Stage: StageCompile, Err: err}
		}
		return nil, &AppError{Stage: StageExecute, Err: err}
	}

	page, ok := globals["app_ui"].(*Node)
	if !ok {
		if globals["app_ui"] == nil {
			return nil, &AppError{Stage: StageBind, Err: fmt.Errorf("%w: app_ui is not defined", ErrMissingBinding)}
		}
		return nil, &AppError{Stage: StageBind, Err: fmt.Errorf("app_ui must be a ui element, got %s", globals["app_ui"].Type())}
	}
	server, ok := globals["server"].(starlark.Callable)
	if !ok {
		if globals["server"] == nil {
			return nil, &AppError{Stage: StageBind, Err: fmt.Errorf("%w: server is not defined", ErrMissingBinding)}
		}
		return nil, &AppError{Stage: StageBind, Err: fmt.Errorf("server must be a function, got %s", globals["server"].Type())}
	}

	app = newApp(s, page, table)
	args := starlark.Tuple{app.input, app.output}
	if fn, ok := server.(*starlark.Function); ok && fn.NumParams() >= 3 {
		args = append(args, starlark.None)
	}
	if _, err := starlark.Call(thread, server, args, nil); err != nil {
		return nil, &AppError{Stage: StageServer, Err: err}
	}

	s.logger.Debug("app loaded",
		"inputs", len(app.inputs),
		"outputs", len(app.output.renderers),
		"steps", thread.ExecutionSteps())
	return app, nil
}
