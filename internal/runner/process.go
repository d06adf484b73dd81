package runner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/leapdash/internal/extract"
)

// Process strategy defaults.
const (
	DefaultCommand    = "conda run --no-capture-output -n {env} python {script}"
	DefaultEnv        = "shiny"
	DefaultScriptName = "generated_app.py"
	DefaultLogName    = "app.log"
)

// ProcessConfig configures the out-of-process strategy. Command may
// reference {env} and {script}; both are shell quoted when substituted.
type ProcessConfig struct {
	Dir     string
	Command string
	Env     string
	Spawner Spawner
}

// Process writes generated code to a fixed script path and starts it as a
// child process with its output redirected to a fixed log file. Children
// are never killed by the dispatcher.
type Process struct {
	scriptPath string
	logPath    string
	command    string
	env        string
	spawner    Spawner
	logger     *slog.Logger
}

// NewProcess creates the process strategy.
func NewProcess(cfg ProcessConfig, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Command == "" {
		cfg.Command = DefaultCommand
	}
	if cfg.Env == "" {
		cfg.Env = DefaultEnv
	}
	if cfg.Spawner == nil {
		cfg.Spawner = ShellSpawner{}
	}
	if !strings.Contains(cfg.Command, "{script}") {
		return nil, fmt.Errorf("execution command %q must reference {script}", cfg.Command)
	}
	dir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve execution dir: %w", err)
	}
	return &Process{
		scriptPath: filepath.Join(dir, DefaultScriptName),
		logPath:    filepath.Join(dir, DefaultLogName),
		command:    cfg.Command,
		env:        cfg.Env,
		spawner:    cfg.Spawner,
		logger:     logger,
	}, nil
}

// ScriptPath returns where generated code is written before spawning.
func (p *Process) ScriptPath() string { return p.scriptPath }

// LogPath returns the file receiving the child's combined output.
func (p *Process) LogPath() string { return p.logPath }

// CommandLine renders the command for the current script and environment.
func (p *Process) CommandLine() string {
	r := strings.NewReplacer("{env}", quote(p.env), "{script}", quote(p.scriptPath))
	return r.Replace(p.command)
}

// Dispatch implements Strategy. It returns as soon as the child has
// started; the exit status is delivered to job.OnExit.
func (p *Process) Dispatch(_ context.Context, job Job) Result {
	res := Result{ScriptPath: p.scriptPath, LogPath: p.logPath}
	fail := func(msg string, err error) Result {
		res.State = StateFailed
		res.Message = msg
		res.Err = err
		return res
	}

	if err := os.MkdirAll(filepath.Dir(p.scriptPath), 0o750); err != nil {
		return fail("Failed to prepare the app directory.", fmt.Errorf("create execution dir: %w", err))
	}
	if err := os.WriteFile(p.scriptPath, []byte(extract.Clean(job.Code)), 0o644); err != nil { //nolint:gosec // script must be readable by the interpreter
		return fail("Failed to write the app script.", fmt.Errorf("write script: %w", err))
	}

	logFile, err := os.Create(p.logPath)
	if err != nil {
		return fail("Failed to open the app log.", fmt.Errorf("create log file: %w", err))
	}

	line := p.CommandLine()
	h, err := p.spawner.Spawn(line, logFile)
	if err != nil {
		_ = logFile.Close()
		spawnErr := &SpawnError{Command: line, Err: err}
		return fail(fmt.Sprintf("Failed to start the app: %v", err), spawnErr)
	}

	res.State = StateSucceeded
	res.PID = h.PID()
	p.logger.Info("app process started", "pid", res.PID, "command", line, "log", p.logPath)

	go func() {
		code, err := h.Wait()
		_ = logFile.Close()
		p.logger.Info("app process exited", "pid", res.PID, "code", code, "error", err)
		if job.OnExit != nil {
			job.OnExit(Exit{
				GenerationID: job.GenerationID,
				PID:          res.PID,
				Code:         code,
				LogPath:      p.logPath,
				Err:          err,
			})
		}
	}()
	return res
}

// Tail returns at most n bytes from the end of the file at path.
func Tail(path string, n int64) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is the configured log file
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := info.Size() - n
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return "", err
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	if offset > 0 {
		if i := strings.IndexByte(string(b), '\n'); i >= 0 {
			b = b[i+1:]
		}
	}
	return string(b), nil
}
