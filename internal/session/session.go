// Package session runs the generate pipeline for one user. Each session owns
// an actor goroutine that processes uploads and generate requests one at a
// time; a busy guard rejects concurrent generate requests.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/extract"
	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
)

// Status is the fire-and-forget busy indicator.
type Status struct {
	Show bool `json:"show"`
}

// StatusSink receives status updates. Implementations must not block.
type StatusSink interface {
	SendStatus(Status)
}

// StatusFunc adapts a function to StatusSink.
type StatusFunc func(Status)

// SendStatus implements StatusSink.
func (f StatusFunc) SendStatus(s Status) { f(s) }

// Loader reads an uploaded CSV file.
type Loader interface {
	LoadFile(ctx context.Context, path string) (*dataset.Dataset, error)
}

// Persister writes the generated code for download.
type Persister interface {
	Persist(code, sourceFileName string) (string, error)
}

// Dispatcher executes generated code.
type Dispatcher interface {
	Dispatch(ctx context.Context, job runner.Job) runner.Result
}

// Deps are the pipeline stages a session drives.
type Deps struct {
	Loader     Loader
	Composer   *prompt.Composer
	Client     llm.Client
	Persister  Persister
	Dispatcher Dispatcher
	SampleRows int
	UploadDir  string
	// Notify is called with the session id whenever its view changes.
	Notify func(id string)
	Logger *slog.Logger
}

// GenerateRequest carries the user's inputs for one generation.
type GenerateRequest struct {
	Description string
	Exploration bool
}

// View is a snapshot of a session for presentation.
type View struct {
	ID           string
	FileName     string
	Dataset      *dataset.Dataset
	Description  string
	Exploration  bool
	Busy         bool
	GenerationID string
	Prompt       string
	Response     string
	Code         string
	Fallback     bool
	ArtifactPath string
	Result       runner.Result
	Exit         *runner.Exit
	Error        string
	UpdatedAt    time.Time
}

// DataDescription summarizes the uploaded data for the description panel.
func (v View) DataDescription() string {
	return v.Dataset.Describe(v.Exploration)
}

type commandKind int

const (
	cmdUpload commandKind = iota
	cmdGenerate
)

type command struct {
	kind     commandKind
	ctx      context.Context
	fileName string
	body     io.Reader
	req      GenerateRequest
	sink     StatusSink
	reply    chan error
}

// Session is one user's pipeline state. It is safe for concurrent use.
type Session struct {
	id     string
	deps   Deps
	logger *slog.Logger

	cmdCh chan command
	done  chan struct{}
	once  sync.Once
	busy  atomic.Bool

	lastSeen atomic.Int64

	mu   sync.RWMutex
	view View
	path string
}

// New starts a session actor.
func New(id string, deps Deps) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.SampleRows <= 0 {
		deps.SampleRows = prompt.DefaultSampleRows
	}
	if deps.UploadDir == "" {
		deps.UploadDir = filepath.Join(os.TempDir(), "leapdash-uploads")
	}

	s := &Session{
		id:     id,
		deps:   deps,
		logger: logger.With("session", id),
		cmdCh:  make(chan command, 1),
		done:   make(chan struct{}),
		view:   View{ID: id, UpdatedAt: time.Now()},
	}
	s.touch()
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// View returns a snapshot of the session.
func (s *Session) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.view
	v.Busy = s.busy.Load()
	return v
}

// Busy reports whether a generation is running.
func (s *Session) Busy() bool { return s.busy.Load() }

// SetExploration records the exploration toggle without generating.
func (s *Session) SetExploration(enabled bool) {
	s.update(func(v *View) { v.Exploration = enabled })
}

// Upload stores the file and loads it as the session's dataset. It waits
// for a running generation to finish.
func (s *Session) Upload(ctx context.Context, fileName string, body io.Reader) error {
	return s.send(ctx, command{kind: cmdUpload, ctx: ctx, fileName: fileName, body: body})
}

// Generate runs the full pipeline and returns when it completes or ctx is
// done. A request made while another generation runs fails with ErrBusy.
// The pipeline itself is detached from ctx: an abandoned request does not
// cancel the model call.
func (s *Session) Generate(ctx context.Context, req GenerateRequest, sink StatusSink) error {
	if !s.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if sink == nil {
		sink = StatusFunc(func(Status) {})
	}
	err := s.send(ctx, command{kind: cmdGenerate, ctx: context.WithoutCancel(ctx), req: req, sink: sink})
	if errors.Is(err, ErrBusy) || errors.Is(err, ErrClosed) {
		s.busy.Store(false)
	}
	return err
}

// Download returns the path of the last persisted artifact if it exists.
func (s *Session) Download() (string, bool) {
	s.mu.RLock()
	path := s.view.ArtifactPath
	s.mu.RUnlock()
	if path == "" {
		return "", false
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Close stops the actor. Pending requests fail with ErrClosed.
func (s *Session) Close() {
	s.once.Do(func() { close(s.done) })
}

// LastSeen returns when the session was last used.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) touch() { s.lastSeen.Store(time.Now().UnixNano()) }

// send enqueues cmd and waits for its reply. Generate commands never
// queue behind one another; the busy guard already admitted this one, so a
// full slot means an upload is pending and the request is rejected.
func (s *Session) send(ctx context.Context, cmd command) error {
	s.touch()
	cmd.reply = make(chan error, 1)

	if cmd.kind == cmdGenerate {
		select {
		case s.cmdCh <- cmd:
		case <-s.done:
			return ErrClosed
		default:
			return ErrBusy
		}
	} else {
		select {
		case s.cmdCh <- cmd:
		case <-s.done:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.cmdCh:
			var err error
			switch cmd.kind {
			case cmdUpload:
				err = s.upload(cmd.ctx, cmd.fileName, cmd.body)
			case cmdGenerate:
				err = s.generate(cmd.ctx, cmd.req, cmd.sink)
			}
			cmd.reply <- err
		}
	}
}

func (s *Session) update(fn func(v *View)) {
	s.mu.Lock()
	fn(&s.view)
	s.view.UpdatedAt = time.Now()
	s.mu.Unlock()
	if s.deps.Notify != nil {
		s.deps.Notify(s.id)
	}
}

func (s *Session) upload(ctx context.Context, fileName string, body io.Reader) error {
	name := filepath.Base(filepath.Clean("/" + fileName))
	if name == "/" || name == "." {
		name = "upload.csv"
	}
	dir := filepath.Join(s.deps.UploadDir, s.id)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path) //nolint:gosec // name is reduced to a base name above
	if err != nil {
		return fmt.Errorf("store upload: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		return fmt.Errorf("store upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("store upload: %w", err)
	}

	ds, err := s.deps.Loader.LoadFile(ctx, path)
	if err != nil {
		s.update(func(v *View) { v.Error = Message(err) })
		return err
	}

	s.mu.Lock()
	s.path = path
	s.mu.Unlock()
	s.update(func(v *View) {
		v.FileName = name
		v.Dataset = ds
		v.Error = ""
	})
	s.logger.Info("dataset uploaded", "file", name, "rows", ds.RowCount, "columns", len(ds.Columns))
	return nil
}

// generate runs one pass of the pipeline. Busy was set by Generate and is
// cleared here exactly once, together with the hide status.
func (s *Session) generate(ctx context.Context, req GenerateRequest, sink StatusSink) (err error) {
	genID := uuid.NewString()
	start := time.Now()
	logger := s.logger.With("generation", genID)

	s.update(func(v *View) {
		v.GenerationID = genID
		v.Description = req.Description
		v.Exploration = req.Exploration
		v.Error = ""
		v.Exit = nil
	})
	sink.SendStatus(Status{Show: true})

	defer func() {
		s.busy.Store(false)
		if err != nil {
			msg := Message(err)
			s.update(func(v *View) { v.Error = msg })
			logger.Warn("generation failed", "error", err, "duration", time.Since(start))
		} else {
			s.update(func(*View) {})
			logger.Info("generation finished", "duration", time.Since(start))
		}
		sink.SendStatus(Status{Show: false})
	}()

	s.mu.RLock()
	path, name := s.path, s.view.FileName
	s.mu.RUnlock()
	if path == "" {
		return ErrNoInput
	}

	ds, err := s.deps.Loader.LoadFile(ctx, path)
	if err != nil {
		return err
	}

	composed := s.deps.Composer.Compose(prompt.NewRequest(ds, req.Description, req.Exploration, s.deps.SampleRows))
	s.update(func(v *View) {
		v.Dataset = ds
		v.Prompt = composed
	})

	response, err := s.deps.Client.Invoke(ctx, composed)
	if err != nil {
		return err
	}

	code := extract.Extract(response)
	if code.Fallback {
		logger.Debug("no fenced code block in response, using whole response")
	}
	s.update(func(v *View) {
		v.Response = response
		v.Code = code.Code
		v.Fallback = code.Fallback
	})

	artifactPath, err := s.deps.Persister.Persist(code.Code, name)
	if err != nil {
		return err
	}
	s.update(func(v *View) { v.ArtifactPath = artifactPath })

	res := s.deps.Dispatcher.Dispatch(ctx, runner.Job{
		GenerationID: genID,
		Code:         code.Code,
		Dataset:      ds,
		Exploration:  req.Exploration,
		OnExit:       s.exited,
	})
	s.update(func(v *View) {
		v.Result = res
		v.Error = res.Message
		// A child that fails fast can exit before Dispatch returns.
		if v.Exit != nil && v.Exit.GenerationID == genID && res.State != runner.StateFailed {
			v.Result.State = runner.StateExited
		}
	})
	return nil
}

// exited records a process exit unless a newer generation has started. The
// generation check and the write share one critical section.
func (s *Session) exited(e runner.Exit) {
	s.mu.Lock()
	if e.GenerationID != s.view.GenerationID {
		s.mu.Unlock()
		s.logger.Debug("discarding exit of superseded generation", "generation", e.GenerationID, "code", e.Code)
		return
	}
	s.view.Exit = &e
	if s.view.Result.GenerationID == e.GenerationID {
		s.view.Result.State = runner.StateExited
	}
	s.view.UpdatedAt = time.Now()
	s.mu.Unlock()
	if s.deps.Notify != nil {
		s.deps.Notify(s.id)
	}
}
