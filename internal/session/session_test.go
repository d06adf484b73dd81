package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/testutil"
)

const appCode = `app_ui = ui.page(
    ui.input_select("city", "City", data.unique("city")),
    ui.output_text("temp"),
)

def server(input, output):
    output.temp = render.text(lambda: data.filter("city", input.city()).max("temp"))
`

// =============================================================================
// Fixtures
// =============================================================================

type fakeLoader struct {
	err   error
	calls atomic.Int32
}

func (f *fakeLoader) LoadFile(_ context.Context, path string) (*dataset.Dataset, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &dataset.Dataset{
		Name: filepath.Base(path),
		Columns: []dataset.Column{
			{Name: "city", Type: "VARCHAR", Values: []any{"Oslo", "Lima"}},
			{Name: "temp", Type: "BIGINT", Values: []any{int64(4), int64(19)}},
		},
		RowCount: 2,
	}, nil
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []bool
}

func (r *statusRecorder) SendStatus(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s.Show)
}

func (r *statusRecorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.statuses...)
}

type fixture struct {
	session  *Session
	loader   *fakeLoader
	prompts  chan string
	calls    atomic.Int32
	artifact string
}

// newFixture builds a session whose model answers with respond.
func newFixture(t *testing.T, respond func(ctx context.Context, prompt string) (string, error)) *fixture {
	t.Helper()
	f := &fixture{loader: &fakeLoader{}, prompts: make(chan string, 8)}
	logger := testutil.NewTestLogger(t)

	dispatcher, err := runner.NewDispatcher(runner.Config{Mode: runner.ModeInProcess, Logger: logger})
	require.NoError(t, err)

	f.artifact = t.TempDir()
	client := llm.ClientFunc(func(ctx context.Context, p string) (string, error) {
		f.calls.Add(1)
		f.prompts <- p
		return respond(ctx, p)
	})

	f.session = New("s1", Deps{
		Loader:     f.loader,
		Composer:   prompt.NewComposer(prompt.Starlark),
		Client:     client,
		Persister:  artifact.NewPersister(artifact.Config{Dir: f.artifact}),
		Dispatcher: dispatcher,
		UploadDir:  t.TempDir(),
		Logger:     logger,
	})
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) upload(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Upload(context.Background(), "weather.csv", strings.NewReader("city,temp\nOslo,4\nLima,19\n")))
}

func fenced(code string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) {
		return "Here is your app:\n```python\n" + code + "```\nEnjoy!", nil
	}
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.upload(t)

	rec := &statusRecorder{}
	err := f.session.Generate(context.Background(), GenerateRequest{Description: "weather by city"}, rec)
	require.NoError(t, err)

	v := f.session.View()
	assert.False(t, v.Busy)
	assert.Empty(t, v.Error)
	assert.Equal(t, "weather.csv", v.FileName)
	assert.Equal(t, strings.TrimSpace(appCode), v.Code)
	assert.False(t, v.Fallback)
	assert.Equal(t, runner.StateSucceeded, v.Result.State)
	require.NotNil(t, v.Result.App)
	assert.NotEmpty(t, v.GenerationID)
	assert.Equal(t, []bool{true, false}, rec.get())

	sent := <-f.prompts
	assert.Contains(t, sent, "Description: weather by city")
	assert.Contains(t, sent, "Data columns: city, temp")

	path, ok := f.session.Download()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(f.artifact, "weather_app.py"), path)
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(appCode), string(content))
}

func TestGenerate_NoUpload(t *testing.T) {
	f := newFixture(t, fenced(appCode))

	rec := &statusRecorder{}
	err := f.session.Generate(context.Background(), GenerateRequest{}, rec)
	require.ErrorIs(t, err, ErrNoInput)

	assert.Equal(t, int32(0), f.calls.Load(), "model must not be called")
	assert.Equal(t, NoInputMessage, f.session.View().Error)
	assert.Equal(t, []bool{true, false}, rec.get())
	assert.False(t, f.session.Busy())

	_, ok := f.session.Download()
	assert.False(t, ok)
}

func TestGenerate_ModelFailureClearsBusy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unavailable", &llm.ClientError{Kind: llm.KindUnavailable, Message: "connection refused"}, UnavailableMessage},
		{"timeout", &llm.ClientError{Kind: llm.KindTimeout, Message: "deadline exceeded"}, TimeoutMessage},
		{"other", errors.New("boom"), "Something went wrong: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, func(context.Context, string) (string, error) { return "", tt.err })
			f.upload(t)

			rec := &statusRecorder{}
			err := f.session.Generate(context.Background(), GenerateRequest{}, rec)
			require.Error(t, err)

			assert.Equal(t, tt.want, Message(err))
			assert.Equal(t, tt.want, f.session.View().Error)
			assert.Equal(t, []bool{true, false}, rec.get())
			assert.False(t, f.session.Busy())
		})
	}
}

func TestGenerate_InvalidApp(t *testing.T) {
	f := newFixture(t, fenced("import streamlit as st\nst.write('hi')\n"))
	f.upload(t)

	err := f.session.Generate(context.Background(), GenerateRequest{}, nil)
	require.NoError(t, err)

	v := f.session.View()
	assert.Equal(t, runner.InvalidAppMessage, v.Error)
	assert.Equal(t, runner.StateFailed, v.Result.State)
	assert.Nil(t, v.Result.App)

	_, ok := f.session.Download()
	assert.True(t, ok, "invalid code is still offered for download")
}

func TestGenerate_FallbackWithoutFence(t *testing.T) {
	f := newFixture(t, func(context.Context, string) (string, error) { return appCode, nil })
	f.upload(t)

	require.NoError(t, f.session.Generate(context.Background(), GenerateRequest{}, nil))
	v := f.session.View()
	assert.True(t, v.Fallback)
	assert.Equal(t, runner.StateSucceeded, v.Result.State)
}

func TestGenerate_ConcurrentRejected(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(context.Context, string) (string, error) {
		<-release
		return "```\n" + appCode + "```", nil
	})
	f.upload(t)

	first := make(chan error, 1)
	go func() {
		first <- f.session.Generate(context.Background(), GenerateRequest{}, nil)
	}()
	<-f.prompts

	err := f.session.Generate(context.Background(), GenerateRequest{}, nil)
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, BusyMessage, Message(err))
	assert.True(t, f.session.View().Busy)

	close(release)
	require.NoError(t, <-first)
	assert.False(t, f.session.Busy())
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestGenerate_DetachedFromRequest(t *testing.T) {
	release := make(chan struct{})
	var modelCtxErr atomic.Value
	f := newFixture(t, func(ctx context.Context, _ string) (string, error) {
		<-release
		modelCtxErr.Store(fmt.Sprint(ctx.Err()))
		return "```\n" + appCode + "```", nil
	})
	f.upload(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.session.Generate(ctx, GenerateRequest{}, nil) }()
	<-f.prompts

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	close(release)

	require.Eventually(t, func() bool { return !f.session.Busy() }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "<nil>", modelCtxErr.Load())
	assert.Equal(t, runner.StateSucceeded, f.session.View().Result.State)
}

func TestGenerate_LoadFailure(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.upload(t)
	f.loader.err = &dataset.ParseError{Name: "weather.csv", Err: dataset.ErrEmpty}

	err := f.session.Generate(context.Background(), GenerateRequest{}, nil)
	require.Error(t, err)
	assert.Equal(t, ParseMessage, f.session.View().Error)
	assert.Equal(t, int32(0), f.calls.Load())
}

func TestGenerate_EndToEnd(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantArtifact string
		wantFallback bool
	}{
		{
			name:         "fenced code is persisted",
			response:     "```python\nx=1\n```",
			wantArtifact: "x=1",
		},
		{
			name:         "refusal is persisted verbatim",
			response:     "I cannot help with that.",
			wantArtifact: "I cannot help with that.",
			wantFallback: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := testutil.NewTestLogger(t)
			loader, err := dataset.NewLoader(dataset.Config{TempDir: t.TempDir(), Logger: logger})
			require.NoError(t, err)
			t.Cleanup(func() { _ = loader.Close() })
			dispatcher, err := runner.NewDispatcher(runner.Config{Mode: runner.ModeInProcess, Logger: logger})
			require.NoError(t, err)

			prompts := make(chan string, 1)
			dir := t.TempDir()
			s := New("s1", Deps{
				Loader:   loader,
				Composer: prompt.NewComposer(prompt.Starlark),
				Client: llm.ClientFunc(func(_ context.Context, p string) (string, error) {
					prompts <- p
					return tt.response, nil
				}),
				Persister:  artifact.NewPersister(artifact.Config{Dir: dir}),
				Dispatcher: dispatcher,
				UploadDir:  t.TempDir(),
				Logger:     logger,
			})
			t.Cleanup(s.Close)

			require.NoError(t, s.Upload(context.Background(), "data.csv", strings.NewReader("a,b\n1,2\n")))
			require.NoError(t, s.Generate(context.Background(), GenerateRequest{Description: "sum of a"}, nil))
			assert.Contains(t, <-prompts, "Data columns: a, b")

			v := s.View()
			assert.Equal(t, tt.wantFallback, v.Fallback)
			assert.Equal(t, runner.InvalidAppMessage, v.Error)
			assert.Equal(t, runner.StateFailed, v.Result.State)

			path, ok := s.Download()
			require.True(t, ok)
			assert.Equal(t, filepath.Join(dir, "data_app.py"), path)
			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantArtifact, string(content))
		})
	}
}

// =============================================================================
// Process exits
// =============================================================================

func TestExited_StaleGenerationIgnored(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.upload(t)
	require.NoError(t, f.session.Generate(context.Background(), GenerateRequest{}, nil))
	current := f.session.View().GenerationID

	f.session.exited(runner.Exit{GenerationID: "older", Code: 1})
	assert.Nil(t, f.session.View().Exit)

	f.session.exited(runner.Exit{GenerationID: current, Code: 3})
	v := f.session.View()
	require.NotNil(t, v.Exit)
	assert.Equal(t, 3, v.Exit.Code)
	assert.Equal(t, runner.StateExited, v.Result.State)
}

type exitedHandle struct{ code int }

func (h exitedHandle) PID() int           { return 4242 }
func (h exitedHandle) Wait() (int, error) { return h.code, nil }

// fastExitSpawner starts "processes" that have already exited.
type fastExitSpawner struct{ code int }

func (s fastExitSpawner) Spawn(string, io.Writer) (runner.Handle, error) {
	return exitedHandle{code: s.code}, nil
}

// slowDispatcher delays the dispatch result so the exit waiter wins.
type slowDispatcher struct {
	next  Dispatcher
	delay time.Duration
}

func (d slowDispatcher) Dispatch(ctx context.Context, job runner.Job) runner.Result {
	res := d.next.Dispatch(ctx, job)
	time.Sleep(d.delay)
	return res
}

func TestExited_BeforeDispatchReturns(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	dispatcher, err := runner.NewDispatcher(runner.Config{
		Mode: runner.ModeProcess,
		Process: runner.ProcessConfig{
			Dir:     t.TempDir(),
			Spawner: fastExitSpawner{code: 127},
		},
		Logger: logger,
	})
	require.NoError(t, err)

	s := New("s1", Deps{
		Loader:     &fakeLoader{},
		Composer:   prompt.NewComposer(prompt.Shiny),
		Client:     llm.ClientFunc(fenced(appCode)),
		Persister:  artifact.NewPersister(artifact.Config{Dir: t.TempDir()}),
		Dispatcher: slowDispatcher{next: dispatcher, delay: 50 * time.Millisecond},
		UploadDir:  t.TempDir(),
		Logger:     logger,
	})
	t.Cleanup(s.Close)

	require.NoError(t, s.Upload(context.Background(), "weather.csv", strings.NewReader("city,temp\nOslo,4\n")))
	require.NoError(t, s.Generate(context.Background(), GenerateRequest{}, nil))

	v := s.View()
	require.NotNil(t, v.Exit)
	assert.Equal(t, 127, v.Exit.Code)
	assert.Equal(t, runner.StateExited, v.Result.State, "a stored dispatch result must not hide the exit")
	assert.Equal(t, 4242, v.Result.PID)
}

func TestGenerate_ProcessScriptDropsComments(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	dispatcher, err := runner.NewDispatcher(runner.Config{
		Mode:    runner.ModeProcess,
		Process: runner.ProcessConfig{Dir: t.TempDir(), Spawner: fastExitSpawner{}},
		Logger:  logger,
	})
	require.NoError(t, err)

	code := "# entry point\nprint('hi')"
	s := New("s1", Deps{
		Loader:     &fakeLoader{},
		Composer:   prompt.NewComposer(prompt.Shiny),
		Client:     llm.ClientFunc(fenced(code + "\n")),
		Persister:  artifact.NewPersister(artifact.Config{Dir: t.TempDir()}),
		Dispatcher: dispatcher,
		UploadDir:  t.TempDir(),
		Logger:     logger,
	})
	t.Cleanup(s.Close)

	require.NoError(t, s.Upload(context.Background(), "weather.csv", strings.NewReader("city,temp\nOslo,4\n")))
	require.NoError(t, s.Generate(context.Background(), GenerateRequest{}, nil))

	path, ok := s.Download()
	require.True(t, ok)
	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, code, string(saved))

	script, err := os.ReadFile(s.View().Result.ScriptPath)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(script))
}

func TestExited_LeavesEarlierResult(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.session.update(func(v *View) {
		v.GenerationID = "g2"
		v.Result = runner.Result{GenerationID: "g1", State: runner.StateSucceeded}
	})

	f.session.exited(runner.Exit{GenerationID: "g2", Code: 1})
	v := f.session.View()
	require.NotNil(t, v.Exit)
	assert.Equal(t, runner.StateSucceeded, v.Result.State, "the previous generation's result is left alone")
}

// =============================================================================
// Upload and view
// =============================================================================

func TestUpload_DescriptionPanel(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	assert.Equal(t, "No data loaded.", f.session.View().DataDescription())

	f.upload(t)
	f.session.SetExploration(true)
	desc := f.session.View().DataDescription()
	assert.Contains(t, desc, "- Columns: city, temp")
	assert.Contains(t, desc, "- Number of rows: 2")
	assert.Contains(t, desc, "Yes")
}

func TestUpload_Failure(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.loader.err = &dataset.ParseError{Name: "bad.csv", Err: errors.New("unterminated quote")}

	err := f.session.Upload(context.Background(), "bad.csv", strings.NewReader("\""))
	require.Error(t, err)
	assert.Equal(t, ParseMessage, f.session.View().Error)
	assert.Empty(t, f.session.View().FileName)
}

func TestUpload_StripsDirectories(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	require.NoError(t, f.session.Upload(context.Background(), "../../etc/passwd.csv", strings.NewReader("a\n1\n")))
	assert.Equal(t, "passwd.csv", f.session.View().FileName)
}

func TestClose(t *testing.T) {
	f := newFixture(t, fenced(appCode))
	f.session.Close()
	err := f.session.Upload(context.Background(), "x.csv", strings.NewReader("a\n"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, f.session.Generate(context.Background(), GenerateRequest{}, nil), ErrClosed)
	assert.False(t, f.session.Busy())
}
