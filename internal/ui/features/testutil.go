// Package features provides shared test utilities for UI feature tests.
package features

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/internal/ui/notifier"
)

// SalesCSV is a small upload used across handler tests.
const SalesCSV = "region,sales\nnorth,10\nsouth,20\nnorth,5\n"

// SalesApp is a valid in-process app for SalesCSV.
const SalesApp = `app_ui = ui.page(
    ui.input_select("region", "Region", data.unique("region")),
    ui.output_text("total"),
)

def server(input, output):
    output.total = render.text(lambda: "Total: %d" % data.filter("region", input.region()).sum("sales"))
`

// Responder answers model prompts in tests.
type Responder func(ctx context.Context, prompt string) (string, error)

// Fenced answers every prompt with code inside a python fence.
func Fenced(code string) Responder {
	return func(context.Context, string) (string, error) {
		return "Sure:\n```python\n" + code + "```\n", nil
	}
}

// TestFixture holds all dependencies needed for UI handler tests.
type TestFixture struct {
	Registry     *session.Registry
	Notifier     *notifier.Notifier
	SessionStore *sessions.CookieStore
	ArtifactDir  string
}

// SetupTestFixture wires a registry with the real loader, composer,
// persister and in-process dispatcher around a scripted model.
func SetupTestFixture(t *testing.T, respond Responder) *TestFixture {
	t.Helper()

	logger := testutil.NewTestLogger(t)

	loader, err := dataset.NewLoader(dataset.Config{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = loader.Close() })

	dispatcher, err := runner.NewDispatcher(runner.Config{Mode: runner.ModeInProcess, Logger: logger})
	require.NoError(t, err)

	notify := notifier.New()
	artifactDir := t.TempDir()

	registry := session.NewRegistry(session.Deps{
		Loader:     loader,
		Composer:   prompt.NewComposer(prompt.Starlark),
		Client:     llm.ClientFunc(respond),
		Persister:  artifact.NewPersister(artifact.Config{Dir: artifactDir, Logger: logger}),
		Dispatcher: dispatcher,
		UploadDir:  t.TempDir(),
		Notify:     notify.Broadcast,
		Logger:     logger,
	}, time.Hour)
	t.Cleanup(registry.CloseAll)

	return &TestFixture{
		Registry:     registry,
		Notifier:     notify,
		SessionStore: NewTestSessionStore(),
		ArtifactDir:  artifactDir,
	}
}

// NewTestSessionStore creates a session store for testing. The cookie is
// not Secure so it round-trips over the plain HTTP test server.
func NewTestSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte("test-secret-key-32-bytes-long!!"))
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode
	store.Options.Secure = false
	return store
}

// WithCookies copies the cookies set on a previous response onto r, so a
// test can keep talking to the same session.
func WithCookies(r *http.Request, resp *http.Response) *http.Request {
	for _, c := range resp.Cookies() {
		r.AddCookie(c)
	}
	return r
}
