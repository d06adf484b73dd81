package dashboard

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/leapstack-labs/leapdash/internal/session"
	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/internal/ui/features"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

type testServer struct {
	*httptest.Server
	fixture *features.TestFixture
	client  *http.Client
}

func setupTestServer(t *testing.T, respond features.Responder) *testServer {
	t.Helper()

	fixture := features.SetupTestFixture(t, respond)
	r := chi.NewMux()
	require.NoError(t, SetupRoutes(r, fixture.Registry, fixture.SessionStore, fixture.Notifier, testutil.NewTestLogger(t), false))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &testServer{Server: srv, fixture: fixture, client: &http.Client{Jar: jar, Timeout: 10 * time.Second}}
}

func (s *testServer) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := s.client.Get(s.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (s *testServer) datastarPost(t *testing.T, path, contentType string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, s.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Datastar-Request", "true")
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (s *testServer) upload(t *testing.T, name, content string, datastarRequest bool) (*http.Response, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	if datastarRequest {
		return s.datastarPost(t, "/upload", mw.FormDataContentType(), &buf)
	}
	resp, err := s.client.Post(s.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (s *testServer) generate(t *testing.T, signals string) (*http.Response, string) {
	t.Helper()
	return s.datastarPost(t, "/generate", "application/json", strings.NewReader(signals))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func findByID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == "id" && a.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findByID(c, id); found != nil {
			return found
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// =============================================================================
// Page
// =============================================================================

func TestPage_InitialState(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, body := s.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Set-Cookie"), "a session cookie is issued")

	doc, err := html.Parse(strings.NewReader(body))
	require.NoError(t, err)

	appRoot := findByID(doc, "app-root")
	require.NotNil(t, appRoot)
	assert.Contains(t, textOf(appRoot), PlaceholderText)

	desc := findByID(doc, "data-description")
	require.NotNil(t, desc)
	assert.Contains(t, textOf(desc), "No data loaded.")

	assert.Contains(t, body, OverlayText)
	assert.Contains(t, body, `data-init="@get('/updates')"`)
	assert.Contains(t, body, `aria-disabled="true"`, "download is disabled without an artifact")
	assert.NotContains(t, body, "/reload", "reload hook only in dev mode")
}

func TestPage_ReusesSession(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	s.get(t, "/")
	s.get(t, "/")
	assert.Equal(t, 1, s.fixture.Registry.Len())
}

func TestPage_CookieWorksOverPlainHTTP(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, _ := s.get(t, "/")
	cookie := resp.Header.Get("Set-Cookie")
	require.NotEmpty(t, cookie)
	assert.NotContains(t, cookie, "Secure")
	assert.Contains(t, cookie, "SameSite=Lax")

	s.upload(t, "sales.csv", features.SalesCSV, true)
	_, body := s.generate(t, `{"description":"","exploration":false}`)
	assert.NotContains(t, body, session.NoInputMessage, "upload and generate share one session")
	assert.Equal(t, 1, s.fixture.Registry.Len())
}

func TestHandlers_ForgetInputsOfClosedSessions(t *testing.T) {
	fixture := features.SetupTestFixture(t, features.Fenced(features.SalesApp))
	h := NewHandlers(fixture.Registry, fixture.SessionStore, fixture.Notifier, testutil.NewTestLogger(t), false)

	a := fixture.Registry.GetOrCreate("")
	b := fixture.Registry.GetOrCreate("")
	h.mu.Lock()
	h.inputs[a.ID()] = appInputs{generationID: "g1"}
	h.inputs[b.ID()] = appInputs{generationID: "g2"}
	h.mu.Unlock()

	assert.Equal(t, 2, fixture.Registry.Sweep(time.Now().Add(2*time.Hour)))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.inputs, "swept sessions drop their inputs")
}

// =============================================================================
// Upload
// =============================================================================

func TestUpload_Datastar(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, body := s.upload(t, "sales.csv", features.SalesCSV, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")
	assert.Contains(t, body, "<strong>sales.csv</strong>")
	assert.Contains(t, body, "Columns: region, sales")
	assert.Contains(t, body, ReadyText)
}

func TestUpload_FormFallbackRedirects(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, body := s.upload(t, "sales.csv", features.SalesCSV, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/", resp.Request.URL.Path, "redirected back to the page")
	assert.Contains(t, body, "<strong>sales.csv</strong>")
}

func TestUpload_MissingFile(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())

	resp, _ := s.datastarPost(t, "/upload", mw.FormDataContentType(), &buf)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpload_EmptyFileShowsError(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	_, body := s.upload(t, "empty.csv", "", true)
	assert.Contains(t, body, session.ParseMessage)
}

// =============================================================================
// Generate
// =============================================================================

func TestGenerate_WithoutUpload(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, body := s.generate(t, `{"description":"sales","exploration":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, session.NoInputMessage)
	assert.Contains(t, body, `"busy":true`)
	assert.Contains(t, body, `"busy":false`)
}

func TestGenerate_RendersApp(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))
	s.upload(t, "sales.csv", features.SalesCSV, true)

	resp, body := s.generate(t, `{"description":"total sales per region","exploration":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Contains(t, body, "Total: 15")
	assert.Contains(t, body, `id="app-form"`)
	assert.Contains(t, body, `href="/download"`)
	assert.Contains(t, body, "Model response")
	assert.NotContains(t, body, `class="error" id="error"`)

	busyOn := strings.Index(body, `"busy":true`)
	busyOff := strings.LastIndex(body, `"busy":false`)
	require.GreaterOrEqual(t, busyOn, 0)
	assert.Greater(t, busyOff, busyOn, "busy is cleared after it was set")
}

func TestGenerate_InvalidApp(t *testing.T) {
	s := setupTestServer(t, features.Fenced("import streamlit as st\n"))
	s.upload(t, "sales.csv", features.SalesCSV, true)

	_, body := s.generate(t, `{"description":"","exploration":false}`)
	assert.Contains(t, body, "Failed to generate a valid app.")
	assert.Contains(t, body, `href="/download"`, "invalid code is still downloadable")
}

func TestGenerate_BusyRejected(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := setupTestServer(t, func(context.Context, string) (string, error) {
		close(entered)
		<-release
		return "```\n" + features.SalesApp + "```", nil
	})
	s.upload(t, "sales.csv", features.SalesCSV, true)

	first := make(chan string, 1)
	go func() {
		_, body := s.generate(t, `{"description":"","exploration":false}`)
		first <- body
	}()
	<-entered

	_, body := s.generate(t, `{"description":"","exploration":false}`)
	assert.Contains(t, body, session.BusyMessage)
	assert.Contains(t, body, `id="notice"`)

	close(release)
	assert.Contains(t, <-first, "Total: 15")
}

func TestGenerate_BadSignals(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, _ := s.generate(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// Exploration and app rendering
// =============================================================================

func TestExploration_UpdatesDescription(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))
	s.upload(t, "sales.csv", features.SalesCSV, true)

	_, body := s.datastarPost(t, "/exploration", "application/json", strings.NewReader(`{"exploration":true}`))
	assert.Contains(t, body, "Yes")
}

func TestRenderApp(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))
	s.upload(t, "sales.csv", features.SalesCSV, true)
	s.generate(t, `{"description":"","exploration":false}`)

	_, body := s.datastarPost(t, "/app/render", "application/x-www-form-urlencoded", strings.NewReader("region=south"))
	assert.Contains(t, body, "Total: 20")
	assert.Contains(t, body, `<option value="south" selected>`)

	// Later pushes keep the submitted selection.
	_, page := s.get(t, "/")
	assert.Contains(t, page, "Total: 20")
}

func TestRenderApp_NoApp(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	_, body := s.datastarPost(t, "/app/render", "application/x-www-form-urlencoded", strings.NewReader("region=south"))
	assert.Contains(t, body, PlaceholderText)
}

// =============================================================================
// Download
// =============================================================================

func TestDownload(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))

	resp, body := s.get(t, "/download")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, NoArtifactMessage)

	s.upload(t, "sales.csv", features.SalesCSV, true)
	s.generate(t, `{"description":"","exploration":false}`)

	resp, body = s.get(t, "/download")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="sales_app.py"`, resp.Header.Get("Content-Disposition"))
	assert.Equal(t, strings.TrimSpace(features.SalesApp), body)
}

// =============================================================================
// Updates
// =============================================================================

func TestUpdates_PushesOnBroadcast(t *testing.T) {
	s := setupTestServer(t, features.Fenced(features.SalesApp))
	s.get(t, "/")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+"/updates", nil)
	require.NoError(t, err)
	resp, err := s.client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	require.Eventually(t, func() bool { return s.fixture.Notifier.Listeners() == 1 }, 2*time.Second, 10*time.Millisecond)
	s.fixture.Notifier.BroadcastAll()

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lines:
			require.True(t, ok, "stream ended before content was pushed")
			if strings.Contains(line, `id="content"`) {
				cancel()
				require.Eventually(t, func() bool { return s.fixture.Notifier.Listeners() == 0 }, 2*time.Second, 10*time.Millisecond)
				return
			}
		case <-deadline:
			t.Fatal("no content pushed after broadcast")
		}
	}
}
