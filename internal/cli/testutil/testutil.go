// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/leapstack-labs/leapdash/internal/cli/output"
)

// SalesCSV is a small dataset used by command tests.
const SalesCSV = "region,sales\nnorth,10\nsouth,20\nnorth,5\n"

// SalesApp is an in-process app over SalesCSV.
const SalesApp = `app_ui = ui.page(
    ui.input_select("region", "Region", data.unique("region")),
    ui.output_text("total"),
)

def server(input, output):
    output.total = render.text(lambda: "Total: %d" % data.filter("region", input.region()).sum("sales"))
`

// WriteFile writes content to name inside dir and returns the path.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", name, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// Fenced wraps code in a python code fence with surrounding chatter, the
// way chat models usually answer.
func Fenced(code string) string {
	return "Here is your app:\n```python\n" + code + "```\nEnjoy!"
}

// ModelServer is a fake OpenAI-compatible endpoint serving /v1.
type ModelServer struct {
	*httptest.Server
	Model string

	mu      sync.Mutex
	prompts []string
}

// NewModelServer starts a fake model endpoint that answers every chat
// completion with respond(prompt). The server is closed with the test.
func NewModelServer(t *testing.T, model string, respond func(prompt string) string) *ModelServer {
	t.Helper()
	ms := &ModelServer{Model: model}

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models/{model}", func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "model")
			if id != model {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"message": "model " + id + " not found", "type": "not_found_error"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"id": id, "object": "model", "created": 1, "owned_by": "test"})
		})
		r.Post("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Messages []struct {
					Content string `json:"content"`
				} `json:"messages"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"message": "bad request"}})
				return
			}
			prompt := req.Messages[0].Content
			ms.mu.Lock()
			ms.prompts = append(ms.prompts, prompt)
			ms.mu.Unlock()

			writeJSON(w, http.StatusOK, map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   model,
				"choices": []map[string]any{{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]any{"role": "assistant", "content": respond(prompt)},
				}},
				"usage": map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
			})
		})
	})

	ms.Server = httptest.NewServer(r)
	t.Cleanup(ms.Close)
	return ms
}

// BaseURL returns the endpoint to configure as model.base_url.
func (ms *ModelServer) BaseURL() string {
	return ms.URL + "/v1"
}

// Prompts returns the prompts received so far.
func (ms *ModelServer) Prompts() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.prompts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// TestRenderer wraps a Renderer for testing with captured output buffers.
type TestRenderer struct {
	*output.Renderer
	Out    *bytes.Buffer
	ErrOut *bytes.Buffer
}

// NewTestRenderer creates a new test renderer with the specified mode and TTY state.
// Output is captured in buffers for inspection.
func NewTestRenderer(mode output.Mode, isTTY bool) *TestRenderer {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &TestRenderer{
		Renderer: output.NewRendererWithTTY(out, errOut, mode, isTTY),
		Out:      out,
		ErrOut:   errOut,
	}
}

// Output returns the stdout output as a string.
func (tr *TestRenderer) Output() string {
	return tr.Out.String()
}

// ErrorOutput returns the stderr output as a string.
func (tr *TestRenderer) ErrorOutput() string {
	return tr.ErrOut.String()
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}

// AssertValidMarkdown performs basic markdown validation.
// It checks for unclosed code fences and empty headers.
func AssertValidMarkdown(t *testing.T, md string) {
	t.Helper()

	fenceCount := strings.Count(md, "```")
	if fenceCount%2 != 0 {
		t.Errorf("unbalanced code fences in markdown: found %d occurrences", fenceCount)
	}

	for i, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") && strings.TrimLeft(trimmed, "# ") == "" {
			t.Errorf("empty header at line %d: %q", i+1, line)
		}
	}
}
