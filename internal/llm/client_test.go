package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/testutil"
)

func completionBody(content string) string {
	body, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "deepseek-coder-v2",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7},
	})
	return string(body)
}

func TestOpenAIClient_Invoke(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody("```python\nprint(1)\n```"))
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{
		BaseURL: srv.URL + "/v1",
		Model:   "deepseek-coder-v2",
		Logger:  testutil.NewTestLogger(t),
	})

	got, err := c.Invoke(context.Background(), "make me a dashboard")
	require.NoError(t, err)
	assert.Equal(t, "```python\nprint(1)\n```", got)

	assert.Equal(t, "deepseek-coder-v2", gotBody["model"])
	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "make me a dashboard", msg["content"])
}

func TestOpenAIClient_NoRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1"})
	_, err := c.Invoke(context.Background(), "p")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIClient_ModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"message":"model not found","type":"not_found"}}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1"}).Invoke(context.Background(), "p")

	var cerr *ClientError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindModelNotFound, cerr.Kind)
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestOpenAIClient_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = NewOpenAIClient(Config{BaseURL: "http://" + addr + "/v1"}).Invoke(context.Background(), "p")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.NotErrorIs(t, err, ErrModelTimeout)
}

func TestOpenAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1", Timeout: 50 * time.Millisecond})
	_, err := c.Invoke(context.Background(), "p")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelTimeout)
}

func TestOpenAIClient_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`)
	}))
	defer srv.Close()

	_, err := NewOpenAIClient(Config{BaseURL: srv.URL + "/v1"}).Invoke(context.Background(), "p")

	var cerr *ClientError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindInvalidResponse, cerr.Kind)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(ctx context.Context, prompt string, next ClientFunc) (string, error) {
			order = append(order, name+">")
			resp, err := next(ctx, prompt)
			order = append(order, "<"+name)
			return resp, err
		}
	}
	base := ClientFunc(func(_ context.Context, prompt string) (string, error) {
		order = append(order, "base")
		return "echo:" + prompt, nil
	})

	c := Chain(base, mw("a"), mw("b"))
	got, err := c.Invoke(context.Background(), "x")

	require.NoError(t, err)
	assert.Equal(t, "echo:x", got)
	assert.Equal(t, []string{"a>", "b>", "base", "<b", "<a"}, order)
}

func TestLogging_PassesErrorsThrough(t *testing.T) {
	want := &ClientError{Kind: KindTimeout, Message: "slow"}
	c := Chain(ClientFunc(func(context.Context, string) (string, error) {
		return "", want
	}), Logging(testutil.NewTestLogger(t)))

	_, err := c.Invoke(context.Background(), "p")
	assert.ErrorIs(t, err, ErrModelTimeout)
}

func TestClientError_Is(t *testing.T) {
	tests := []struct {
		kind        Kind
		unavailable bool
		timeout     bool
	}{
		{KindUnavailable, true, false},
		{KindModelNotFound, true, false},
		{KindTimeout, false, true},
		{KindRejected, false, false},
		{KindInvalidResponse, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := error(&ClientError{Kind: tt.kind, Message: "m"})
			assert.Equal(t, tt.unavailable, errors.Is(err, ErrModelUnavailable))
			assert.Equal(t, tt.timeout, errors.Is(err, ErrModelTimeout))
		})
	}
}
