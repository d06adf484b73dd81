package ui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/internal/ui/features"
)

func newTestServer(t *testing.T, logPath string) *Server {
	t.Helper()
	fixture := features.SetupTestFixture(t, features.Fenced(features.SalesApp))
	return NewServer(Config{
		Registry:      fixture.Registry,
		Notifier:      fixture.Notifier,
		Host:          "127.0.0.1",
		Port:          0,
		SessionSecret: "test-secret-key-32-bytes-long!!",
		LogPath:       logPath,
		Logger:        testutil.NewTestLogger(t),
	})
}

func TestServer_Handler(t *testing.T) {
	s := newTestServer(t, "")
	h, err := s.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.False(t, s.IsDev())
}

func TestServer_SessionCookie(t *testing.T) {
	tests := []struct {
		name   string
		secure bool
	}{
		{"plain http", false},
		{"https", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := features.SetupTestFixture(t, features.Fenced(features.SalesApp))
			s := NewServer(Config{
				Registry:      fixture.Registry,
				Notifier:      fixture.Notifier,
				SessionSecret: "test-secret-key-32-bytes-long!!",
				SecureCookies: tt.secure,
				Logger:        testutil.NewTestLogger(t),
			})
			h, err := s.Handler()
			require.NoError(t, err)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

			cookies := rec.Result().Cookies()
			require.Len(t, cookies, 1)
			assert.Equal(t, tt.secure, cookies[0].Secure)
			assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
			assert.True(t, cookies[0].HttpOnly)
		})
	}
}

func TestServer_Addr(t *testing.T) {
	s := newTestServer(t, "")
	assert.Equal(t, "127.0.0.1:0", s.Addr())
}

func TestServer_WatchLogBroadcasts(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "app.log")
	s := newTestServer(t, logPath)

	ch := s.Notifier().Subscribe("watcher")
	defer s.Notifier().Unsubscribe("watcher", ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.watchLog(ctx) }()

	// The directory is created by the watcher; wait for it before writing.
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Dir(logPath))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(logPath), "other.txt"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(logPath, []byte("Listening on http://127.0.0.1:8000\n"), 0o600))

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("log write did not notify listeners")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
