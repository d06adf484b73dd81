package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/testutil"
	"github.com/leapstack-labs/leapdash/internal/ui/features"
)

func newRouter(t *testing.T, isDev bool) http.Handler {
	t.Helper()
	fixture := features.SetupTestFixture(t, features.Fenced(features.SalesApp))
	r := chi.NewMux()
	require.NoError(t, SetupRoutes(r, fixture.Registry, fixture.SessionStore, fixture.Notifier, testutil.NewTestLogger(t), isDev))
	return r
}

func TestSetupRoutes(t *testing.T) {
	tests := []struct {
		name   string
		isDev  bool
		method string
		path   string
		want   int
	}{
		{"page", false, http.MethodGet, "/", http.StatusOK},
		{"health", false, http.MethodGet, "/healthz", http.StatusOK},
		{"stylesheet", false, http.MethodGet, "/static/style.css", http.StatusOK},
		{"download without artifact", false, http.MethodGet, "/download", http.StatusNotFound},
		{"generate needs POST", false, http.MethodGet, "/generate", http.StatusMethodNotAllowed},
		{"hotreload absent in prod", false, http.MethodGet, "/hotreload", http.StatusNotFound},
		{"hotreload in dev", true, http.MethodGet, "/hotreload", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRouter(t, tt.isDev).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPage_IncludesReloadHookInDev(t *testing.T) {
	rec := httptest.NewRecorder()
	newRouter(t, true).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/reload")
}
