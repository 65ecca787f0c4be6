package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/feedloom/curator/internal/adapter/httpserver"
	"github.com/feedloom/curator/internal/config"
	"github.com/feedloom/curator/internal/storemem"
	"github.com/feedloom/curator/internal/usecase"
)

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, ParseOrigins(""))
	assert.Equal(t, []string{"*"}, ParseOrigins("*"))
	assert.Equal(t, []string{"https://a.example.com"}, ParseOrigins(" https://a.example.com "))
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, ParseOrigins("https://a.example.com, https://b.example.com,"))
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store := storemem.New()
	cfg := config.Config{
		CORSAllowOrigins: "*",
		RateLimitPerMin:  100,
		PublishThreshold: 8.0,
		DefaultInterval:  time.Hour,
	}
	srv := httpserver.NewServer(cfg,
		usecase.NewFeedService(store, cfg.DefaultInterval),
		usecase.NewStatsService(store),
		usecase.NewExportService(store),
		usecase.TrainingService{Store: store},
		BuildDBCheck(nil),
	)
	return BuildRouter(cfg, srv)
}

func TestRouterEndToEnd(t *testing.T) {
	rt := newRouter(t)

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/feeds", strings.NewReader(`{"url":"https://news.example.com/rss"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "news.example.com")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export.rss", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<rss")

	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
