package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddlewareCounts(t *testing.T) {
	before := testutil.CollectAndCount(HTTPRequestsTotal)

	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/v1/feeds", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/feeds", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Greater(t, testutil.CollectAndCount(HTTPRequestsTotal), before-1)
}

func TestPipelineObservers(t *testing.T) {
	ObservePoll(PollNewItems, 3)
	ObserveScore(ScoreOK, 7.5)
	ObservePublish(PublishOK)
	SetQueueDepth("pending", 4)

	assert.InDelta(t, 4, testutil.ToFloat64(QueueDepth.WithLabelValues("pending")), 0.001)
}
