package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsAndPassesThrough(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/batches/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/batches/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHandlerServesMetrics(t *testing.T) {
	t.Parallel()

	ObserveJob("succeeded")
	IncActiveSessions()
	DecActiveSessions()
	ObservePacingDelay(3 * time.Second)
	ObserveRateLimitWait(time.Second)
	ObserveUploadFailure()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "scraper_jobs_total")
}
