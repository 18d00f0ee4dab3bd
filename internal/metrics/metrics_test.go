package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/jobs/{id}", "418"))
	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/jobs/{id}", "418"))
	assert.Equal(t, float64(3), after-before)
}

func TestTransitionCounter(t *testing.T) {
	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("archive", "committed"))
	Transition("archive", "committed")
	assert.Equal(t, float64(1), testutil.ToFloat64(TransitionsTotal.WithLabelValues("archive", "committed"))-before)
}

func TestStatusWriterDefaultsToOK(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := WrapStatus(rec)
	_, _ = sw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, sw.Status())
	assert.Same(t, sw, WrapStatus(sw))
}
