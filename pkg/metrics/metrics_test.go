package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegisterAndScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.GenerationsTotal.WithLabelValues("structured", "ok").Inc()
	m.CreditsDeductedTotal.Add(2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GenerationsTotal.WithLabelValues("structured", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CreditsDeductedTotal))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "idea_generations_total")
	assert.Contains(t, rec.Body.String(), "credits_deducted_total 2")
}
