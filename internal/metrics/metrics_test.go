package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetReturnsSingleton(t *testing.T) {
	assert.Same(t, Get(), Get())
}

func TestRecordSessionOperationCountsResult(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.SessionOperationsTotal.WithLabelValues("create", "ok"))
	m.RecordSessionOperation("create", nil)
	assert.Equal(t, before+1, testutil.ToFloat64(m.SessionOperationsTotal.WithLabelValues("create", "ok")))
}

func TestRecordExecutionClassifiesOutcome(t *testing.T) {
	m := Get()
	before := testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", "ok"))
	m.RecordExecution("python", "ok", 5*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(m.ExecutionsTotal.WithLabelValues("python", "ok")))
}

func TestInstrumentHandlerRecordsStatusAndInFlight(t *testing.T) {
	m := Get()
	handler := m.InstrumentHandler("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/metrics", http.MethodGet, "4xx"))
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/metrics", http.MethodGet, "4xx")))
}

func TestHandlerServesTextExposition(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessionbroker_")
}

func TestCollectorSamplesProcessGauges(t *testing.T) {
	m := Get()
	c := NewCollector(m, time.Hour)
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.GoroutineCount) > 0
	}, time.Second, 10*time.Millisecond)
}
