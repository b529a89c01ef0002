package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordsPhaseAndTasks(t *testing.T) {
	m := New()

	m.RecordPhase("plan", "success", 2*time.Second)
	m.RecordPhase("plan", "error", time.Second)
	m.RecordTasksGenerated("lead", 3)
	m.RecordTasksGenerated("deep", 0)
	m.TaskStarted()
	m.TaskStarted()
	m.TaskFinished("success")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseRuns.WithLabelValues("plan", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseRuns.WithLabelValues("plan", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TasksGenerated.WithLabelValues("lead")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskResults.WithLabelValues("success")))
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPhase("qna", "success", time.Second)
		m.RecordTasksGenerated("lead", 1)
		m.TaskStarted()
		m.TaskFinished("error")
		m.RecordEarlyStop()
		m.RecordFragment("text")
		m.RecordResolve("hit")
	})
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := New()
	m.RecordEarlyStop()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "deepresearch_early_stops_total 1")
}
