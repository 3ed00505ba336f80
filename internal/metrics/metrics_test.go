package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryan-buckman/gleaner/internal/model"
	"github.com/bryan-buckman/gleaner/internal/retention"
)

func TestObserveRun(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.ObserveRun(&retention.Report{
		Hidden: []*model.Item{{ID: 1}, {ID: 2}, {ID: 3}},
		Candidates: map[retention.Criterion]int{
			retention.CriterionAge:   2,
			retention.CriterionCount: 3,
		},
	}, 20*time.Millisecond, nil)
	c.ObserveRun(&retention.Report{}, time.Millisecond, errors.New("store down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues(ResultError)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.hidden))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.candidates.WithLabelValues("age")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.candidates.WithLabelValues("count")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.candidates.WithLabelValues("read")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.duration))
}

func TestRecordIngest(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.RecordIngest(5, 2)
	c.RecordIngest(1, 0)

	expected := `
# HELP gleaner_ingest_items_total Fetched items that were new to the store, by outcome.
# TYPE gleaner_ingest_items_total counter
gleaner_ingest_items_total{outcome="dropped"} 2
gleaner_ingest_items_total{outcome="persisted"} 6
`
	require.NoError(t, testutil.CollectAndCompare(c.ingest, strings.NewReader(expected)))
}

func TestHandler(t *testing.T) {
	c := NewCollector(nil)
	c.RecordIngest(1, 0)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "gleaner_retention_runs_total")
	assert.Contains(t, body, `gleaner_ingest_items_total{outcome="persisted"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
