package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Independent(t *testing.T) {
	// Two instances must not collide on registration.
	a := New()
	b := New()

	a.Ingest.IncFetchFailures(FailureUpstream)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Ingest.fetchFailures.WithLabelValues(FailureUpstream)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Ingest.fetchFailures.WithLabelValues(FailureUpstream)))
}

func TestIngest(t *testing.T) {
	m := New()

	m.Ingest.RecordBatch(3, 1)
	m.Ingest.RecordBatch(2, 0)
	m.Ingest.SetLastHandledHeight(42)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ingest.batchesTotal))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.Ingest.eventsTotal.WithLabelValues(KindInsert)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingest.eventsTotal.WithLabelValues(KindTombstone)))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.Ingest.lastHandledHeight))
}

func TestIngest_FetchFailureReasons(t *testing.T) {
	m := New()

	m.Ingest.IncFetchFailures(FailureUpstream)
	m.Ingest.IncFetchFailures(FailureRollback)
	m.Ingest.IncFetchFailures(FailureRollback)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Ingest.fetchFailures.WithLabelValues(FailureUpstream)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ingest.fetchFailures.WithLabelValues(FailureRollback)))
}

func TestAPI_RecordRequest(t *testing.T) {
	m := New()

	m.API.RecordRequest("/search", 200, 10*time.Millisecond)
	m.API.RecordRequest("/search", 200, 20*time.Millisecond)
	m.API.RecordRequest("/search", 400, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.API.requestsTotal.WithLabelValues("/search", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.API.requestsTotal.WithLabelValues("/search", "400")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.API.requestDuration))
}

func TestHandler(t *testing.T) {
	m := New()
	m.Ingest.SetLastHandledHeight(7)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "stateindex_ingest_last_handled_height 7")
	assert.Contains(t, string(body), "go_goroutines")
}
