package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsExposed(t *testing.T) {
	m := New()
	m.Connections.Inc()
	m.EventsPublished.WithLabelValues("patient_added").Add(2)
	m.Mutations.WithLabelValues("create", "ok").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.EventsPublished.WithLabelValues("patient_added")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "queueboard_ws_connections 1"))
	assert.True(t, strings.Contains(body, `queueboard_mutations_total{op="create",result="ok"} 1`))
}

func TestSystemInfoCached(t *testing.T) {
	a := GetSystemInfo()
	b := GetSystemInfo()
	assert.Same(t, a, b)
	assert.NotEmpty(t, a.GoVersion)

	rs := CaptureRuntime(time.Now().Add(-time.Minute))
	assert.GreaterOrEqual(t, rs.UptimeSeconds, int64(59))
	assert.Greater(t, rs.Goroutines, 0)
}
