package telemetry

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_RecordsOutcomes(t *testing.T) {
	m := New()

	m.MarkActive("container")
	m.ProbeSucceeded("container", 20*time.Millisecond)
	m.ProbeFailed("container", 10*time.Millisecond, 1)
	m.ProbeFailed("container", 10*time.Millisecond, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.probes.WithLabelValues("container", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.probes.WithLabelValues("container", "failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.consecutive.WithLabelValues("container")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("container")))

	m.Paused("container", true)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues("container")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pauses.WithLabelValues("container", "errors")))

	m.Resumed("container")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues("container")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.consecutive.WithLabelValues("container")))

	m.Paused("container", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pauses.WithLabelValues("container", "manual")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ProbeSucceeded("build", time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `dockhand_poller_probes_total{outcome="success",poller="build"} 1`)
}
