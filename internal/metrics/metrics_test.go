package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter(t *testing.T) {
	m := New()
	m.Interactions.WithLabelValues("fren", "completed").Inc()
	m.Stages.WithLabelValues("deferred").Add(2)

	srv := httptest.NewServer(m.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `chaosring_interactions_total{outcome="completed",tier="fren"} 1`)
	assert.Contains(t, string(body), `chaosring_stage_transitions_total{stage="deferred"} 2`)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCounters(t *testing.T) {
	m := New()
	m.Interactions.WithLabelValues("daoist", "failed").Inc()
	m.Interactions.WithLabelValues("daoist", "failed").Inc()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Interactions.WithLabelValues("daoist", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Inflight))
}
