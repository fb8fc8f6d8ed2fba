package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollect(t *testing.T) {
	m := NewMetrics()
	m.ObservePipelineRun("complete", 2*time.Second)
	m.ObserveModelCall("mock", "test-model", 100, 50, 20, 300*time.Millisecond, true)
	m.ObserveModelCall("mock", "test-model", 10, 0, 0, 10*time.Millisecond, false)
	m.ObserveCost(0.0123)
	m.ObserveToolCall("lookup", true)
	m.ObserveContext(1500, 0.4)

	srv := httptest.NewServer(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.Contains(t, out, `ctxforge_pipeline_runs_total{state="complete"} 1`)
	assert.Contains(t, out, `ctxforge_model_calls_total{model="test-model",outcome="error",provider="mock"} 1`)
	assert.Contains(t, out, `ctxforge_tokens_total{direction="input",model="test-model"} 110`)
	assert.Contains(t, out, `ctxforge_tool_calls_total{outcome="ok",tool="lookup"} 1`)
	assert.Contains(t, out, "ctxforge_cost_usd_total 0.0123")
}

func TestHealthzReflectsChecks(t *testing.T) {
	m := NewMetrics()
	s := NewServer(":0", m)
	s.AddCheck("ok-dep", func(ctx context.Context) error { return nil })

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok-dep":"ok"`)

	s.AddCheck("bad-dep", func(ctx context.Context) error { return errors.New("unreachable") })
	rec = httptest.NewRecorder()
	s.handleHealth(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}
