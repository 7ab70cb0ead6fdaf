package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlguard/internal/backlog"
	"github.com/JakeFAU/crawlguard/internal/health"
)

type fakeWatcher struct {
	waiting    atomic.Int64
	sampleErr  atomic.Value // error
	watchCalls atomic.Int64
	watchDelay time.Duration
}

func (f *fakeWatcher) Sample(context.Context) (backlog.Sample, error) {
	if err, ok := f.sampleErr.Load().(error); ok && err != nil {
		return backlog.Sample{}, err
	}
	return backlog.Sample{Waiting: f.waiting.Load(), SampledAt: time.Now()}, nil
}

func (f *fakeWatcher) Watch(ctx context.Context) (backlog.Sample, error) {
	f.watchCalls.Add(1)
	if f.watchDelay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(f.watchDelay):
		}
	}
	return f.Sample(ctx)
}

type fakeProber struct {
	report health.Report
}

func (f *fakeProber) ProbeAll(context.Context) health.Report {
	return f.report
}

func healthyReport() health.Report {
	return health.Report{
		Healthy: true,
		Results: map[health.Target]health.Result{
			health.TargetPrimaryStore:   {Target: health.TargetPrimaryStore, Status: health.StatusHealthy, AttemptsUsed: 1},
			health.TargetRateLimitStore: {Target: health.TargetRateLimitStore, Status: health.StatusHealthy, AttemptsUsed: 1},
		},
	}
}

func newTestServer(watcher BacklogWatcher, prober DependencyProber) *Server {
	return NewServer(ServerConfig{Watcher: watcher, Prober: prober})
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRootReturnsOK(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeWatcher{}, &fakeProber{report: healthyReport()})
	rec := doGet(t, s, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawlguard")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServerHealthCheckReadyWhenDrained(t *testing.T) {
	t.Parallel()

	watcher := &fakeWatcher{}
	s := newTestServer(watcher, &fakeProber{report: healthyReport()})

	rec := doGet(t, s, "/serverHealthCheck")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Waiting int64 `json:"waitingJobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Zero(t, body.Waiting)
}

func TestServerHealthCheckBusyWithAnyBacklog(t *testing.T) {
	t.Parallel()

	watcher := &fakeWatcher{}
	watcher.waiting.Store(7)
	s := newTestServer(watcher, &fakeProber{report: healthyReport()})

	rec := doGet(t, s, "/serverHealthCheck")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Waiting int64 `json:"waitingJobs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(7), body.Waiting, "busy response carries the actual count")
}

func TestServerHealthCheckSampleFailure(t *testing.T) {
	t.Parallel()

	watcher := &fakeWatcher{}
	watcher.sampleErr.Store(errors.New("queue store unreachable"))
	s := newTestServer(watcher, &fakeProber{report: healthyReport()})

	rec := doGet(t, s, "/serverHealthCheck")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestNotifyRespondsWithoutWaiting(t *testing.T) {
	t.Parallel()

	watcher := &fakeWatcher{watchDelay: 2 * time.Second}
	s := newTestServer(watcher, &fakeProber{report: healthyReport()})

	start := time.Now()
	rec := doGet(t, s, "/serverHealthCheck/notify")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Less(t, time.Since(start), time.Second, "notify must not wait on the backlog check")

	require.Eventually(t, func() bool { return watcher.watchCalls.Load() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestHealthDependenciesHealthy(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeWatcher{}, &fakeProber{report: healthyReport()})
	rec := doGet(t, s, "/health/dependencies")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string                           `json:"status"`
		Details map[health.Target]health.Result `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body.Status)
	require.Len(t, body.Details, 2)
}

func TestHealthDependenciesUnhealthy(t *testing.T) {
	t.Parallel()

	report := healthyReport()
	report.Healthy = false
	report.Results[health.TargetRateLimitStore] = health.Result{
		Target:       health.TargetRateLimitStore,
		Status:       health.StatusUnhealthy,
		AttemptsUsed: 3,
		Detail:       "set failed after 3 attempts: connection refused",
	}
	s := newTestServer(&fakeWatcher{}, &fakeProber{report: report})

	rec := doGet(t, s, "/health/dependencies")
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Status  string                           `json:"status"`
		Details map[health.Target]health.Result `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "unhealthy", body.Status)
	require.Equal(t, health.StatusUnhealthy, body.Details[health.TargetRateLimitStore].Status)
	require.Equal(t, 3, body.Details[health.TargetRateLimitStore].AttemptsUsed)
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	t.Parallel()

	s := newTestServer(&fakeWatcher{}, &fakeProber{report: healthyReport()})
	rec := doGet(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}
