package agent

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Schera-ole/scaleagent/internal/adapter"
	"github.com/Schera-ole/scaleagent/internal/clock"
	"github.com/Schera-ole/scaleagent/internal/config"
	models "github.com/Schera-ole/scaleagent/internal/model"
	"github.com/Schera-ole/scaleagent/internal/report"
	"github.com/Schera-ole/scaleagent/internal/reporter"
	"github.com/Schera-ole/scaleagent/internal/stats"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type received struct {
	header http.Header
	body   []byte
}

func newControlPlane(t *testing.T, status int) (*httptest.Server, <-chan received) {
	t.Helper()
	reports := make(chan received, 8)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		reports <- received{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, reports
}

func testConfig(url string) config.AgentConfig {
	cfg := config.DefaultAgentConfig()
	cfg.APIBaseURL = url
	cfg.APIToken = "secret-token"
	cfg.SigningKey = "hmac-key"
	cfg.InstanceID = "web.1"
	return cfg
}

func waitReport(t *testing.T, reports <-chan received) received {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
		return received{}
	}
}

func requestStart(offset time.Duration) string {
	return "t=" + strconv.FormatInt(epoch.Add(-offset).UnixMilli(), 10)
}

func TestAgent_EndToEnd(t *testing.T) {
	server, reports := newControlPlane(t, http.StatusAccepted)
	clk := clock.Fake(epoch)
	a := New(testConfig(server.URL), zaptest.NewLogger(t).Sugar(), WithClock(clk))

	a.Start(context.Background())
	clk.WaitForTimers(1)

	for _, ms := range []int{100, 150, 110} {
		a.Observe(adapter.RequestEvent{RequestStart: requestStart(time.Duration(ms) * time.Millisecond), ContentLength: -1})
	}
	a.Observe(adapter.JobQueueEvent{Depth: 5})

	clk.Advance(config.DefaultReportInterval)
	got := waitReport(t, reports)

	assert.Equal(t, "Bearer secret-token", got.header.Get("Authorization"))
	assert.Equal(t, "gzip", got.header.Get("Content-Encoding"))
	assert.True(t, report.Verify(got.body, "hmac-key", got.header.Get("HashSHA256")))
	assert.Equal(t, "scaleagent/"+Version, got.header.Get("User-Agent"))

	p, err := report.Decode(got.body, true)
	require.NoError(t, err)
	assert.Equal(t, "web.1", p.Agent.ID)
	assert.Equal(t, "web.1", p.Agent.Container)
	assert.Equal(t, Version, p.Agent.Version)
	assert.Contains(t, p.Adapters, config.AdapterQueueTime)
	assert.Contains(t, p.Adapters, config.AdapterJobQueue)
	assert.Contains(t, p.Adapters, config.AdapterConcurrency)
	assert.Equal(t, got.header.Get("X-Report-ID"), p.ReportID)

	require.Len(t, p.Metrics, 2)

	jobs := p.Metrics[0]
	assert.Equal(t, "job_queue_depth", jobs.Name)
	assert.Equal(t, map[string]string{"queue": "default"}, jobs.Dimensions)
	assert.Equal(t, int64(1), jobs.Count)
	assert.Equal(t, 5.0, jobs.Max)
	require.NotNil(t, jobs.Last)
	assert.Equal(t, 5.0, *jobs.Last)

	qt := p.Metrics[1]
	assert.Equal(t, "request_queue_time_ms", qt.Name)
	assert.Equal(t, int64(3), qt.Count)
	assert.Equal(t, 360.0, qt.Sum)
	assert.Equal(t, 100.0, qt.Min)
	assert.Equal(t, 150.0, qt.Max)

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, reporter.StateStopped, a.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Stats().ReportsSent))
}

func TestAgent_TrackRequest(t *testing.T) {
	server, reports := newControlPlane(t, http.StatusOK)
	clk := clock.Fake(epoch)
	a := New(testConfig(server.URL), zaptest.NewLogger(t).Sugar(), WithClock(clk))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-Start", requestStart(20*time.Millisecond))

	done := a.TrackRequest(r)
	assert.Equal(t, int64(1), a.Concurrency().InFlight())
	clk.Advance(30 * time.Millisecond)
	done()
	assert.Zero(t, a.Concurrency().InFlight())

	require.NoError(t, a.Stop(context.Background()))
	got := waitReport(t, reports)
	p, err := report.Decode(got.body, true)
	require.NoError(t, err)

	byName := map[string]models.MetricSummary{}
	for _, m := range p.Metrics {
		byName[m.Name] = m
	}
	assert.Equal(t, 20.0, byName["request_queue_time_ms"].Sum)
	assert.Equal(t, 30.0, byName["application_time_ms"].Sum)
	assert.Equal(t, int64(2), byName["in_flight_requests"].Count)
	assert.Equal(t, 1.0, byName["in_flight_requests"].Max)
	assert.Contains(t, byName, "utilization_pct")
}

func TestAgent_UnauthorizedDisablesReporting(t *testing.T) {
	server, reports := newControlPlane(t, http.StatusUnauthorized)
	clk := clock.Fake(epoch)
	a := New(testConfig(server.URL), zaptest.NewLogger(t).Sugar(), WithClock(clk))
	a.Start(context.Background())
	clk.WaitForTimers(1)

	a.Observe(adapter.JobQueueEvent{Queue: "default", Depth: 1})
	clk.Advance(config.DefaultReportInterval)
	waitReport(t, reports)

	assert.Eventually(t, func() bool { return a.State() == reporter.StateDisabled }, 5*time.Second, time.Millisecond)

	a.Observe(adapter.JobQueueEvent{Queue: "default", Depth: 1})
	require.NoError(t, a.Stop(context.Background()))
	assert.Empty(t, reports)
}

func TestAgent_CollectionOnlyWithoutToken(t *testing.T) {
	server, reports := newControlPlane(t, http.StatusOK)
	cfg := testConfig(server.URL)
	cfg.APIToken = ""
	st := stats.New()
	a := New(cfg, zaptest.NewLogger(t).Sugar(), WithClock(clock.Fake(epoch)), WithStats(st))

	a.Start(context.Background())
	a.Observe(adapter.JobQueueEvent{Queue: "default", Depth: 1})
	require.NoError(t, a.Stop(context.Background()))

	assert.Empty(t, reports)
	assert.Equal(t, 1.0, testutil.ToFloat64(st.Recorded))
	assert.Zero(t, testutil.ToFloat64(st.ReportingEnabled))
}

func TestAgent_SwitchedOff(t *testing.T) {
	server, reports := newControlPlane(t, http.StatusOK)
	cfg := testConfig(server.URL)
	cfg.Enabled = false
	clk := clock.Fake(epoch)
	a := New(cfg, zaptest.NewLogger(t).Sugar(), WithClock(clk))

	a.Start(context.Background())
	a.Observe(adapter.JobQueueEvent{Queue: "default", Depth: 1})
	require.NoError(t, a.Record(models.Measurement{Name: models.InFlightRequests, Value: 1}))
	require.NoError(t, a.Stop(context.Background()))

	assert.Zero(t, clk.PendingCount())
	assert.Zero(t, testutil.ToFloat64(a.Stats().Recorded))
	assert.Empty(t, reports)
}

func TestAgent_EnabledAdapters(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.EnabledAdapters = []string{config.AdapterJobQueue}
	a := New(cfg, zaptest.NewLogger(t).Sugar(), WithClock(clock.Fake(epoch)))

	assert.Nil(t, a.Concurrency())
	a.Observe(adapter.RequestEvent{RequestStart: requestStart(time.Second)})
	a.Observe(adapter.ConcurrencyEvent{Phase: adapter.PhaseStart})
	assert.Zero(t, testutil.ToFloat64(a.Stats().Recorded))

	a.Observe(adapter.JobQueueEvent{Queue: "mailers", Depth: 3})
	assert.Equal(t, 1.0, testutil.ToFloat64(a.Stats().Recorded))
}
