package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vietddude/harvester/internal/infra/budget"
	"github.com/vietddude/harvester/internal/infra/retry"
	"github.com/vietddude/harvester/internal/infra/source"
)

// =============================================================================
// Stubs
// =============================================================================

type stubProbe struct {
	name  string
	stats source.MonitorStats
	exec  *retry.Executor
	quota *budget.UsageStats
}

func newProbe(name string, status source.Status) *stubProbe {
	return &stubProbe{
		name:  name,
		stats: source.MonitorStats{Status: status},
		exec:  retry.NewExecutor(retry.Policy{}, nil, retry.WithName(name)),
	}
}

func (p *stubProbe) Name() string               { return p.name }
func (p *stubProbe) Stats() source.MonitorStats { return p.stats }
func (p *stubProbe) Executor() *retry.Executor  { return p.exec }
func (p *stubProbe) Quota() *budget.UsageStats  { return p.quota }

type stubFailures map[string]int

func (s stubFailures) Count(ctx context.Context, src string) (int, error) { return s[src], nil }

// =============================================================================
// Monitor Tests
// =============================================================================

func TestMonitor_Statuses(t *testing.T) {
	tests := []struct {
		name     string
		provider source.Status
		pending  int
		want     SystemStatus
	}{
		{"healthy", source.StatusHealthy, 0, StatusHealthy},
		{"pending failures", source.StatusHealthy, 3, StatusDegraded},
		{"throttled", source.StatusThrottled, 0, StatusDegraded},
		{"too many failures", source.StatusHealthy, 51, StatusCritical},
		{"blocked", source.StatusBlocked, 0, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(
				[]Probe{newProbe("scopus", tt.provider)},
				stubFailures{"scopus": tt.pending},
				nil,
			)
			report := m.CheckHealth(context.Background())
			assert.Equal(t, tt.want, report.SystemStatus)
			assert.Equal(t, tt.want, report.Sources["scopus"].Status)
			assert.Equal(t, tt.pending, report.Sources["scopus"].PendingFailures)
		})
	}
}

func TestMonitor_Quota(t *testing.T) {
	tests := []struct {
		name  string
		quota *budget.UsageStats
		want  SystemStatus
	}{
		{"untracked", nil, StatusHealthy},
		{"unlimited", &budget.UsageStats{TotalCalls: 500}, StatusHealthy},
		{"plenty left", &budget.UsageStats{DailyLimit: 100, RemainingCalls: 50, UsagePercentage: 50}, StatusHealthy},
		{"nearly used", &budget.UsageStats{DailyLimit: 100, RemainingCalls: 5, UsagePercentage: 95}, StatusDegraded},
		{"exhausted", &budget.UsageStats{DailyLimit: 100, UsagePercentage: 100}, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProbe("scopus", source.StatusHealthy)
			p.quota = tt.quota

			report := NewMonitor([]Probe{p}, nil, nil).CheckHealth(context.Background())
			assert.Equal(t, tt.want, report.SystemStatus)
			assert.Equal(t, tt.quota, report.Sources["scopus"].Quota)
		})
	}
}

func TestMonitor_WorstSourceWins(t *testing.T) {
	m := NewMonitor(
		[]Probe{newProbe("a", source.StatusHealthy), newProbe("b", source.StatusDegraded)},
		nil,
		nil,
	)
	report := m.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, report.SystemStatus)
	assert.Equal(t, "degraded", report.Sources["b"].Provider)
}

func TestMonitor_Dependencies(t *testing.T) {
	m := NewMonitor(nil, nil, map[string]Checker{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})
	report := m.CheckHealth(context.Background())
	assert.Equal(t, StatusCritical, report.SystemStatus)
	assert.Equal(t, "ok", report.Dependencies["postgres"])
	assert.Equal(t, "connection refused", report.Dependencies["redis"])
}

func TestMonitor_LastOperation(t *testing.T) {
	p := newProbe("scopus", source.StatusHealthy)
	require.NoError(t, p.exec.Do(context.Background(), func(context.Context) error { return nil }))

	report := NewMonitor([]Probe{p}, nil, nil).CheckHealth(context.Background())
	op := report.Sources["scopus"].LastOperation
	require.NotNil(t, op)
	assert.NotEmpty(t, op.ID)
	assert.Zero(t, op.Attempt)
}

func TestMonitor_CachesReport(t *testing.T) {
	failures := stubFailures{"s": 0}
	m := NewMonitor([]Probe{newProbe("s", source.StatusHealthy)}, failures, nil)

	assert.Equal(t, StatusHealthy, m.CheckHealth(context.Background()).SystemStatus)
	failures["s"] = 100
	assert.Equal(t, StatusHealthy, m.CheckHealth(context.Background()).SystemStatus)

	m.cacheFor = 0
	assert.Equal(t, StatusCritical, m.CheckHealth(context.Background()).SystemStatus)
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusDegraded, Worse(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusCritical, Worse(StatusCritical, StatusDegraded))
	assert.Equal(t, StatusHealthy, Worse(StatusHealthy, StatusHealthy))
}

// =============================================================================
// Server Tests
// =============================================================================

func TestServer_Routes(t *testing.T) {
	m := NewMonitor([]Probe{newProbe("scopus", source.StatusBlocked)}, nil, nil)
	router := NewServer(m, 0).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"critical"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var report HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Contains(t, report.Sources, "scopus")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/sources/scopus", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"provider_status":"blocked"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/sources/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGRPCServer_Sync(t *testing.T) {
	m := NewMonitor(
		[]Probe{newProbe("ok", source.StatusHealthy), newProbe("bad", source.StatusBlocked)},
		nil,
		nil,
	)
	g := NewGRPCServer(m, 0)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = g.Serve(lis) }()
	defer g.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	g.Sync(context.Background())
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "ok"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "bad"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}
