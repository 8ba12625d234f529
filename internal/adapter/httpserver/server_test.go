package httpserver

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/roomstream/internal/adapter/metrics"
	"github.com/pscheid92/roomstream/internal/broadcast"
	"github.com/pscheid92/roomstream/internal/domain"
	"github.com/pscheid92/roomstream/internal/platform/config"
)

var testStartTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRegistry covers the paths that never hand out a connection.
type fakeRegistry struct {
	mu           sync.Mutex
	registerErr  error
	registered   int
	unregistered []string
	ids          []string
	stats        domain.Stats
}

func (f *fakeRegistry) Register(broadcast.Sink, broadcast.ConnectionInfo) (*broadcast.Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered++
	return nil, f.registerErr
}

func (f *fakeRegistry) Unregister(id, _ string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, id)
	return true
}

func (f *fakeRegistry) IDs() []string       { return f.ids }
func (f *fakeRegistry) Stats() domain.Stats { return f.stats }

type testServerOptions struct {
	registry     streamRegistry
	clock        clockwork.Clock
	healthChecks []HealthCheck
	webhook      echo.HandlerFunc
	configure    func(*config.Config)
}

type testServerOption func(*testServerOptions)

func withRegistry(r streamRegistry) testServerOption {
	return func(o *testServerOptions) { o.registry = r }
}

func withClock(c clockwork.Clock) testServerOption {
	return func(o *testServerOptions) { o.clock = c }
}

func withHealthChecks(checks ...HealthCheck) testServerOption {
	return func(o *testServerOptions) { o.healthChecks = checks }
}

func withWebhook(h echo.HandlerFunc) testServerOption {
	return func(o *testServerOptions) { o.webhook = h }
}

func withConfig(fn func(*config.Config)) testServerOption {
	return func(o *testServerOptions) { o.configure = fn }
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "development",
		Port:               "0",
		FrontendURL:        "http://localhost:5173",
		WebhookRateLimit:   50,
		WebhookRateBurst:   100,
		MaxStreamsPerIP:    50,
		StreamConnectRate:  100,
		StreamConnectBurst: 100,
	}
}

func newTestServer(t *testing.T, opts ...testServerOption) *Server {
	t.Helper()

	o := testServerOptions{
		registry: &fakeRegistry{},
		clock:    clockwork.NewFakeClockAt(testStartTime),
		webhook:  noopWebhook,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := testConfig()
	if o.configure != nil {
		o.configure(cfg)
	}

	promRegistry := prometheus.NewRegistry()
	return NewServer(cfg, o.clock, o.registry, o.webhook, promRegistry, metrics.NewStreamMetrics(promRegistry), o.healthChecks)
}
