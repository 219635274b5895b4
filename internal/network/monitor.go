// Package network tracks connectivity to the remote store and notifies
// listeners when the link goes up or down.
package network

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/httpclient"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

const (
	DefaultProbeTimeout  = 5 * time.Second
	DefaultProbeInterval = 30 * time.Second
	DefaultSlowDownlink  = 0.5 // Mbps
	healthPath           = "/api/health"
)

// Status describes the current link
type Status struct {
	Online        bool
	EffectiveType string        // e.g. "4g", "2g", "slow-2g", "ethernet"
	Downlink      float64       // Mbps, 0 when unknown
	RTT           time.Duration // last probe round trip
	SaveData      bool
	CheckedAt     time.Time
}

// IsSlow reports whether an online link is below threshold Mbps or a 2g class
func (s Status) IsSlow(threshold float64) bool {
	if !s.Online {
		return false
	}
	if s.EffectiveType == "slow-2g" || s.EffectiveType == "2g" {
		return true
	}
	return s.Downlink > 0 && s.Downlink < threshold
}

// Config controls probing
type Config struct {
	HealthURL     string // base URL; the probe targets <HealthURL>/api/health
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	SlowDownlink  float64
}

type listener struct {
	id uint64
	fn func(online bool)
}

// Monitor holds the process-wide connectivity status. It is safe for
// concurrent use; listeners run outside the lock.
type Monitor struct {
	mu        sync.Mutex
	cfg       Config
	status    Status
	listeners []listener
	nextID    uint64
	task      clock.Task

	clock   clock.Clock
	client  *httpclient.Client
	log     logger.Logger
	metrics *metrics.NetworkMetrics
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock sets the scheduler used for periodic probes and wait timeouts
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = c }
}

// WithHTTPClient sets the probe client
func WithHTTPClient(c *httpclient.Client) Option {
	return func(m *Monitor) { m.client = c }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(nm *metrics.NetworkMetrics) Option {
	return func(m *Monitor) { m.metrics = nm }
}

// WithInitialStatus seeds the status, defaults to online
func WithInitialStatus(s Status) Option {
	return func(m *Monitor) { m.status = s }
}

// NewMonitor creates a monitor. Without a health URL it never probes and
// only changes state through SetOnline or Update.
func NewMonitor(cfg Config, opts ...Option) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.SlowDownlink <= 0 {
		cfg.SlowDownlink = DefaultSlowDownlink
	}
	m := &Monitor{
		cfg:    cfg,
		status: Status{Online: true},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.log == nil {
		m.log = logger.Global().Module("network")
	}
	if m.client == nil {
		m.client = httpclient.New(&httpclient.Config{DefaultTimeout: cfg.ProbeTimeout})
	}
	m.metrics.SetOnline(m.status.Online)
	return m
}

// IsOnline reports the last known connectivity
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}

// Status returns the last known link status
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsSlow reports whether the current link is slow
func (m *Monitor) IsSlow() bool {
	return m.Status().IsSlow(m.cfg.SlowDownlink)
}

// SetOnline records a platform connectivity signal
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	s := m.status
	m.mu.Unlock()
	s.Online = online
	s.CheckedAt = m.clock.Now()
	m.Update(s)
}

// Update replaces the link status and notifies listeners on an
// online/offline transition
func (m *Monitor) Update(s Status) {
	m.mu.Lock()
	changed := m.status.Online != s.Online
	m.status = s
	var subs []listener
	if changed {
		subs = append(subs, m.listeners...)
	}
	m.mu.Unlock()

	m.metrics.SetOnline(s.Online)
	if !changed {
		return
	}
	m.log.Info("network status changed", logger.Bool("online", s.Online))
	for _, l := range subs {
		l.fn(s.Online)
	}
}

// AddListener registers fn for online/offline transitions and returns a
// function that removes it
func (m *Monitor) AddListener(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, listener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}

// TestConnectivity sends a HEAD request to the health endpoint and reports
// whether it answered with a 2xx status. It does not change the status.
func (m *Monitor) TestConnectivity(ctx context.Context) bool {
	ok, _ := m.probe(ctx)
	return ok
}

func (m *Monitor) probe(ctx context.Context) (bool, time.Duration) {
	if m.cfg.HealthURL == "" {
		return m.IsOnline(), 0
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	resp, err := m.client.Head(ctx, strings.TrimRight(m.cfg.HealthURL, "/")+healthPath)
	rtt := time.Since(start)
	m.metrics.ObserveProbe(rtt)
	if err != nil {
		m.log.Debug("connectivity probe failed", logger.Error(err))
		return false, rtt
	}
	resp.Body.Close()
	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices, rtt
}

// Probe tests connectivity and records the result
func (m *Monitor) Probe(ctx context.Context) bool {
	ok, rtt := m.probe(ctx)
	m.mu.Lock()
	s := m.status
	m.mu.Unlock()
	s.Online = ok
	s.CheckedAt = m.clock.Now()
	if ok {
		s.RTT = rtt
	}
	m.Update(s)
	return ok
}

// Start probes periodically until Stop. It is a no-op without a health URL
// or when already started.
func (m *Monitor) Start() {
	if m.cfg.HealthURL == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.task != nil {
		return
	}
	m.task = m.clock.Every(m.cfg.ProbeInterval, func() {
		m.Probe(context.Background())
	})
	m.log.Debug("connectivity probing started",
		logger.String("url", m.cfg.HealthURL),
		logger.Duration("interval", m.cfg.ProbeInterval))
}

// Stop cancels periodic probing and releases idle connections
func (m *Monitor) Stop() {
	m.mu.Lock()
	task := m.task
	m.task = nil
	m.mu.Unlock()
	if task != nil {
		task.Stop()
	}
	m.client.Close()
}

// WaitForNetwork returns true as soon as the monitor is online, or false
// when timeout elapses or ctx ends first. It does not probe or retry.
func (m *Monitor) WaitForNetwork(ctx context.Context, timeout time.Duration) bool {
	online := make(chan struct{}, 1)
	unsubscribe := m.AddListener(func(up bool) {
		if up {
			select {
			case online <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if m.IsOnline() {
		return true
	}

	expired := make(chan struct{})
	timer := m.clock.AfterFunc(timeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case <-online:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
