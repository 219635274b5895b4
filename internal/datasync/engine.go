package datasync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/datastore"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/observability/metrics"
	"github.com/tphakala/magtest/internal/remote"
)

// Connectivity is the network status the engine depends on
type Connectivity interface {
	IsOnline() bool
	AddListener(fn func(online bool)) func()
}

type progressListener struct {
	id uint64
	fn func(Progress)
}

// Engine replays the sync queue. At most one sync runs at a time; every
// trigger shares the same guard.
type Engine struct {
	store  datastore.Interface
	remote remote.Store
	net    Connectivity
	clock  clock.Clock
	cfg    Config
	log    logger.Logger

	metrics *metrics.SyncMetrics
	syncing atomic.Bool
	bg      sync.WaitGroup

	mu          sync.Mutex
	autoSync    bool
	periodic    clock.Task
	delayed     clock.Task
	unsubscribe func()
	listeners   []progressListener
	nextID      uint64
	lastResult  *Result
	lastSyncAt  time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the scheduler for delayed and periodic syncs
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. rs may be nil, in which case every sync
// fails with ErrNoRemote and the queue keeps growing.
func NewEngine(store datastore.Interface, rs remote.Store, net Connectivity, cfg Config, opts ...Option) (*Engine, error) {
	if store == nil || net == nil {
		return nil, errors.Newf("sync engine requires a datastore and a network monitor").
			Component("datasync").
			Category(errors.CategoryConfiguration).
			Build()
	}
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.ConflictWindow <= 0 {
		cfg.ConflictWindow = def.ConflictWindow
	}
	e := &Engine{
		store:    store,
		remote:   rs,
		net:      net,
		cfg:      cfg,
		autoSync: cfg.AutoSync,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.log == nil {
		e.log = logger.Global().Module("sync").Module("engine")
	}
	return e, nil
}

// Start subscribes to network transitions and starts periodic sync when
// an interval is configured
func (e *Engine) Start() {
	e.mu.Lock()
	if e.unsubscribe == nil {
		e.unsubscribe = e.net.AddListener(e.onNetworkChange)
	}
	e.mu.Unlock()
	if e.cfg.Interval > 0 {
		e.StartPeriodicSync(e.cfg.Interval)
	}
}

// Stop cancels triggers and waits for background syncs to finish
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.delayed != nil {
		e.delayed.Stop()
		e.delayed = nil
	}
	e.mu.Unlock()
	e.StopPeriodicSync()
	e.bg.Wait()
}

func (e *Engine) onNetworkChange(online bool) {
	if !online {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.autoSync || e.syncing.Load() {
		return
	}
	if e.delayed != nil {
		e.delayed.Stop()
	}
	e.log.Debug("network restored, scheduling sync", logger.Duration("delay", e.cfg.Delay))
	e.delayed = e.clock.AfterFunc(e.cfg.Delay, func() {
		e.runTriggered("network-restored")
	})
}

// EnableAutoSync syncs automatically when connectivity returns
func (e *Engine) EnableAutoSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoSync = true
}

// DisableAutoSync stops reacting to connectivity changes
func (e *Engine) DisableAutoSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoSync = false
	if e.delayed != nil {
		e.delayed.Stop()
		e.delayed = nil
	}
}

// StartPeriodicSync syncs every interval while online, replacing any
// previous schedule
func (e *Engine) StartPeriodicSync(interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.periodic != nil {
		e.periodic.Stop()
	}
	e.periodic = e.clock.Every(interval, func() {
		if e.net.IsOnline() && !e.syncing.Load() {
			e.runTriggered("periodic")
		}
	})
}

// StopPeriodicSync cancels periodic sync
func (e *Engine) StopPeriodicSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.periodic != nil {
		e.periodic.Stop()
		e.periodic = nil
	}
}

// Trigger starts a background sync when online and idle. It never blocks.
func (e *Engine) Trigger() {
	if e.remote == nil || !e.net.IsOnline() || e.syncing.Load() {
		return
	}
	e.bg.Go(func() { e.runTriggered("nudge") })
}

// runTriggered runs a sync on behalf of a trigger and logs the outcome
func (e *Engine) runTriggered(reason string) {
	result, err := e.SyncAll(context.Background())
	switch {
	case errors.Is(err, ErrSyncInProgress), errors.Is(err, ErrOffline), errors.Is(err, ErrNoRemote):
		e.log.Debug("triggered sync skipped", logger.String("reason", reason), logger.Error(err))
	case err != nil:
		e.log.Warn("triggered sync failed", logger.String("reason", reason), logger.Error(err))
	case !result.Success:
		e.log.Warn("sync finished with failures",
			logger.String("reason", reason),
			logger.Int("synced", result.Synced),
			logger.Int("failed", result.Failed),
			logger.Int("deferred", result.Deferred))
	}
}

// AddProgressListener registers fn for progress updates and returns a
// function that removes it
func (e *Engine) AddProgressListener(fn func(Progress)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, progressListener{id: id, fn: fn})
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

func (e *Engine) notify(p Progress) {
	e.mu.Lock()
	subs := append([]progressListener(nil), e.listeners...)
	e.mu.Unlock()
	for _, l := range subs {
		l.fn(p)
	}
}

// Status reports whether a sync runs, the queue depth and the last result
func (e *Engine) Status(ctx context.Context) (Status, error) {
	pending, err := e.store.PendingCount(ctx)
	if err != nil {
		return Status{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		IsSyncing:    e.syncing.Load(),
		AutoSync:     e.autoSync,
		PendingCount: pending,
		LastResult:   e.lastResult,
		LastSyncAt:   e.lastSyncAt,
	}, nil
}

// ForceSyncNow runs a sync immediately
func (e *Engine) ForceSyncNow(ctx context.Context) (*Result, error) {
	return e.SyncAll(ctx)
}

// ClearOldData purges synced sessions older than days
func (e *Engine) ClearOldData(ctx context.Context, days int) (int64, error) {
	n, err := e.store.ClearSyncedData(ctx, days)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("purged synced sessions", logger.Int64("sessions", n), logger.Int("older_than_days", days))
	}
	return n, nil
}
