// Package acquisition drives a sample source from a periodic clock task and
// fans every sample out to subscribers in generation order.
package acquisition

import (
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
	"github.com/tphakala/magtest/internal/signal"
)

// ErrSourceStalled is reported to error subscribers when the source failed
// StallTolerance times in a row and the loop stopped.
var ErrSourceStalled = errors.NewStd("acquisition source stalled")

// Source produces the sample at acquisition time t (seconds since start)
type Source interface {
	Next(t float64) (model.SignalSample, error)
}

// DefectSetter is implemented by sources that accept synthetic defects
type DefectSetter interface {
	SetDefects([]signal.DefectConfig)
}

// State of the acquisition loop
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

const (
	DefaultSamplingRate   = 100
	DefaultStallTolerance = 5
)

// Config controls the tick rate and stall handling
type Config struct {
	SamplingRate   int // samples per second
	StallTolerance int // consecutive source failures before the loop stops
}

// DefaultConfig returns a 100 Hz configuration
func DefaultConfig() Config {
	return Config{SamplingRate: DefaultSamplingRate, StallTolerance: DefaultStallTolerance}
}

// Interval is the tick period for the configured sampling rate
func (c Config) Interval() time.Duration {
	return time.Second / time.Duration(c.SamplingRate)
}

func (c Config) validate() error {
	if c.SamplingRate <= 0 {
		return errors.Newf("sampling rate must be positive, got %d", c.SamplingRate).
			Component("acquisition").
			Category(errors.CategoryValidation).
			Context("sampling_rate", c.SamplingRate).
			Build()
	}
	return nil
}

// Status is a point-in-time view of the loop
type Status struct {
	State          State
	CurrentTime    float64 // acquisition time cursor in seconds
	SamplingRate   int
	SamplesEmitted uint64
}

type dataSubscriber struct {
	id uint64
	fn func(model.SignalSample)
}

type errorSubscriber struct {
	id uint64
	fn func(error)
}

// Loop is the data acquisition loop. Callbacks run on the clock's task
// goroutine, outside the loop lock, so they may call Stop or Pause.
type Loop struct {
	mu       sync.Mutex
	tickMu   sync.Mutex // serializes ticks across restarts
	clock    clock.Clock
	source   Source
	cfg      Config
	state    State
	cursor   float64
	task     clock.Task
	epoch    uint64 // bumped on every stop so stale ticks are discarded
	nextID   uint64
	dataSubs []dataSubscriber
	errSubs  []errorSubscriber
	failures int
	emitted  uint64

	waveform *Waveform
	metrics  *metrics.AcquisitionMetrics
	log      logger.Logger
}

// Option configures a Loop
type Option func(*Loop)

// WithClock sets the scheduler, defaults to the wall clock
func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.AcquisitionMetrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithLogger overrides the module logger
func WithLogger(log logger.Logger) Option {
	return func(l *Loop) { l.log = log }
}

// WithWaveform records every emitted sample into w
func WithWaveform(w *Waveform) Option {
	return func(l *Loop) { l.waveform = w }
}

// NewLoop creates an idle loop reading from source
func NewLoop(source Source, cfg Config, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, errors.Newf("acquisition source is required").
			Component("acquisition").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.StallTolerance <= 0 {
		cfg.StallTolerance = DefaultStallTolerance
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	l := &Loop{
		clock:  clock.New(),
		source: source,
		cfg:    cfg,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Global().Module("acquisition")
	}
	return l, nil
}

// OnData registers a sample callback and returns its unsubscribe func
func (l *Loop) OnData(fn func(model.SignalSample)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.dataSubs = append(l.dataSubs, dataSubscriber{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.dataSubs {
			if s.id == id {
				l.dataSubs = append(l.dataSubs[:i:i], l.dataSubs[i+1:]...)
				return
			}
		}
	}
}

// OnError registers a callback for fatal source errors
func (l *Loop) OnError(fn func(error)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.errSubs = append(l.errSubs, errorSubscriber{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.errSubs {
			if s.id == id {
				l.errSubs = append(l.errSubs[:i:i], l.errSubs[i+1:]...)
				return
			}
		}
	}
}

// Start begins acquisition from time zero. Calling Start while running
// only logs a warning.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateRunning {
		l.log.Warn("acquisition already running")
		return
	}
	l.stopTaskLocked()
	l.cursor = 0
	l.failures = 0
	l.scheduleLocked()
	l.log.Info("acquisition started", logger.Int("sampling_rate", l.cfg.SamplingRate))
}

// Stop halts acquisition and returns to idle
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateIdle {
		return
	}
	l.stopTaskLocked()
	l.state = StateIdle
	l.metrics.SetRunning(false)
	l.log.Info("acquisition stopped", logger.Uint64("samples_emitted", l.emitted))
}

// Pause suspends delivery while keeping the time cursor
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning {
		return
	}
	l.stopTaskLocked()
	l.state = StatePaused
	l.metrics.SetRunning(false)
	l.log.Debug("acquisition paused", logger.Float64("cursor", l.cursor))
}

// Resume continues a paused loop from where it stopped
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StatePaused {
		return
	}
	l.failures = 0
	l.scheduleLocked()
	l.log.Debug("acquisition resumed", logger.Float64("cursor", l.cursor))
}

// Reset stops the loop, zeroes the cursor and drops all subscribers
func (l *Loop) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTaskLocked()
	l.state = StateIdle
	l.cursor = 0
	l.failures = 0
	l.emitted = 0
	l.dataSubs = nil
	l.errSubs = nil
	if l.waveform != nil {
		l.waveform.Reset()
	}
	l.metrics.SetRunning(false)
}

// UpdateConfig applies cfg between ticks. A running loop is restarted with
// the new interval and keeps its time cursor.
func (l *Loop) UpdateConfig(cfg Config) error {
	if cfg.StallTolerance <= 0 {
		cfg.StallTolerance = l.Config().StallTolerance
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	wasRunning := l.state == StateRunning
	l.stopTaskLocked()
	l.cfg = cfg
	if wasRunning {
		l.scheduleLocked()
	}
	l.log.Info("acquisition config updated",
		logger.Int("sampling_rate", cfg.SamplingRate),
		logger.Int("stall_tolerance", cfg.StallTolerance))
	return nil
}

// SetDefects forwards synthetic defects to the source
func (l *Loop) SetDefects(defects []signal.DefectConfig) error {
	ds, ok := l.source.(DefectSetter)
	if !ok {
		return errors.Newf("source does not accept synthetic defects").
			Component("acquisition").
			Category(errors.CategoryAcquisition).
			Build()
	}
	ds.SetDefects(defects)
	return nil
}

// Config returns the active configuration
func (l *Loop) Config() Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// State returns the current state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Status returns state, cursor and counters
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		State:          l.state,
		CurrentTime:    l.cursor,
		SamplingRate:   l.cfg.SamplingRate,
		SamplesEmitted: l.emitted,
	}
}

// Waveform returns the attached waveform buffer, or nil
func (l *Loop) Waveform() *Waveform {
	return l.waveform
}

func (l *Loop) scheduleLocked() {
	epoch := l.epoch
	l.task = l.clock.Every(l.cfg.Interval(), func() { l.tick(epoch) })
	l.state = StateRunning
	l.metrics.SetRunning(true)
}

func (l *Loop) stopTaskLocked() {
	if l.task != nil {
		l.task.Stop()
		l.task = nil
	}
	l.epoch++
}

func (l *Loop) tick(epoch uint64) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	l.mu.Lock()
	if l.epoch != epoch || l.state != StateRunning {
		l.mu.Unlock()
		return
	}
	t := l.cursor
	l.mu.Unlock()

	sample, err := l.source.Next(t)

	l.mu.Lock()
	if l.epoch != epoch {
		// stopped while reading the source
		l.mu.Unlock()
		return
	}
	if err != nil {
		l.handleSourceErrorLocked(err)
		return
	}
	l.failures = 0
	l.cursor += 1 / float64(l.cfg.SamplingRate)
	l.emitted++
	subs := make([]dataSubscriber, len(l.dataSubs))
	copy(subs, l.dataSubs)
	l.mu.Unlock()

	if l.waveform != nil {
		l.waveform.Add(sample)
	}
	l.metrics.SampleEmitted()
	for _, s := range subs {
		s.fn(sample)
	}
}

// handleSourceErrorLocked releases l.mu
func (l *Loop) handleSourceErrorLocked(err error) {
	l.failures++
	l.metrics.SourceError()
	failures, tolerance := l.failures, l.cfg.StallTolerance
	if failures < tolerance {
		l.mu.Unlock()
		l.log.Warn("acquisition source read failed",
			logger.Error(err),
			logger.Int("consecutive_failures", failures))
		return
	}

	l.stopTaskLocked()
	l.state = StateIdle
	l.metrics.SetRunning(false)
	l.metrics.Stalled()
	subs := make([]errorSubscriber, len(l.errSubs))
	copy(subs, l.errSubs)
	l.mu.Unlock()

	stallErr := errors.New(errors.Join(ErrSourceStalled, err)).
		Component("acquisition").
		Category(errors.CategoryAcquisition).
		Context("consecutive_failures", failures).
		Build()
	l.log.Error("acquisition stopped after repeated source failures", logger.Error(stallErr))
	for _, s := range subs {
		s.fn(stallErr)
	}
}
