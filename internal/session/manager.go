package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/magtest/internal/acquisition"
	"github.com/tphakala/magtest/internal/clock"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/observability/metrics"
	"github.com/tphakala/magtest/internal/signal"
)

type subscriber struct {
	id uint64
	fn func(State)
}

// Manager is the testing session state machine. Transitions are serialized;
// sample delivery only takes the buffer lock, and subscribers are called
// outside of it.
type Manager struct {
	store   Store
	loop    *acquisition.Loop
	proc    *signal.Processor
	clock   clock.Clock
	cfg     Config
	log     logger.Logger
	metrics *metrics.AcquisitionMetrics
	bus     Publisher
	syncer  Syncer

	opMu    sync.Mutex // serializes transitions
	flushMu sync.Mutex // one flush at a time

	mu           sync.Mutex
	phase        Phase
	session      *model.TestingSession
	raw          []model.SignalSample
	processed    []model.SignalSample
	defects      []model.Defect
	latest       *model.SignalSample
	collected    int
	elapsed      time.Duration // accumulated running time before runningSince
	runningSince time.Time
	lastError    string
	flushes      int
	progressTask clock.Task
	flushTask    clock.Task
	detach       []func()
	subs         []subscriber
	nextID       uint64
}

// Option configures a Manager
type Option func(*Manager)

// WithClock sets the scheduler for progress and flush timers
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics attaches acquisition metrics for flushes and defects
func WithMetrics(am *metrics.AcquisitionMetrics) Option {
	return func(m *Manager) { m.metrics = am }
}

// WithPublisher publishes session and defect events
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.bus = p }
}

// WithSyncer nudges the sync engine after local writes
func WithSyncer(s Syncer) Option {
	return func(m *Manager) { m.syncer = s }
}

// WithProcessor replaces the signal processor
func WithProcessor(p *signal.Processor) Option {
	return func(m *Manager) { m.proc = p }
}

// NewManager creates an idle manager driving loop
func NewManager(store Store, loop *acquisition.Loop, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil || loop == nil {
		return nil, errors.Newf("session manager requires a store and an acquisition loop").
			Component("session").
			Category(errors.CategoryConfiguration).
			Build()
	}
	def := DefaultConfig()
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = def.FlushThreshold
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = def.ProgressInterval
	}
	if cfg.OperatorID == "" {
		cfg.OperatorID = def.OperatorID
	}
	if cfg.Defaults == (model.TestingParameters{}) {
		cfg.Defaults = def.Defaults
	}

	m := &Manager{
		store: store,
		loop:  loop,
		cfg:   cfg,
		phase: PhaseIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.proc == nil {
		m.proc = signal.NewProcessor()
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.log == nil {
		m.log = logger.Global().Module("session")
	}
	return m, nil
}

// Start creates and persists a new session, arms the processor and starts
// acquisition. A persistence failure leaves the manager in PhaseError.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*model.TestingSession, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if phase := m.Phase(); phase.Live() {
		return nil, errors.New(ErrSessionActive).
			Component("session").
			Category(errors.CategoryState).
			Context("phase", string(phase)).
			Build()
	}

	params := m.cfg.Defaults
	if req.Parameters != nil {
		params = *req.Parameters
	}
	fieldErrs := model.ValidateParameters(params)
	if fe := model.ValidateProjectName(req.ProjectName); fe != nil {
		fieldErrs = append(model.FieldErrors{*fe}, fieldErrs...)
	}
	if len(fieldErrs) > 0 {
		return nil, errors.New(fieldErrs).
			Component("session").
			Category(errors.CategoryValidation).
			Context("fields", strings.Join(fieldErrs.Fields(), ",")).
			Build()
	}

	operator := req.OperatorID
	if operator == "" {
		operator = m.cfg.OperatorID
	}
	now := m.clock.Now()
	s := &model.TestingSession{
		ID:          uuid.NewString(),
		ProjectName: strings.TrimSpace(req.ProjectName),
		OperatorID:  operator,
		StartTime:   now,
		Status:      model.StatusRunning,
		Parameters:  params,
		Metadata:    req.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.SaveSession(ctx, s); err != nil {
		m.mu.Lock()
		m.phase = PhaseError
		m.lastError = err.Error()
		m.mu.Unlock()
		m.log.Error("failed to create session", logger.String("project", s.ProjectName), logger.Error(err))
		m.notify()
		return nil, err
	}

	m.proc.Configure(params.Gain, params.Filter)

	m.mu.Lock()
	m.resetLocked()
	m.session = s
	m.phase = PhaseRunning
	m.runningSince = now
	m.mu.Unlock()

	m.attachLoop()
	m.loop.Start()
	m.startTimers()

	m.log.Info("session started",
		logger.String("session_id", s.ID),
		logger.String("project", s.ProjectName),
		logger.String("operator_id", operator))
	m.publishSession(s)
	m.nudgeSync()
	m.notify()

	out := *s
	return &out, nil
}

// Pause stops sample delivery and the duration clock, keeping buffers
func (m *Manager) Pause(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase != PhaseRunning {
		err := m.transitionErrorLocked("pause")
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.loop.Pause()

	m.mu.Lock()
	m.elapsed += m.clock.Now().Sub(m.runningSince)
	m.phase = PhasePaused
	m.session.Status = model.StatusPaused
	stopTask(&m.progressTask)
	s := *m.session
	m.mu.Unlock()

	m.persist(ctx, "pause", s.ID, model.SessionUpdate{Status: model.Ptr(model.StatusPaused)})
	m.log.Info("session paused", logger.String("session_id", s.ID))
	m.publishSession(&s)
	m.notify()
	return nil
}

// Resume restarts delivery and the duration clock
func (m *Manager) Resume(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase != PhasePaused {
		err := m.transitionErrorLocked("resume")
		m.mu.Unlock()
		return err
	}
	m.phase = PhaseRunning
	m.session.Status = model.StatusRunning
	m.runningSince = m.clock.Now()
	m.progressTask = m.clock.Every(m.cfg.ProgressInterval, m.progressTick)
	s := *m.session
	m.mu.Unlock()

	m.loop.Resume()

	m.persist(ctx, "resume", s.ID, model.SessionUpdate{Status: model.Ptr(model.StatusRunning)})
	m.log.Info("session resumed", logger.String("session_id", s.ID))
	m.publishSession(&s)
	m.notify()
	return nil
}

// Stop ends the session: timers and acquisition are cancelled, every
// buffered sample is flushed and the session is closed as completed. The
// local state is completed even when persisting fails.
func (m *Manager) Stop(ctx context.Context) (*model.TestingSession, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.phase.Live() {
		err := m.transitionErrorLocked("stop")
		m.mu.Unlock()
		return nil, err
	}
	stopTask(&m.progressTask)
	stopTask(&m.flushTask)
	if m.phase == PhaseRunning {
		m.elapsed += m.clock.Now().Sub(m.runningSince)
	}
	// late samples from an in-flight tick are dropped from here on
	m.phase = PhaseCompleted
	m.mu.Unlock()

	m.loop.Stop()
	m.detachLoop()

	_, flushErr := m.flush(ctx)

	end := m.clock.Now()
	m.mu.Lock()
	m.session.EndTime = &end
	m.session.Status = model.StatusCompleted
	m.session.UpdatedAt = end
	s := *m.session
	m.mu.Unlock()

	persistErr := m.persist(ctx, "stop", s.ID, model.SessionUpdate{
		Status:  model.Ptr(model.StatusCompleted),
		EndTime: &end,
	})

	m.log.Info("session completed",
		logger.String("session_id", s.ID),
		logger.Int("samples", m.Stats().SamplesCollected),
		logger.Int("defects", m.Stats().DefectsDetected))
	m.publishSession(&s)
	m.nudgeSync()
	m.notify()
	return &s, errors.Join(flushErr, persistErr)
}

// UpdateParameters merges u into the live parameters and re-arms the
// processor before the next sample. Invalid results are rejected.
func (m *Manager) UpdateParameters(ctx context.Context, u model.ParameterUpdate) (model.TestingParameters, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.phase.Live() {
		err := m.transitionErrorLocked("update-parameters")
		m.mu.Unlock()
		return model.TestingParameters{}, err
	}
	merged := m.session.Parameters.Merge(u)
	m.mu.Unlock()

	if fieldErrs := model.ValidateParameters(merged); len(fieldErrs) > 0 {
		return model.TestingParameters{}, errors.New(fieldErrs).
			Component("session").
			Category(errors.CategoryValidation).
			Context("fields", strings.Join(fieldErrs.Fields(), ",")).
			Build()
	}

	m.mu.Lock()
	m.proc.Configure(merged.Gain, merged.Filter)
	m.session.Parameters = merged
	id := m.session.ID
	m.mu.Unlock()

	m.persist(ctx, "update-parameters", id, model.SessionUpdate{Parameters: &merged})
	m.log.Debug("session parameters updated",
		logger.String("session_id", id),
		logger.Float64("gain_db", merged.Gain),
		logger.String("filter", string(merged.Filter)))
	m.notify()
	return merged, nil
}

// LoadSession loads a stored session read-only. It is rejected while a
// live session exists.
func (m *Manager) LoadSession(ctx context.Context, id string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if phase := m.Phase(); phase.Live() {
		return errors.New(ErrSessionActive).
			Component("session").
			Category(errors.CategoryState).
			Context("phase", string(phase)).
			Context("session_id", id).
			Build()
	}

	data, err := m.store.GetCompleteSessionData(ctx, id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.resetLocked()
	s := data.Session
	m.session = &s
	m.processed = data.Signals
	m.defects = data.Defects
	m.collected = len(data.Signals)
	if s.EndTime != nil {
		m.elapsed = s.EndTime.Sub(s.StartTime)
	}
	if n := len(data.Signals); n > 0 {
		last := data.Signals[n-1]
		m.latest = &last
	}
	m.phase = PhaseLoaded
	m.mu.Unlock()

	m.log.Debug("session loaded", logger.String("session_id", id), logger.Int("samples", len(data.Signals)))
	m.notify()
	return nil
}

// ClearSession drops the current session. Live sessions must be stopped first.
func (m *Manager) ClearSession() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.phase.Live() {
		phase := m.phase
		m.mu.Unlock()
		return errors.New(ErrSessionActive).
			Component("session").
			Category(errors.CategoryState).
			Context("phase", string(phase)).
			Build()
	}
	m.resetLocked()
	m.session = nil
	m.phase = PhaseIdle
	m.mu.Unlock()

	m.detachLoop()
	m.notify()
	return nil
}

// Subscribe registers fn for state snapshots and returns an unsubscribe func
func (m *Manager) Subscribe(fn func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.subs = append(m.subs, subscriber{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.id == id {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				return
			}
		}
	}
}

// State returns a snapshot of the manager
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Phase returns the current phase
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// IsTesting reports whether acquisition is running
func (m *Manager) IsTesting() bool { return m.Phase() == PhaseRunning }

// IsPaused reports whether the session is paused
func (m *Manager) IsPaused() bool { return m.Phase() == PhasePaused }

// CanStart reports whether Start would be accepted
func (m *Manager) CanStart() bool { return !m.Phase().Live() }

// Stats returns the progress counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked()
}

// LatestSample returns the most recent processed sample
func (m *Manager) LatestSample() (model.SignalSample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return model.SignalSample{}, false
	}
	return *m.latest, true
}

// Samples returns the buffered processed samples. For a loaded session
// these are all stored samples.
func (m *Manager) Samples() []model.SignalSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.SignalSample(nil), m.processed...)
}

// Defects returns the defects detected so far
func (m *Manager) Defects() []model.Defect {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Defect(nil), m.defects...)
}

// Flushes returns how many batches were flushed in the current session
func (m *Manager) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

func (m *Manager) attachLoop() {
	m.detachLoop()
	unsubData := m.loop.OnData(m.handleSample)
	unsubErr := m.loop.OnError(m.handleAcquisitionError)
	m.mu.Lock()
	m.detach = []func(){unsubData, unsubErr}
	m.mu.Unlock()
}

func (m *Manager) detachLoop() {
	m.mu.Lock()
	detach := m.detach
	m.detach = nil
	m.mu.Unlock()
	for _, fn := range detach {
		fn()
	}
}

func (m *Manager) startTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	stopTask(&m.progressTask)
	stopTask(&m.flushTask)
	m.progressTask = m.clock.Every(m.cfg.ProgressInterval, m.progressTick)
	m.flushTask = m.clock.Every(m.cfg.FlushInterval, m.checkFlush)
}

// handleSample is the acquisition callback
func (m *Manager) handleSample(raw model.SignalSample) {
	out := m.proc.ProcessSignal(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseRunning {
		return
	}
	m.raw = append(m.raw, raw)
	m.processed = append(m.processed, out)
	m.collected++
	m.latest = &out
}

// handleAcquisitionError moves a live session to PhaseError when the
// source stalls, keeping whatever was already acquired
func (m *Manager) handleAcquisitionError(cause error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if !m.phase.Live() {
		m.mu.Unlock()
		return
	}
	stopTask(&m.progressTask)
	stopTask(&m.flushTask)
	if m.phase == PhaseRunning {
		m.elapsed += m.clock.Now().Sub(m.runningSince)
	}
	m.phase = PhaseError
	m.lastError = cause.Error()
	m.session.Status = model.StatusError
	s := *m.session
	m.mu.Unlock()

	m.detachLoop()
	ctx := context.Background()
	if _, err := m.flush(ctx); err != nil {
		m.log.Error("failed to flush after acquisition error", logger.String("session_id", s.ID), logger.Error(err))
	}
	m.persist(ctx, "acquisition-error", s.ID, model.SessionUpdate{Status: model.Ptr(model.StatusError)})
	m.log.Error("session aborted by acquisition failure", logger.String("session_id", s.ID), logger.Error(cause))
	m.publishSession(&s)
	m.notify()
}

func (m *Manager) progressTick() {
	if m.Phase() != PhaseRunning {
		return
	}
	m.notify()
}

func (m *Manager) checkFlush() {
	m.mu.Lock()
	due := m.phase == PhaseRunning && len(m.processed) >= m.cfg.FlushThreshold
	m.mu.Unlock()
	if !due {
		return
	}
	if _, err := m.flush(context.Background()); err != nil {
		m.log.Error("periodic flush failed", logger.Error(err))
	}
}

// persist writes a session update. Failures are logged and returned; the
// local transition stands either way.
func (m *Manager) persist(ctx context.Context, op, id string, u model.SessionUpdate) error {
	if _, err := m.store.UpdateSession(ctx, id, u); err != nil {
		m.log.Warn("failed to persist session update",
			logger.String("operation", op),
			logger.String("session_id", id),
			logger.Error(err))
		return err
	}
	return nil
}

func (m *Manager) nudgeSync() {
	if m.syncer != nil {
		m.syncer.Trigger()
	}
}

func (m *Manager) publishSession(s *model.TestingSession) {
	if m.bus == nil {
		return
	}
	m.bus.TryPublish(events.SessionEvent{
		SessionID:   s.ID,
		ProjectName: s.ProjectName,
		OperatorID:  s.OperatorID,
		Status:      s.Status,
		At:          m.clock.Now(),
	})
}

func (m *Manager) notify() {
	m.mu.Lock()
	st := m.snapshotLocked()
	subs := make([]subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, s := range subs {
		s.fn(st)
	}
}

func (m *Manager) snapshotLocked() State {
	st := State{
		Phase:    m.phase,
		Stats:    m.statsLocked(),
		Buffered: len(m.processed),
		Error:    m.lastError,
	}
	if m.phase == PhaseLoaded {
		st.Buffered = 0
	}
	if m.session != nil {
		s := *m.session
		st.Session = &s
	}
	if m.latest != nil {
		l := *m.latest
		st.LatestSample = &l
	}
	return st
}

func (m *Manager) statsLocked() Stats {
	d := m.elapsed
	if m.phase == PhaseRunning {
		d += m.clock.Now().Sub(m.runningSince)
	}
	return Stats{
		Duration:         d,
		DurationText:     FormatDuration(d),
		SamplesCollected: m.collected,
		DefectsDetected:  len(m.defects),
		SamplingRate:     m.loop.Config().SamplingRate,
	}
}

func (m *Manager) resetLocked() {
	stopTask(&m.progressTask)
	stopTask(&m.flushTask)
	m.raw = nil
	m.processed = nil
	m.defects = nil
	m.latest = nil
	m.collected = 0
	m.elapsed = 0
	m.flushes = 0
	m.lastError = ""
}

func (m *Manager) transitionErrorLocked(op string) error {
	if m.session == nil || m.phase == PhaseIdle {
		return errors.New(ErrNoSession).
			Component("session").
			Category(errors.CategoryState).
			Context("operation", op).
			Build()
	}
	return errors.New(ErrInvalidTransition).
		Component("session").
		Category(errors.CategoryState).
		Context("operation", op).
		Context("phase", string(m.phase)).
		Build()
}

func stopTask(t *clock.Task) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
