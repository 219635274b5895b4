package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() Config {
	return Config{
		BufferSize: 1000,
		Workers:    2,
	}
}

// Bus provides asynchronous event processing with non-blocking publishing
type Bus struct {
	eventChan chan Event
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.Mutex

	consumers []Consumer

	received  atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
	errs      atomic.Uint64

	metrics *metrics.AlarmMetrics
	log     logger.Logger
}

// Option configures a Bus
type Option func(*Bus)

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(b *Bus) { b.log = l }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(m *metrics.AlarmMetrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates an idle bus. Workers start with the first consumer.
func New(cfg Config, opts ...Option) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		eventChan: make(chan Event, cfg.BufferSize),
		workers:   cfg.Workers,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Global().Module("events")
	}
	return b
}

// RegisterConsumer adds a consumer. Names must be unique.
func (b *Bus) RegisterConsumer(consumer Consumer) error {
	if b.closed.Load() {
		return errors.Newf("event bus is shut down").
			Component("events").
			Category(errors.CategoryState).
			Build()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component("events").
				Category(errors.CategoryConflict).
				Build()
		}
	}
	b.consumers = append(b.consumers, consumer)
	b.log.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if !b.running.Load() {
		b.start()
	}
	return nil
}

// TryPublish queues an event without blocking. It returns false when the
// event was dropped because the buffer is full or nobody is listening.
func (b *Bus) TryPublish(event Event) bool {
	if b == nil || !b.running.Load() {
		return false
	}

	select {
	case b.eventChan <- event:
		b.received.Add(1)
		b.metrics.EventPublished(true)
		return true
	default:
		b.dropped.Add(1)
		b.metrics.EventPublished(false)
		b.log.Debug("event dropped due to full buffer",
			logger.String("kind", string(event.GetKind())),
			logger.String("session_id", event.GetSessionID()))
		return false
	}
}

func (b *Bus) start() {
	if b.running.Swap(true) {
		return
	}
	b.log.Debug("starting event bus workers", logger.Int("count", b.workers))
	for i := range b.workers {
		b.wg.Go(func() { b.worker(i) })
	}
}

func (b *Bus) worker(id int) {
	log := b.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-b.ctx.Done():
			b.drain(log)
			return
		case event := <-b.eventChan:
			b.processEvent(event, log)
		}
	}
}

// drain handles events still buffered at shutdown
func (b *Bus) drain(log logger.Logger) {
	for {
		select {
		case event := <-b.eventChan:
			b.processEvent(event, log)
		default:
			return
		}
	}
}

func (b *Bus) processEvent(event Event, log logger.Logger) {
	b.mu.Lock()
	consumers := make([]Consumer, len(b.consumers))
	copy(consumers, b.consumers)
	b.mu.Unlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.errs.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.Any("panic", r),
						logger.String("kind", string(event.GetKind())))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				b.errs.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(event.GetKind())),
					logger.Error(err))
				return
			}
			b.processed.Add(1)
		}()
	}
}

// Shutdown stops accepting events, lets workers drain the buffer and waits
// up to timeout for them to exit.
func (b *Bus) Shutdown(timeout time.Duration) error {
	if b.closed.Swap(true) {
		return nil
	}
	b.running.Store(false)
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.log.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		b.log.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return errors.New(fmt.Errorf("event bus shutdown timed out after %s", timeout)).
			Component("events").
			Category(errors.CategoryTimeout).
			Build()
	}
}

// Stats returns current event bus statistics
func (b *Bus) Stats() Stats {
	return Stats{
		EventsReceived:  b.received.Load(),
		EventsProcessed: b.processed.Load(),
		EventsDropped:   b.dropped.Load(),
		ConsumerErrors:  b.errs.Load(),
	}
}
