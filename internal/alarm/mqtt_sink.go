package alarm

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/mqtt"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// MQTTSink publishes defects to <topic>/defects, high and critical defects
// additionally to <topic>/alarms, and session transitions to <topic>/sessions.
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	filter  Filter
	timeout time.Duration
	metrics *metrics.AlarmMetrics
	log     logger.Logger
}

// SinkOption configures a sink
type SinkOption func(*sinkOptions)

type sinkOptions struct {
	metrics *metrics.AlarmMetrics
	log     logger.Logger
	timeout time.Duration
}

// WithMetrics records deliveries
func WithMetrics(m *metrics.AlarmMetrics) SinkOption {
	return func(o *sinkOptions) { o.metrics = m }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) SinkOption {
	return func(o *sinkOptions) { o.log = l }
}

// WithTimeout bounds each delivery
func WithTimeout(d time.Duration) SinkOption {
	return func(o *sinkOptions) { o.timeout = d }
}

func applyOptions(name string, opts []SinkOption) sinkOptions {
	o := sinkOptions{timeout: DefaultDeliveryTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Global().Module("alarm").Module(name)
	}
	return o
}

// NewMQTTSink wraps a client. The base topic has trailing slashes removed.
func NewMQTTSink(client mqtt.Client, topic string, filter Filter, opts ...SinkOption) *MQTTSink {
	o := applyOptions("mqtt", opts)
	topic = strings.TrimRight(topic, "/")
	if topic == "" {
		topic = "magtest"
	}
	return &MQTTSink{
		client:  client,
		topic:   topic,
		filter:  filter,
		timeout: o.timeout,
		metrics: o.metrics,
		log:     o.log,
	}
}

// Name implements events.Consumer
func (s *MQTTSink) Name() string { return "mqtt" }

// Topics returns the topics an event is delivered to
func (s *MQTTSink) Topics(event events.Event) []string {
	switch e := event.(type) {
	case events.DefectEvent:
		topics := []string{s.topic + "/defects"}
		if IsUrgent(e.Defect.Severity) {
			topics = append(topics, s.topic+"/alarms")
		}
		return topics
	case events.SessionEvent:
		return []string{s.topic + "/sessions"}
	}
	return nil
}

// ProcessEvent implements events.Consumer
func (s *MQTTSink) ProcessEvent(event events.Event) error {
	if !s.filter.Accept(event) {
		return nil
	}

	payload, err := encode(event)
	if err != nil {
		return errors.New(err).
			Component("alarm").
			Category(errors.CategoryValidation).
			Context("sink", s.Name()).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if !s.client.IsConnected() {
		if err := s.client.Connect(ctx); err != nil {
			s.metrics.RecordDelivery(s.Name(), 0, err)
			return err
		}
	}

	var errs []error
	for _, topic := range s.Topics(event) {
		start := time.Now()
		err := s.client.Publish(ctx, topic, payload)
		s.metrics.RecordDelivery(s.Name(), time.Since(start), err)
		if err != nil {
			s.log.Warn("publish failed",
				logger.String("topic", topic),
				logger.String("session_id", event.GetSessionID()),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
