package alarm

import (
	"context"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// DefaultStreamMaxLen caps the stream when no limit is configured
const DefaultStreamMaxLen = 10000

// RedisSink appends events to a Redis stream, trimming it to MaxLen entries
type RedisSink struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	filter  Filter
	timeout time.Duration
	metrics *metrics.AlarmMetrics
	log     logger.Logger
}

// NewRedisClient creates a go-redis client for the stream sink
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// NewRedisSink creates a sink writing to stream
func NewRedisSink(client *redis.Client, stream string, maxLen int64, filter Filter, opts ...SinkOption) *RedisSink {
	o := applyOptions("redis", opts)
	if stream == "" {
		stream = "magtest:defects"
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &RedisSink{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		filter:  filter,
		timeout: o.timeout,
		metrics: o.metrics,
		log:     o.log,
	}
}

// Name implements events.Consumer
func (s *RedisSink) Name() string { return "redis" }

// Ping checks the connection
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.New(err).
			Component("alarm").
			Category(errors.CategoryNetwork).
			Context("sink", s.Name()).
			Build()
	}
	return nil
}

// ProcessEvent implements events.Consumer
func (s *RedisSink) ProcessEvent(event events.Event) error {
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

	values := map[string]any{
		"kind":       string(event.GetKind()),
		"session_id": event.GetSessionID(),
		"timestamp":  strconv.FormatInt(event.GetTimestamp().UnixMilli(), 10),
		"data":       string(payload),
	}
	if de, ok := event.(events.DefectEvent); ok {
		values["severity"] = string(de.Defect.Severity)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: values,
	}).Result()
	s.metrics.RecordDelivery(s.Name(), time.Since(start), err)
	if err != nil {
		return errors.New(err).
			Component("alarm").
			Category(errors.CategoryNetwork).
			Context("sink", s.Name()).
			Context("stream", s.stream).
			Build()
	}

	s.log.Debug("event appended",
		logger.String("stream", s.stream),
		logger.String("id", id),
		logger.String("kind", string(event.GetKind())))
	return nil
}

// Close releases the redis connection pool
func (s *RedisSink) Close() error {
	return s.client.Close()
}
