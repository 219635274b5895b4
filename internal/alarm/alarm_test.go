package alarm

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/mqtt"
)

var (
	testLog = logger.NewSlogLogger(io.Discard, logger.LogLevelError, time.UTC)
	at      = time.Date(2026, 6, 10, 7, 30, 0, 0, time.UTC)
)

func defectEvent(sev model.Severity) events.DefectEvent {
	return events.DefectEvent{
		SessionID:   "session-1",
		ProjectName: "Weld 12",
		Defect: model.Defect{
			ID:            "defect-" + string(sev),
			SessionID:     "session-1",
			Position:      0.42,
			Amplitude:     3.1,
			Severity:      sev,
			Timestamp:     at,
			GateTriggered: model.GateA,
		},
		DetectedAt: at,
	}
}

func sessionEvent() events.SessionEvent {
	return events.SessionEvent{
		SessionID:   "session-1",
		ProjectName: "Weld 12",
		OperatorID:  "op-7",
		Status:      model.StatusCompleted,
		At:          at,
	}
}

func TestFilter(t *testing.T) {
	f := Filter{MinSeverity: model.SeverityMedium}
	assert.False(t, f.Accept(defectEvent(model.SeverityLow)))
	assert.True(t, f.Accept(defectEvent(model.SeverityMedium)))
	assert.True(t, f.Accept(defectEvent(model.SeverityCritical)))
	assert.True(t, f.Accept(sessionEvent()))

	assert.True(t, Filter{}.Accept(defectEvent(model.SeverityLow)))
}

func TestMQTTSinkTopics(t *testing.T) {
	sink := NewMQTTSink(mqtt.NewMockClient(), "plant/line1/", Filter{}, WithLogger(testLog))

	tests := []struct {
		name  string
		event events.Event
		want  []string
	}{
		{"low defect", defectEvent(model.SeverityLow), []string{"plant/line1/defects"}},
		{"medium defect", defectEvent(model.SeverityMedium), []string{"plant/line1/defects"}},
		{"high defect", defectEvent(model.SeverityHigh), []string{"plant/line1/defects", "plant/line1/alarms"}},
		{"critical defect", defectEvent(model.SeverityCritical), []string{"plant/line1/defects", "plant/line1/alarms"}},
		{"session", sessionEvent(), []string{"plant/line1/sessions"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sink.Topics(tt.event))
		})
	}
}

func TestMQTTSinkConnectsAndPublishes(t *testing.T) {
	client := mqtt.NewMockClient()
	sink := NewMQTTSink(client, "magtest", Filter{MinSeverity: model.SeverityMedium}, WithLogger(testLog))

	require.NoError(t, sink.ProcessEvent(defectEvent(model.SeverityLow)))
	assert.False(t, client.IsConnected(), "filtered events must not touch the broker")

	require.NoError(t, sink.ProcessEvent(defectEvent(model.SeverityCritical)))
	assert.True(t, client.IsConnected())
	assert.Equal(t, []string{"magtest/defects", "magtest/alarms"}, client.Topics())

	var msg Message
	require.NoError(t, json.Unmarshal(client.Messages()[0].Payload, &msg))
	assert.Equal(t, events.KindDefect, msg.Kind)
	assert.Equal(t, "session-1", msg.SessionID)
	require.NotNil(t, msg.Defect)
	assert.Equal(t, model.SeverityCritical, msg.Defect.Severity)
	assert.InDelta(t, 0.42, msg.Defect.Position, 1e-9)
	assert.True(t, at.Equal(msg.Timestamp))
}

func TestMQTTSinkConnectFailure(t *testing.T) {
	client := mqtt.NewMockClient()
	client.ConnectErr = errors.NewStd("broker down")
	sink := NewMQTTSink(client, "magtest", Filter{}, WithLogger(testLog))

	err := sink.ProcessEvent(defectEvent(model.SeverityHigh))
	require.Error(t, err)
	assert.Empty(t, client.Messages())
}

func TestMQTTSinkPublishFailure(t *testing.T) {
	client := mqtt.NewMockClient()
	require.NoError(t, client.Connect(t.Context()))
	client.PublishErr = errors.NewStd("queue full")
	sink := NewMQTTSink(client, "magtest", Filter{}, WithLogger(testLog))

	err := sink.ProcessEvent(defectEvent(model.SeverityCritical))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSinkAppends(t *testing.T) {
	_, client := newRedis(t)
	sink := NewRedisSink(client, "magtest:defects", 100, Filter{MinSeverity: model.SeverityMedium}, WithLogger(testLog))
	require.NoError(t, sink.Ping(t.Context()))

	require.NoError(t, sink.ProcessEvent(defectEvent(model.SeverityHigh)))
	require.NoError(t, sink.ProcessEvent(defectEvent(model.SeverityLow)))
	require.NoError(t, sink.ProcessEvent(sessionEvent()))

	entries, err := client.XRange(t.Context(), "magtest:defects", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	first := entries[0].Values
	assert.Equal(t, "defect", first["kind"])
	assert.Equal(t, "session-1", first["session_id"])
	assert.Equal(t, "high", first["severity"])

	var msg Message
	data, ok := first["data"].(string)
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(data), &msg))
	require.NotNil(t, msg.Defect)
	assert.Equal(t, "defect-high", msg.Defect.ID)

	second := entries[1].Values
	assert.Equal(t, "session", second["kind"])
	assert.NotContains(t, second, "severity")
}

func TestRedisSinkTrimsStream(t *testing.T) {
	_, client := newRedis(t)
	sink := NewRedisSink(client, "", 2, Filter{}, WithLogger(testLog))

	for range 5 {
		require.NoError(t, sink.ProcessEvent(defectEvent(model.SeverityLow)))
	}

	n, err := client.XLen(t.Context(), "magtest:defects").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestRedisSinkUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	sink := NewRedisSink(client, "alarms", 10, Filter{}, WithLogger(testLog), WithTimeout(time.Second))
	mr.Close()

	err := sink.ProcessEvent(defectEvent(model.SeverityCritical))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
}

func TestSinksOnEventBus(t *testing.T) {
	_, rc := newRedis(t)
	mq := mqtt.NewMockClient()

	bus := events.New(events.Config{BufferSize: 16, Workers: 1}, events.WithLogger(testLog))
	require.NoError(t, bus.RegisterConsumer(NewMQTTSink(mq, "magtest", Filter{}, WithLogger(testLog))))
	require.NoError(t, bus.RegisterConsumer(NewRedisSink(rc, "s", 10, Filter{}, WithLogger(testLog))))

	assert.True(t, bus.TryPublish(defectEvent(model.SeverityCritical)))
	assert.True(t, bus.TryPublish(sessionEvent()))
	require.NoError(t, bus.Shutdown(5*time.Second))

	assert.ElementsMatch(t,
		[]string{"magtest/defects", "magtest/alarms", "magtest/sessions"},
		mq.Topics())

	n, err := rc.XLen(t.Context(), "s").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats := bus.Stats()
	assert.Equal(t, uint64(4), stats.EventsProcessed)
	assert.Zero(t, stats.ConsumerErrors)
}

type captureRegistrar struct {
	consumers []events.Consumer
}

func (c *captureRegistrar) RegisterConsumer(consumer events.Consumer) error {
	c.consumers = append(c.consumers, consumer)
	return nil
}

func TestSetupRegistersEnabledSinks(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := &captureRegistrar{}

	closeFn, err := Setup(t.Context(), &conf.AlarmSettings{
		MinSeverity: "high",
		Redis: conf.RedisSettings{
			Enabled: true,
			Addr:    mr.Addr(),
			Stream:  "magtest:defects",
			MaxLen:  50,
		},
	}, reg, nil)
	require.NoError(t, err)
	t.Cleanup(closeFn)

	require.Len(t, reg.consumers, 1)
	assert.Equal(t, "redis", reg.consumers[0].Name())

	require.NoError(t, reg.consumers[0].ProcessEvent(defectEvent(model.SeverityMedium)))
	require.NoError(t, reg.consumers[0].ProcessEvent(defectEvent(model.SeverityCritical)))

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	n, err := rc.XLen(t.Context(), "magtest:defects").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSetupNothingEnabled(t *testing.T) {
	reg := &captureRegistrar{}
	closeFn, err := Setup(t.Context(), &conf.AlarmSettings{}, reg, nil)
	require.NoError(t, err)
	closeFn()
	assert.Empty(t, reg.consumers)
}
