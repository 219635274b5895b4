package alarm

import (
	"context"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/mqtt"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

// Registrar is the part of the event bus the sinks attach to
type Registrar interface {
	RegisterConsumer(consumer events.Consumer) error
}

// Setup registers every enabled sink on the bus and returns a func that
// disconnects them. Sinks that cannot reach their backend at startup are
// still registered and retry on delivery.
func Setup(ctx context.Context, settings *conf.AlarmSettings, bus Registrar, m *metrics.AlarmMetrics) (func(), error) {
	log := logger.Global().Module("alarm")
	filter := Filter{MinSeverity: model.Severity(settings.MinSeverity)}
	var closers []func()

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if settings.MQTT.Enabled {
		cfg := mqtt.DefaultConfig()
		cfg.Broker = settings.MQTT.Broker
		cfg.Username = settings.MQTT.Username
		cfg.Password = settings.MQTT.Password
		cfg.Topic = settings.MQTT.Topic
		cfg.Retain = settings.MQTT.Retain

		client, err := mqtt.NewClient(cfg, mqtt.WithMetrics(m))
		if err != nil {
			closeAll()
			return nil, err
		}
		if err := client.Connect(ctx); err != nil {
			log.Warn("mqtt broker unreachable, will retry on delivery",
				logger.String("broker", cfg.Broker),
				logger.Error(err))
		}
		sink := NewMQTTSink(client, cfg.Topic, filter, WithMetrics(m))
		if err := bus.RegisterConsumer(sink); err != nil {
			client.Disconnect()
			closeAll()
			return nil, err
		}
		closers = append(closers, client.Disconnect)
		log.Info("mqtt alarm sink registered", logger.String("topic", cfg.Topic))
	}

	if settings.Redis.Enabled {
		rc := NewRedisClient(settings.Redis.Addr, settings.Redis.Password, settings.Redis.DB)
		sink := NewRedisSink(rc, settings.Redis.Stream, settings.Redis.MaxLen, filter, WithMetrics(m))
		if err := sink.Ping(ctx); err != nil {
			m.SetConnected(sink.Name(), false)
			log.Warn("redis unreachable, will retry on delivery",
				logger.String("addr", settings.Redis.Addr),
				logger.Error(err))
		} else {
			m.SetConnected(sink.Name(), true)
		}
		if err := bus.RegisterConsumer(sink); err != nil {
			_ = sink.Close()
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = sink.Close() })
		log.Info("redis alarm sink registered", logger.String("stream", settings.Redis.Stream))
	}

	return closeAll, nil
}
