package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/observability/metrics"
)

const (
	sinkLabel  = "mqtt"
	maxBackoff = 5 * time.Minute
)

// ErrNotConnected is returned by Publish while the broker link is down
var ErrNotConnected = errors.NewStd("not connected to MQTT broker")

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	reconnectTimer  *time.Timer
	reconnectStop   chan struct{}
	stopOnce        sync.Once
	metrics         *metrics.AlarmMetrics
	log             logger.Logger
}

// Option configures a client
type Option func(*client)

// WithMetrics attaches alarm metrics; connection state is reported under the "mqtt" sink label
func WithMetrics(m *metrics.AlarmMetrics) Option {
	return func(c *client) { c.metrics = m }
}

// WithLogger overrides the module logger
func WithLogger(l logger.Logger) Option {
	return func(c *client) { c.log = l }
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, opts ...Option) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(cfg.Broker); err != nil {
		return nil, errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", cfg.Broker).
			Build()
	}
	c := &client{
		config:        cfg.withDefaults(),
		reconnectStop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().Module("mqtt")
	}
	return c, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Context("broker", c.config.Broker).
			Build()
	}

	host := u.Hostname()
	if host == "" {
		return errors.Newf("broker URL %q has no host", c.config.Broker).
			Component("mqtt").
			Category(errors.CategoryConfiguration).
			Build()
	}

	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			return errors.New(err).
				Component("mqtt").
				Category(errors.CategoryNetwork).
				Context("operation", "resolve_broker").
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(c.config.ConnectTimeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return errors.Newf("connection timeout after %v", c.config.ConnectTimeout).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Context("broker", c.config.Broker).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", "connect").
			Context("broker", c.config.Broker).
			Build()
	}

	c.metrics.SetConnected(sinkLabel, true)
	return nil
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.IsConnected() {
		return ErrNotConnected
	}

	timeout := c.config.PublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	token := c.internalClient.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !token.WaitTimeout(timeout) {
		c.log.Warn("publish timeout", logger.String("topic", topic))
		return errors.Newf("publish timeout for topic %s", topic).
			Component("mqtt").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryNetwork).
			Context("operation", "publish").
			Context("topic", topic).
			Build()
	}
	c.log.Debug("published", logger.String("topic", topic), logger.Int("bytes", len(payload)))
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	return c.internalClient != nil && c.internalClient.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.stopOnce.Do(func() { close(c.reconnectStop) })

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnected() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
		c.metrics.SetConnected(sinkLabel, false)
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker", logger.String("broker", c.config.Broker))
	c.metrics.SetConnected(sinkLabel, true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost",
		logger.String("broker", c.config.Broker),
		logger.Error(err))
	c.metrics.SetConnected(sinkLabel, false)
	c.startReconnectTimer()
}

func (c *client) startReconnectTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(c.config.ReconnectDelay, func() {
		select {
		case <-c.reconnectStop:
			return
		default:
			c.reconnectWithBackoff()
		}
	})
}

func (c *client) reconnectWithBackoff() {
	backoff := time.Second

	for {
		if c.IsConnected() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
		err := c.Connect(ctx)
		cancel()

		if err == nil {
			c.log.Info("reconnected to MQTT broker")
			return
		}

		c.log.Warn("failed to reconnect to MQTT broker",
			logger.Error(err),
			logger.Duration("retry_in", backoff))

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		case <-c.reconnectStop:
			return
		}
	}
}
