// Package telemetry initialises opt-in Sentry error reporting.
package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/logger"
)

var initialized atomic.Bool

// Options carries process identity and an optional transport override
type Options struct {
	SystemID  string
	Version   string
	Transport sentry.Transport
}

// PlatformInfo describes the host without identifying it
type PlatformInfo struct {
	OS           string
	Architecture string
	NumCPU       int
	GoVersion    string
}

func collectPlatformInfo() PlatformInfo {
	return PlatformInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}
}

// InitSentry initialises the Sentry SDK when enabled in settings and routes
// enhanced errors to it. It is a no-op when telemetry is disabled.
func InitSentry(settings *conf.SentrySettings, opts Options) error {
	log := logger.Global().Module("telemetry")
	if settings == nil || !settings.Enabled {
		log.Debug("sentry telemetry disabled")
		return nil
	}

	sampleRate := settings.SampleRate
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = 1.0
	}
	environment := settings.Environment
	if environment == "" {
		environment = "production"
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       sampleRate,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          fmt.Sprintf("%s@%s", conf.AppName, opts.Version),
		Transport:        opts.Transport,
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	configureScope(opts)
	initialized.Store(true)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))

	log.Info("sentry telemetry initialized",
		logger.String("system_id", opts.SystemID),
		logger.String("version", opts.Version),
		logger.String("environment", environment))
	return nil
}

// applyPrivacyFilters strips host and user identifying data from an event
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	for _, key := range []string{"device", "os", "runtime"} {
		delete(event.Contexts, key)
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	delete(event.Tags, "server_name")
	delete(event.Tags, "hostname")
	return event
}

func configureScope(opts Options) {
	info := collectPlatformInfo()
	sentry.ConfigureScope(func(scope *sentry.Scope) {
		if opts.SystemID != "" {
			scope.SetTag("system_id", opts.SystemID)
		}
		scope.SetTag("os", info.OS)
		scope.SetTag("arch", info.Architecture)
		scope.SetContext("application", map[string]any{
			"name":      conf.AppName,
			"version":   opts.Version,
			"system_id": opts.SystemID,
		})
		scope.SetContext("platform", map[string]any{
			"os":           info.OS,
			"architecture": info.Architecture,
			"num_cpu":      info.NumCPU,
			"go_version":   info.GoVersion,
		})
	})
}

// CaptureMessage sends a message event when Sentry is initialised
func CaptureMessage(message string, level sentry.Level, component string) {
	if !initialized.Load() {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTag("component", component)
		sentry.CaptureMessage(message)
	})
}

// Enabled reports whether Sentry was initialised
func Enabled() bool { return initialized.Load() }

// Flush waits for buffered events to be sent and detaches the error reporter
func Flush(timeout time.Duration) {
	if !initialized.Load() {
		return
	}
	if !sentry.Flush(timeout) {
		logger.Global().Module("telemetry").Warn("sentry flush timed out",
			logger.Duration("timeout", timeout))
	}
}

// Shutdown flushes pending events and stops reporting
func Shutdown(timeout time.Duration) {
	Flush(timeout)
	if initialized.CompareAndSwap(true, false) {
		errors.SetTelemetryReporter(nil)
	}
}
