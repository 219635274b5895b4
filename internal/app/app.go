// Package app wires the magtest components from settings and owns their
// lifecycle. Commands build one App per invocation.
package app

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tphakala/magtest/internal/acquisition"
	"github.com/tphakala/magtest/internal/alarm"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/datastore"
	"github.com/tphakala/magtest/internal/datasync"
	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/network"
	"github.com/tphakala/magtest/internal/observability"
	"github.com/tphakala/magtest/internal/remote"
	"github.com/tphakala/magtest/internal/report"
	"github.com/tphakala/magtest/internal/session"
	"github.com/tphakala/magtest/internal/signal"
)

// ShutdownTimeout bounds event bus draining on Close
const ShutdownTimeout = 5 * time.Second

// Options selects the optional parts of the App
type Options struct {
	Alarms          bool // register MQTT/Redis sinks on the event bus
	MetricsEndpoint bool // serve /metrics when enabled in settings
	Remote          remote.Store
	Seed            int64 // non-zero makes the synthetic source deterministic
}

// App holds every wired component
type App struct {
	Settings  *conf.Settings
	Metrics   *observability.Metrics
	Store     *datastore.DataStore
	Remote    remote.Store // nil when no remote driver is configured
	Network   *network.Monitor
	Sync      *datasync.Engine
	Bus       *events.Bus
	Generator *signal.Generator
	Loop      *acquisition.Loop
	Session   *session.Manager
	Reports   *report.Service

	log         logger.Logger
	endpoint    *observability.Endpoint
	quit        chan struct{}
	wg          sync.WaitGroup
	closeAlarms func()
	closeOnce   sync.Once
	started     bool
}

// New builds every component from settings. Nothing runs until Start.
func New(ctx context.Context, settings *conf.Settings, opts Options) (_ *App, err error) {
	a := &App{
		Settings: settings,
		log:      logger.Global().Module("app"),
		quit:     make(chan struct{}),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, errors.New(err).Component("app").Category(errors.CategoryConfiguration).Build()
	}

	a.Store, err = datastore.Open(settings.Storage.Path,
		datastore.WithMetrics(a.Metrics.Datastore),
		datastore.WithSlowQueryThreshold(settings.Storage.SlowQuery))
	if err != nil {
		return nil, err
	}

	a.Remote = opts.Remote
	if a.Remote == nil {
		if a.Remote, err = remote.Open(settings.Remote, a.Metrics.Network); err != nil {
			return nil, err
		}
	}

	a.Network = network.NewMonitor(network.Config{
		HealthURL:     settings.Network.HealthURL,
		ProbeInterval: settings.Network.ProbeInterval,
		ProbeTimeout:  settings.Network.ProbeTimeout,
		SlowDownlink:  settings.Network.SlowDownlink,
	}, network.WithMetrics(a.Metrics.Network))

	a.Sync, err = datasync.NewEngine(a.Store, a.Remote, a.Network, datasync.Config{
		AutoSync:       settings.Sync.Auto,
		Delay:          settings.Sync.Delay,
		Interval:       settings.Sync.Interval,
		ChunkSize:      settings.Sync.ChunkSize,
		MaxRetries:     settings.Sync.MaxRetries,
		ConflictWindow: settings.Sync.ConflictWindow,
	}, datasync.WithMetrics(a.Metrics.Sync))
	if err != nil {
		return nil, err
	}

	a.Bus = events.New(events.Config{
		BufferSize: settings.Alarm.BufferSize,
		Workers:    settings.Alarm.Workers,
	}, events.WithMetrics(a.Metrics.Alarm))
	if opts.Alarms {
		if a.closeAlarms, err = alarm.Setup(ctx, &settings.Alarm, a.Bus, a.Metrics.Alarm); err != nil {
			return nil, err
		}
	}

	var genOpts []signal.GeneratorOption
	if opts.Seed != 0 {
		genOpts = append(genOpts, signal.WithRand(rand.NewPCG(uint64(opts.Seed), 0)))
	}
	a.Generator = signal.NewGenerator(
		settings.Acquisition.Frequency,
		settings.Acquisition.Amplitude,
		settings.Acquisition.NoiseLevel,
		genOpts...)

	a.Loop, err = acquisition.NewLoop(a.Generator, acquisition.Config{
		SamplingRate:   settings.Acquisition.SamplingRate,
		StallTolerance: settings.Acquisition.StallTolerance,
	},
		acquisition.WithMetrics(a.Metrics.Acquisition),
		acquisition.WithWaveform(acquisition.NewWaveform(settings.Acquisition.WaveformSize)))
	if err != nil {
		return nil, err
	}

	defaults, err := settings.Testing.Parameters()
	if err != nil {
		return nil, err
	}
	a.Session, err = session.NewManager(a.Store, a.Loop, session.Config{
		FlushThreshold:   settings.Testing.FlushThreshold,
		FlushInterval:    settings.Testing.FlushInterval,
		DedupeSeparation: settings.Testing.DedupeSeparation,
		OperatorID:       settings.Main.OperatorID,
		Defaults:         defaults,
	},
		session.WithMetrics(a.Metrics.Acquisition),
		session.WithPublisher(a.Bus),
		session.WithSyncer(a.Sync))
	if err != nil {
		return nil, err
	}

	reportOpts := []report.Option{report.WithOutputDir(settings.Report.OutputDir)}
	if a.Remote != nil {
		reportOpts = append(reportOpts, report.WithStore(a.Remote))
	}
	a.Reports = report.NewService(&Sessions{Local: a.Store, Remote: a.Remote}, reportOpts...)

	if opts.MetricsEndpoint && settings.Telemetry.Prometheus.Enabled {
		if a.endpoint, err = observability.NewEndpoint(settings, a.Metrics); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Start runs the background services: connectivity probing, the sync
// engine and the metrics endpoint
func (a *App) Start() {
	if a.started {
		return
	}
	a.started = true
	if a.endpoint != nil {
		a.endpoint.Start(&a.wg, a.quit)
	}
	a.Network.Start()
	a.Sync.Start()
	a.log.Info("services started",
		logger.String("remote", a.Settings.Remote.Driver),
		logger.Bool("online", a.Network.IsOnline()))
}

// Close stops background services and releases stores. It is safe to call
// more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.Loop != nil {
			a.Loop.Stop()
		}
		if a.Sync != nil {
			a.Sync.Stop()
		}
		if a.Network != nil {
			a.Network.Stop()
		}
		if a.Bus != nil {
			if err := a.Bus.Shutdown(ShutdownTimeout); err != nil {
				a.log.Warn("event bus shutdown incomplete", logger.Error(err))
			}
		}
		if a.closeAlarms != nil {
			a.closeAlarms()
		}
		close(a.quit)
		a.wg.Wait()
		if a.Remote != nil {
			if err := a.Remote.Close(); err != nil {
				a.log.Warn("failed to close remote store", logger.Error(err))
			}
		}
		if a.Store != nil {
			if err := a.Store.Close(); err != nil {
				a.log.Warn("failed to close datastore", logger.Error(err))
			}
		}
	})
}

// ReportConfig builds report options from settings. An empty standard
// uses the configured default.
func (a *App) ReportConfig(standard model.Standard) report.Config {
	rs := a.Settings.Report
	if standard == "" {
		standard, _ = model.ParseStandard(rs.Standard)
	}
	return report.Config{
		Standard:        standard,
		CompanyName:     rs.CompanyName,
		EquipmentModel:  rs.EquipmentModel,
		EquipmentSerial: rs.EquipmentSerial,
		TestLocation:    rs.TestLocation,
	}
}

// Sessions loads complete sessions from the local store first and falls
// back to the remote store for sessions recorded elsewhere
type Sessions struct {
	Local  *datastore.DataStore
	Remote remote.Store
}

// GetCompleteSessionData implements report.SessionSource and export.Source
func (s *Sessions) GetCompleteSessionData(ctx context.Context, id string) (*model.CompleteSessionData, error) {
	data, err := s.Local.GetCompleteSessionData(ctx, id)
	if err == nil || s.Remote == nil || !errors.IsNotFound(err) {
		return data, err
	}
	return s.Remote.GetCompleteSessionData(ctx, id)
}
