// Package simulate provides the simulate command, which records a testing
// session from the synthetic signal source
package simulate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/session"
	"github.com/tphakala/magtest/internal/signal"
)

type options struct {
	project  string
	operator string
	duration time.Duration
	defects  []string
	report   bool
	standard string
	preset   string
	seed     int64
	quiet    bool
}

// Command creates the simulate command
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Record a testing session from the synthetic signal generator",
		Long: `Simulate starts a testing session fed by the synthetic signal generator,
records it to the offline store for the given duration and stops it. Defects
are injected with --defect position:amplitude[:width].`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.project, "project", "p", "", "Project name (3-100 characters)")
	cmd.Flags().StringVar(&opts.operator, "operator", viper.GetString("main.operatorid"), "Operator id")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "How long to record")
	cmd.Flags().StringSliceVar(&opts.defects, "defect", nil, "Synthetic defect as position:amplitude[:width]")
	cmd.Flags().BoolVar(&opts.report, "report", false, "Generate a report when the session stops")
	cmd.Flags().StringVar(&opts.standard, "standard", "", "Report standard (ASME, ISO, EN, ASTM, custom)")
	cmd.Flags().StringVar(&opts.preset, "preset", "", "Parameter preset (ASME-V-Article-7, ISO-9712-Level-2, EN-10228, ASTM-E709, CUSTOM)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Noise seed for reproducible runs, 0 is random")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Do not print progress")
	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// ParseDefect parses position:amplitude[:width]
func ParseDefect(s string) (signal.DefectConfig, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return signal.DefectConfig{}, fmt.Errorf("defect %q must be position:amplitude[:width]", s)
	}
	values := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return signal.DefectConfig{}, fmt.Errorf("defect %q: %w", s, err)
		}
		values[i] = v
	}
	return signal.DefectConfig{Position: values[0], Amplitude: values[1], Width: values[2]}, nil
}

// ResolvePreset returns the parameters of preset id, or nil for the
// configured defaults when id is empty.
func ResolvePreset(id string) (*model.TestingParameters, error) {
	if id == "" {
		return nil, nil
	}
	params, ok := model.PresetParameters(id)
	if !ok {
		ids := make([]string, 0, 5)
		for _, p := range model.Presets() {
			ids = append(ids, p.ID)
		}
		return nil, fmt.Errorf("unknown preset %q, expected one of %s", id, strings.Join(ids, ", "))
	}
	return &params, nil
}

func run(ctx context.Context, settings *conf.Settings, opts *options) error {
	var standard model.Standard
	if opts.standard != "" {
		var err error
		if standard, err = model.ParseStandard(opts.standard); err != nil {
			return err
		}
	}
	params, err := ResolvePreset(opts.preset)
	if err != nil {
		return err
	}
	defects := make([]signal.DefectConfig, 0, len(opts.defects))
	for _, d := range opts.defects {
		cfg, err := ParseDefect(d)
		if err != nil {
			return err
		}
		defects = append(defects, cfg)
	}

	a, err := app.New(ctx, settings, app.Options{Alarms: true, MetricsEndpoint: true, Seed: opts.seed})
	if err != nil {
		return err
	}
	defer a.Close()
	a.Start()

	if err := a.Loop.SetDefects(defects); err != nil {
		return err
	}

	if !opts.quiet {
		unsubscribe := a.Session.Subscribe(printProgress)
		defer unsubscribe()
	}

	s, err := a.Session.Start(ctx, session.StartRequest{
		ProjectName: opts.project,
		OperatorID:  opts.operator,
		Parameters:  params,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Session %s started (%s)\n", s.ID, s.ProjectName)

	// record until the duration elapses, the user interrupts or the
	// acquisition loop stalls
	g, gctx := errgroup.WithContext(ctx)
	stalled := make(chan error, 1)
	unsubscribeErr := a.Loop.OnError(func(err error) {
		select {
		case stalled <- err:
		default:
		}
	})
	defer unsubscribeErr()
	g.Go(func() error {
		timer := time.NewTimer(opts.duration)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-gctx.Done():
			return nil
		case err := <-stalled:
			return err
		}
	})
	recordErr := g.Wait()

	// stop with a fresh context so an interrupt still flushes the session
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	final, err := a.Session.Stop(stopCtx)
	if err != nil {
		return err
	}
	if recordErr != nil {
		fmt.Printf("\nAcquisition stopped early: %v\n", recordErr)
	}

	stats := a.Session.Stats()
	fmt.Printf("\nSession %s %s: %s, %d samples, %d defects\n",
		final.ID, final.Status, stats.DurationText, stats.SamplesCollected, stats.DefectsDetected)

	if opts.report {
		res, err := a.Reports.GenerateAndStore(stopCtx, final.ID, final.OperatorID, a.ReportConfig(standard))
		if err != nil {
			return err
		}
		printReport(res.ReportID, res.LocalPath, res.URL, res.Warnings)
	}

	if a.Remote != nil && a.Network.IsOnline() {
		res, err := a.Sync.ForceSyncNow(stopCtx)
		switch {
		case err != nil:
			fmt.Printf("Sync skipped: %v\n", err)
		default:
			fmt.Printf("Synced %d items, %d failed, %d deferred\n", res.Synced, res.Failed, res.Deferred)
		}
	}
	return recordErr
}

func printProgress(st session.State) {
	if st.Phase != session.PhaseRunning {
		return
	}
	latest := 0.0
	if st.LatestSample != nil {
		latest = st.LatestSample.Amplitude
	}
	fmt.Printf("\r%s  samples %6d  defects %3d  amplitude %+.3f  ",
		st.Stats.DurationText, st.Stats.SamplesCollected, st.Stats.DefectsDetected, latest)
}

func printReport(id, path, url string, warnings []string) {
	fmt.Printf("Report %s\n", id)
	if path != "" {
		fmt.Printf("  file: %s\n", path)
	}
	if url != "" {
		fmt.Printf("  url:  %s\n", url)
	}
	for _, w := range warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
