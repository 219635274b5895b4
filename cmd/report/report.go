// Package report provides the report command
package report

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/report"
)

type options struct {
	operator   string
	standard   string
	reportType string
	outputDir  string
	regenerate string
	download   string
	out        string
	omit       []string
}

// Command creates the report command
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "report [session-id...]",
		Short: "Generate inspection reports for testing sessions",
		Long: `Report assembles an inspection report for each session from the offline
store, or from the remote store for sessions recorded elsewhere. Reports are
written to the output directory and uploaded when a remote store is
configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.operator, "operator", viper.GetString("main.operatorid"), "Operator signing the report")
	cmd.Flags().StringVar(&opts.standard, "standard", viper.GetString("report.standard"), "Report standard (ASME, ISO, EN, ASTM, custom)")
	cmd.Flags().StringVar(&opts.reportType, "type", string(model.ReportStandard), "Report type (standard, detailed, summary)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", viper.GetString("report.outputdir"), "Directory for rendered reports")
	cmd.Flags().StringVar(&opts.regenerate, "regenerate", "", "Regenerate an existing report by id")
	cmd.Flags().StringVar(&opts.download, "download", "", "Download a stored report file by id")
	cmd.Flags().StringVar(&opts.out, "out", "", "Destination file for --download")
	cmd.Flags().StringSliceVar(&opts.omit, "omit", nil, "Sections to leave out: waveform, data, defects")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, opts *options, ids []string) error {
	standard, err := model.ParseStandard(opts.standard)
	if err != nil {
		return err
	}
	settings.Report.OutputDir = opts.outputDir

	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.ReportConfig(standard)
	cfg.ReportType = model.ReportType(opts.reportType)
	for _, o := range opts.omit {
		switch o {
		case "waveform":
			cfg.OmitWaveform = true
		case "data":
			cfg.OmitDataTable = true
		case "defects":
			cfg.OmitDefectDetails = true
		default:
			return fmt.Errorf("unknown section %q, expected waveform, data or defects", o)
		}
	}

	switch {
	case opts.download != "":
		data, err := a.Reports.Download(ctx, opts.download)
		if err != nil {
			return err
		}
		out := opts.out
		if out == "" {
			out = opts.download + ".txt"
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Report %s written to %s\n", opts.download, out)
		return nil
	case opts.regenerate != "":
		res, err := a.Reports.Regenerate(ctx, opts.regenerate, opts.operator, cfg)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}

	if len(ids) == 1 {
		res, err := a.Reports.GenerateAndStore(ctx, ids[0], opts.operator, cfg)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	}

	results, err := a.Reports.BatchGenerate(ctx, ids, opts.operator, cfg)
	if err != nil {
		return err
	}
	failed := 0
	for i := range results {
		printResult(&results[i])
		if !results[i].Success() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d reports failed", failed, len(results))
	}
	return nil
}

func printResult(res *report.Result) {
	if !res.Success() {
		fmt.Printf("Session %s: failed: %v\n", res.SessionID, res.Err)
		return
	}
	fmt.Printf("Session %s: report %s (%s)\n", res.SessionID, res.ReportID, res.Document.Verdict)
	if res.LocalPath != "" {
		fmt.Printf("  file: %s\n", res.LocalPath)
	}
	if res.URL != "" {
		fmt.Printf("  url:  %s\n", res.URL)
	}
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
