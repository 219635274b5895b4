// Package export provides the export command
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/export"
	"github.com/tphakala/magtest/internal/model"
)

type options struct {
	format   string
	out      string
	all      bool
	operator string
	project  string
	since    string
}

// Command creates the export command
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "export [session-id...]",
		Short: "Export sessions to a spreadsheet or CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "xlsx", "Output format (xlsx, csv)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output file, defaults to sessions.<format>")
	cmd.Flags().BoolVar(&opts.all, "all", false, "Export every local session matching the filters")
	cmd.Flags().StringVar(&opts.operator, "operator", "", "Filter by operator id")
	cmd.Flags().StringVar(&opts.project, "project", "", "Filter by project name")
	cmd.Flags().StringVar(&opts.since, "since", "", "Only sessions started on or after this date (YYYY-MM-DD)")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, opts *options, ids []string) error {
	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	out := opts.out
	if out == "" {
		out = "sessions." + string(format)
	}

	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.all {
		filters := model.SessionFilters{OperatorID: opts.operator, ProjectName: opts.project}
		if opts.since != "" {
			since, err := time.ParseInLocation(time.DateOnly, opts.since, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --since: %w", err)
			}
			filters.StartDate = &since
		}
		sessions, err := a.Store.GetAllSessions(ctx, filters)
		if err != nil {
			return err
		}
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
	}

	if err := export.ToFile(ctx, &app.Sessions{Local: a.Store, Remote: a.Remote}, ids, format, out); err != nil {
		return err
	}
	fmt.Printf("Exported %d sessions to %s\n", len(ids), out)
	return nil
}
