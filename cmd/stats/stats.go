// Package stats provides the stats command
package stats

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/datastore"
	"github.com/tphakala/magtest/internal/model"
)

// Command creates the stats command
func Command(settings *conf.Settings) *cobra.Command {
	var list bool
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show offline storage usage and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, list, limit)
		},
	}
	cmd.Flags().BoolVarP(&list, "sessions", "s", false, "Also list recent sessions")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of sessions to list")
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, list bool, limit int) error {
	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Store.GetStorageStats(ctx)
	if err != nil {
		return err
	}
	a.Metrics.Datastore.SetPendingItems(stats.PendingItems)
	a.Metrics.Datastore.SetDatabaseSize(stats.DatabaseBytes)
	printStats(os.Stdout, settings.Storage.Path, stats)

	if !list {
		return nil
	}
	sessions, err := a.Store.GetAllSessions(ctx, model.SessionFilters{Limit: limit})
	if err != nil {
		return err
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tOPERATOR\tSTATUS\tSTARTED\tSYNC")
	for _, s := range sessions {
		sync, err := a.Store.GetSessionSyncStatus(ctx, s.ID)
		if err != nil {
			sync = "?"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.ID, s.ProjectName, s.OperatorID, s.Status,
			s.StartTime.Local().Format("2006-01-02 15:04"), sync)
	}
	return w.Flush()
}

func printStats(out io.Writer, path string, s *datastore.StorageStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Database:\t%s (%s)\n", path, humanBytes(uint64(max(s.DatabaseBytes, 0))))
	fmt.Fprintf(w, "Sessions:\t%d (%d not synced)\n", s.Sessions, s.UnsyncedCount)
	fmt.Fprintf(w, "Signal rows:\t%d\n", s.SignalRows)
	fmt.Fprintf(w, "Defects:\t%d\n", s.Defects)
	fmt.Fprintf(w, "Calibrations:\t%d\n", s.Calibrations)
	fmt.Fprintf(w, "Pending sync items:\t%d\n", s.PendingItems)
	if s.VolumeTotal > 0 {
		fmt.Fprintf(w, "Volume:\t%s free of %s (%.1f%% used)\n",
			humanBytes(s.VolumeFree), humanBytes(s.VolumeTotal), s.VolumeUsedPerc)
	}
	_ = w.Flush()
}

func humanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
