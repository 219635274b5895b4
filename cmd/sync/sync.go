// Package sync provides the sync command, which replays the offline queue
// to the remote store
package sync

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/datasync"
	"github.com/tphakala/magtest/internal/errors"
)

type options struct {
	status    bool
	conflicts string
	resolve   string
}

// Command creates the sync command
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending offline changes to the remote store",
		Long: `Sync replays every pending queue item in order. With --conflicts it
compares the local and remote copies of a session instead, and --resolve
settles a detected conflict in favour of the local or remote copy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), settings, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.status, "status", false, "Show queue status without syncing")
	cmd.Flags().StringVar(&opts.conflicts, "conflicts", "", "Check a session for local/remote conflicts")
	cmd.Flags().StringVar(&opts.resolve, "resolve", "", "Resolve detected conflicts using the local or remote copy")

	return cmd
}

func run(ctx context.Context, settings *conf.Settings, opts *options) error {
	if opts.resolve != "" && opts.resolve != "local" && opts.resolve != "remote" {
		return fmt.Errorf("--resolve must be local or remote")
	}
	if opts.resolve != "" && opts.conflicts == "" {
		return fmt.Errorf("--resolve requires --conflicts <session-id>")
	}

	a, err := app.New(ctx, settings, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	switch {
	case opts.status:
		status, err := a.Sync.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(status)
		return nil
	case opts.conflicts != "":
		return conflicts(ctx, a, opts.conflicts, opts.resolve)
	}

	if a.Remote == nil {
		return errors.Newf("no remote store configured, set remote.driver").
			Component("cli").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !a.Network.TestConnectivity(ctx) {
		return datasync.ErrOffline
	}

	unsubscribe := a.Sync.AddProgressListener(func(p datasync.Progress) {
		fmt.Printf("\r%d/%d synced, %d failed  ", p.Completed, p.Total, p.Failed)
	})
	defer unsubscribe()

	res, err := a.Sync.ForceSyncNow(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\nSynced %d items, %d failed, %d deferred\n", res.Synced, res.Failed, res.Deferred)
	for _, ie := range res.Errors {
		fmt.Printf("  %s %s %s: %s\n", ie.Item.Type, ie.Item.Action, ie.Item.SessionID, ie.Error)
	}
	if !res.Success {
		return fmt.Errorf("%d sync items failed", res.Failed)
	}
	return nil
}

func conflicts(ctx context.Context, a *app.App, sessionID, resolve string) error {
	found, err := a.Sync.DetectConflicts(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Println("No conflicts")
		return nil
	}
	for _, c := range found {
		fmt.Printf("Conflict on %s %s: local updated %s, remote updated %s\n",
			c.Type, c.SessionID,
			c.Local.UpdatedAt.Format("2006-01-02 15:04:05"),
			c.Remote.UpdatedAt.Format("2006-01-02 15:04:05"))
		if resolve == "" {
			continue
		}
		if err := a.Sync.ResolveConflict(ctx, c, resolve == "local"); err != nil {
			return err
		}
		fmt.Printf("Resolved using the %s copy\n", resolve)
	}
	return nil
}

func printStatus(s datasync.Status) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Pending items:\t%d\n", s.PendingCount)
	fmt.Fprintf(w, "Auto sync:\t%t\n", s.AutoSync)
	fmt.Fprintf(w, "Syncing:\t%t\n", s.IsSyncing)
	if !s.LastSyncAt.IsZero() {
		fmt.Fprintf(w, "Last sync:\t%s\n", s.LastSyncAt.Format("2006-01-02 15:04:05"))
	}
	if s.LastResult != nil {
		fmt.Fprintf(w, "Last result:\t%d synced, %d failed\n", s.LastResult.Synced, s.LastResult.Failed)
	}
	_ = w.Flush()
}
