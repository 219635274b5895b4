// Package clean provides the clean command
package clean

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/magtest/internal/app"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/errors"
)

// Command creates the clean command
func Command(settings *conf.Settings) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove synced sessions older than the retention period",
		Long:  "Clean deletes synced sessions, with their signals and defects, that started more than --days days ago. Unsynced sessions are never removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 0 {
				return errors.Newf("--days must not be negative").
					Component("cli").
					Category(errors.CategoryValidation).
					Build()
			}
			a, err := app.New(cmd.Context(), settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.Sync.ClearOldData(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d sessions older than %d days\n", removed, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", viper.GetInt("storage.retentiondays"), "Retention period in days")
	return cmd
}
