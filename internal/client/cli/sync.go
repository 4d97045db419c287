package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Force bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay pending offline records once",
		Long: `Probe the API and, if it is reachable, replay every pending offline record
oldest first. Records that fail stay queued for the next run.

Examples:
  marketsync sync
  marketsync sync --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			ctx := slogx.WithContext(cmd.Context(), application.Logger())
			if !application.Monitor().Probe(ctx) && !opts.Force {
				return domain.NewTransient(0, errors.New("API is unreachable, records stay queued"))
			}

			summary, err := application.Engine().RunOnce(ctx)
			if err != nil {
				return err
			}
			return writeSummary(cmd.OutOrStdout(), opts.Format, summary)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "sync even if the health probe fails")
	return cmd
}
