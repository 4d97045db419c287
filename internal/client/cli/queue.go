package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
)

// QueueOptions holds flags shared by the queue commands.
type QueueOptions struct {
	*RootOptions
	All bool
}

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline queue",
	}
	cmd.PersistentFlags().BoolVar(&opts.All, "all", false, "include synced records")

	cmd.AddCommand(newQueueListCommand(opts))
	cmd.AddCommand(newQueueExportCommand(opts))
	cmd.AddCommand(newQueuePurgeCommand(opts))
	return cmd
}

func newQueueListCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued records",
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadRecords(cmd, opts.All)
			if err != nil {
				return err
			}
			return writeRecords(cmd.OutOrStdout(), opts.Format, records)
		},
	}
}

func newQueueExportCommand(opts *QueueOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Export queued records with their payloads",
		Long: `Export queued records, payloads included, as JSON or YAML.

Examples:
  marketsync queue export --format yaml > queue.yaml
  marketsync queue export --all --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := loadRecords(cmd, opts.All)
			if err != nil {
				return err
			}
			format := opts.Format
			if format == "text" {
				format = "json"
			}
			return writeStructured(cmd.OutOrStdout(), format, recordViews(records))
		},
	}
}

func newQueuePurgeCommand(opts *QueueOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete synced records",
		Long:  `Delete synced records. Pending records are never purged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			n, err := application.Store().SyncQueue().PurgeSynced(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d synced records\n", n)
			return err
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "only purge records synced longer ago than this")
	return cmd
}

func loadRecords(cmd *cobra.Command, all bool) ([]domain.OfflineRecord, error) {
	application, err := openApp()
	if err != nil {
		return nil, err
	}
	defer func() { _ = application.Close() }()

	queue := application.Store().SyncQueue()
	if all {
		return queue.All(cmd.Context())
	}
	return queue.Pending(cmd.Context())
}
