package cli

import (
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command.
func NewRunCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Run connectivity probing, background sync, housekeeping and the local
admin server (ADMIN_PORT) until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			return application.Run()
		},
	}
}
