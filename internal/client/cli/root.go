// Package cli is the marketsync command line.
package cli

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/marketsync/internal/client/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile string
	Verbose bool
	Format  string // "text" | "json" | "yaml"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "marketsync",
		Short: "Offline-first marketplace client",
		Long: `marketsync keeps a device's marketplace session and offline changes in
sync with the API. Orders, payments, inventory adjustments and cart updates
made while offline are queued on the device and replayed when the API is
reachable again.

Configuration is read from the environment (MARKET_*), optionally preloaded
from a .env file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if err := app.LoadDotEnv(opts.EnvFile); err != nil {
				return err
			}
			if opts.Verbose {
				_ = os.Setenv("LOG_LEVEL", "debug")
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "file to preload environment variables from")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewLoginCommand(opts))
	cmd.AddCommand(NewLogoutCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))

	return cmd
}

// openApp builds the application from the environment. The caller closes it.
func openApp() (*app.Application, error) {
	return app.New(app.LoadConfig())
}
