package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/pkg/cryptox"
)

// LoginOptions holds flags for the login command.
type LoginOptions struct {
	*RootOptions
	AccessToken  string
	RefreshToken string
}

// NewLoginCommand creates the login command.
func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoginOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a credential pair issued by the sign-in flow",
		Long: `Store the access and refresh tokens issued by the marketplace sign-in flow
in the device's credential vault (MARKET_DEVICE_KEY_FILE).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.RefreshToken == "" {
				return domain.NewConfigurationFailure(errors.New("--refresh is required"))
			}

			application, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			creds := domain.Credentials{AccessToken: opts.AccessToken, RefreshToken: opts.RefreshToken}
			if err := application.Coordinator().Install(cmd.Context(), creds); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "signed in (token %s)\n", cryptox.Fingerprint(creds.AccessToken))
			return err
		},
	}

	cmd.Flags().StringVar(&opts.AccessToken, "access", "", "access token")
	cmd.Flags().StringVar(&opts.RefreshToken, "refresh", "", "refresh token")
	return cmd
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget credentials and account data on this device",
		Long: `Revoke the refresh token (best effort), forget the credential pair and clear
the cart, order snapshots and preferences. Queued offline records are kept.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			if err := application.Mutations().SignOut(cmd.Context()); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return err
		},
	}
}

// Status is the output of the status command.
type Status struct {
	SignedIn      bool       `json:"signed_in" yaml:"signed_in"`
	AccessExpires *time.Time `json:"access_expires,omitempty" yaml:"access_expires,omitempty"`
	Pending       int        `json:"pending" yaml:"pending"`
	Total         int        `json:"total" yaml:"total"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show session and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := openApp()
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			queue := application.Store().SyncQueue()
			pending, err := queue.CountPending(cmd.Context())
			if err != nil {
				return err
			}
			all, err := queue.All(cmd.Context())
			if err != nil {
				return err
			}

			creds := application.Coordinator().Current()
			st := Status{SignedIn: creds.CanRefresh(), Pending: pending, Total: len(all)}
			if exp, ok := creds.AccessExpiry(); ok {
				st.AccessExpires = &exp
			}

			if rootOpts.Format != "text" {
				return writeStructured(cmd.OutOrStdout(), rootOpts.Format, st)
			}

			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "signed in:  %t\n", st.SignedIn)
			if st.AccessExpires != nil {
				_, _ = fmt.Fprintf(w, "token exp:  %s\n", st.AccessExpires.Local().Format(time.DateTime))
			}
			_, err = fmt.Fprintf(w, "queue:      %d pending, %d total\n", st.Pending, st.Total)
			return err
		},
	}
}
