package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// cli carries the configuration shared by every command. Persistent flags
// write straight into cfg, so flags override the environment.
type cli struct {
	cfg Config
}

// NewRootCmd builds the authctl command tree on top of cfg, usually the
// result of LoadConfig.
func NewRootCmd(cfg Config) *cobra.Command {
	c := &cli{cfg: cfg}

	rootCmd := &cobra.Command{
		Use:   "authctl",
		Short: "Sign in to a tenant auth service from the terminal",
		Long: `authctl signs in to a tenant auth service through the browser and keeps
the session cookie in a local encrypted store, so later commands can mint
access tokens without another sign-in.

Example usage:
  authctl login                # Open the browser and sign in
  authctl status               # Show the signed-in user and organization
  authctl token --raw          # Print an access token for scripts
  authctl orgs                 # List organizations
  authctl switch-org org_123   # Change the active organization`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.validate()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfg.ClientID, "client-id", cfg.ClientID, "client ID registered with the auth service (env AUTHCTL_CLIENT_ID)")
	flags.StringVar(&c.cfg.AuthURL, "auth-url", cfg.AuthURL, "auth service origin (env AUTHCTL_AUTH_URL)")
	flags.StringVar(&c.cfg.AppURL, "app-url", cfg.AppURL, "redirect base URL (default: the loopback callback server)")
	flags.StringVar(&c.cfg.APIURL, "api-url", cfg.APIURL, "base URL for refresh, logout and switch-org (default: the auth URL)")
	flags.BoolVar(&c.cfg.Discover, "discover", cfg.Discover, "discover unset app and API URLs from the auth service")
	flags.IntVar(&c.cfg.CallbackPort, "callback-port", cfg.CallbackPort, "loopback port for the login callback (env AUTHCTL_CALLBACK_PORT)")
	flags.DurationVar(&c.cfg.RequestTimeout, "timeout", cfg.RequestTimeout, "timeout for each request to the auth service")
	flags.StringVar(&c.cfg.StoreFile, "store", cfg.StoreFile, "session store file (env AUTHCTL_STORE_FILE)")
	flags.StringVar(&c.cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&c.cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json, text)")

	rootCmd.AddCommand(
		c.newLoginCmd(),
		c.newStatusCmd(),
		c.newTokenCmd(),
		c.newOrgsCmd(),
		c.newSwitchOrgCmd(),
		c.newProvidersCmd(),
		c.newConnectionsCmd(),
		c.newConnectCmd(),
		c.newLogoutCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

func (c *cli) validate() error {
	if c.cfg.CallbackPort < 0 || c.cfg.CallbackPort > 65535 {
		return fmt.Errorf("invalid callback port %d", c.cfg.CallbackPort)
	}
	return nil
}

// withApp opens the application for the duration of fn.
func (c *cli) withApp(fn func(ctx context.Context, cmd *cobra.Command, app *Application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app, err := New(ctx, c.cfg, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, app.Close())
		}()

		return fn(ctx, cmd, app, args)
	}
}
