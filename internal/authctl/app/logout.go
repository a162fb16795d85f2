package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored session",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(runLogout),
	}
}

func runLogout(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	out := cmd.OutOrStdout()

	if err := app.Logout(ctx); err != nil {
		if !errors.Is(err, ErrServerLogout) {
			return err
		}
		fmt.Fprintln(out, "Signed out locally. The auth service could not be reached to end the session.")
		return nil
	}

	fmt.Fprintln(out, "Signed out")
	return nil
}
