package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/spf13/cobra"
)

func (c *cli) newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser",
		Long: `Open the auth service's sign-in page in the browser and wait for it to
redirect back to a callback server on the loopback interface.

Examples:
  authctl login                      # Choose a provider in the browser
  authctl login --provider github    # Go straight to GitHub
  authctl login --mode signup        # Create an account`,
		Args: cobra.NoArgs,
		RunE: c.withApp(runLogin),
	}

	cmd.Flags().String("provider", "", "sign-in provider to use")
	cmd.Flags().String("mode", "", "signin or signup")
	cmd.Flags().String("return-to", "/", "path recorded in the sign-in state")

	return cmd
}

func runLogin(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	provider, _ := cmd.Flags().GetString("provider")
	mode, _ := cmd.Flags().GetString("mode")
	returnTo, _ := cmd.Flags().GetString("return-to")

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Waiting for sign-in to complete in the browser...")

	st, err := app.Login(ctx, authsdk.LoginOptions{
		Provider: provider,
		Mode:     mode,
		ReturnTo: returnTo,
	})
	if err != nil {
		var oauthErr *authsdk.OAuthProviderError
		if errors.As(err, &oauthErr) {
			return errors.New(oauthErr.Message())
		}
		return err
	}

	if st.User == nil {
		return errors.New("sign-in completed but no session was established")
	}

	fmt.Fprintf(out, "Signed in as %s", st.User.Email)
	if st.Organization != nil {
		fmt.Fprintf(out, " (%s, %s)", st.Organization.Name, st.OrgRole)
	}
	fmt.Fprintln(out)

	if st.Organization == nil {
		fmt.Fprintln(out, "You are not a member of any organization yet.")
	}
	return nil
}
