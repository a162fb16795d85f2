package app

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/aussiebroadwan/tenantauth/pkg/cryptox"
	"github.com/aussiebroadwan/tenantauth/pkg/jwtx"
	"github.com/spf13/cobra"
)

type statusView struct {
	Status        authsdk.Status        `json:"status"`
	Authenticated bool                  `json:"authenticated"`
	User          *authsdk.User         `json:"user,omitempty"`
	Organization  *authsdk.Organization `json:"organization,omitempty"`
	OrgRole       string                `json:"orgRole,omitempty"`
	SuperAdmin    bool                  `json:"superAdmin,omitempty"`
	ExpiresAt     *time.Time            `json:"expiresAt,omitempty"`
}

func (c *cli) newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the signed-in user and organization",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(runStatus),
	}

	cmd.Flags().Bool("json", false, "output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	st := session.State()
	view := statusView{
		Status:        st.Status,
		Authenticated: st.IsAuthenticated,
		User:          st.User,
		Organization:  st.Organization,
		SuperAdmin:    st.IsSuperAdmin,
	}
	if st.User != nil {
		view.OrgRole = st.OrgRole
	}
	if claims, err := jwtx.Decode(st.AccessToken); err == nil {
		exp := claims.ExpiresAtTime()
		view.ExpiresAt = &exp
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, view)
	}

	if st.User == nil {
		fmt.Fprintln(out, "Not signed in. Run 'authctl login' to sign in.")
		return nil
	}

	rows := [][]string{
		{"User", st.User.Name},
		{"Email", st.User.Email},
		{"Organization", "-"},
		{"Role", st.OrgRole},
	}
	if st.Organization != nil {
		rows[2][1] = fmt.Sprintf("%s (%s)", st.Organization.Name, st.Organization.ID)
	}
	if st.IsSuperAdmin {
		rows = append(rows, []string{"Super admin", "yes"})
	}
	if view.ExpiresAt != nil {
		rows = append(rows, []string{"Token expires", view.ExpiresAt.Local().Format(time.RFC3339)})
	}

	return renderTable(out, []string{"Field", "Value"}, rows)
}

func (c *cli) newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token",
		Long: `Print an access token with at least a minute of validity, refreshing it
from the stored session when needed. Only a fingerprint is printed unless
--raw is given.`,
		Args: cobra.NoArgs,
		RunE: c.withApp(runToken),
	}

	cmd.Flags().Bool("raw", false, "print the token itself")

	return cmd
}

func runToken(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	raw, _ := cmd.Flags().GetBool("raw")

	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	token, err := session.GetAccessToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}
	if token == "" {
		return authsdk.ErrNotAuthenticated
	}

	if raw {
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token %s (use --raw to print it)\n", cryptox.Fingerprint(token))
	return nil
}
