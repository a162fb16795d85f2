package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/spf13/cobra"
)

func (c *cli) newOrgsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgs",
		Short: "List the organizations you belong to",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(runOrgs),
	}

	cmd.Flags().Bool("json", false, "output as JSON")

	return cmd
}

func runOrgs(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	st := session.State()
	if st.User == nil {
		return authsdk.ErrNotAuthenticated
	}

	// Bootstrap swallows list failures; surface them here.
	if st.Organizations == nil {
		if err := session.LoadOrganizations(ctx); err != nil {
			return fmt.Errorf("failed to list organizations: %w", err)
		}
		st = session.State()
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, st.Organizations)
	}

	if len(st.Organizations) == 0 {
		fmt.Fprintln(out, "No organizations found")
		return nil
	}

	rows := make([][]string, 0, len(st.Organizations))
	for _, org := range st.Organizations {
		active := ""
		if st.Organization != nil && st.Organization.ID == org.ID {
			active = "*"
		}
		rows = append(rows, []string{active, org.ID, org.Name, org.Slug, orDash(org.Role)})
	}

	return renderTable(out, []string{"", "ID", "Name", "Slug", "Role"}, rows)
}

func (c *cli) newSwitchOrgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "switch-org <org-id>",
		Short: "Change the active organization",
		Args:  cobra.ExactArgs(1),
		RunE:  c.withApp(runSwitchOrg),
	}
}

func runSwitchOrg(ctx context.Context, cmd *cobra.Command, app *Application, args []string) error {
	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if session.State().User == nil {
		return authsdk.ErrNotAuthenticated
	}

	if err := session.SwitchOrganization(ctx, args[0]); err != nil {
		var apiErr *authsdk.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("failed to switch organization: %s", authsdk.ErrorMessage(err, apiErr.Error()))
		}
		return err
	}

	st := session.State()
	if st.Organization == nil {
		return errors.New("switch succeeded but the new token carries no organization")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Switched to %s (%s) as %s\n", st.Organization.Name, st.Organization.ID, st.OrgRole)
	return nil
}
