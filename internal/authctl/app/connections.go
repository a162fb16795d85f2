package app

import (
	"context"
	"fmt"

	"github.com/aussiebroadwan/tenantauth/pkg/authsdk"
	"github.com/spf13/cobra"
)

func (c *cli) newConnectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connections",
		Short: "Show which providers the active organization has connected",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(runConnections),
	}

	cmd.Flags().String("endpoint", authsdk.DefaultConnectionsEndpoint, "connection status path on the API URL")
	cmd.Flags().Bool("json", false, "output as JSON")

	return cmd
}

func runConnections(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	endpoint, _ := cmd.Flags().GetString("endpoint")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	conns, err := session.ListConnections(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, conns)
	}

	if len(conns) == 0 {
		fmt.Fprintln(out, "No connections found")
		return nil
	}

	rows := make([][]string, 0, len(conns))
	for _, conn := range conns {
		rows = append(rows, []string{conn.Provider, yesNo(conn.Connected), orDash(conn.DisplayName), orDash(conn.Status)})
	}
	return renderTable(out, []string{"Provider", "Connected", "Account", "Status"}, rows)
}

func (c *cli) newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <provider>",
		Short: "Connect a provider to the active organization",
		Long: `Open the auth service page that links a third-party provider to the
active organization. The auth service returns the browser to the app URL
followed by --redirect, so set --app-url to the web app when it should
land there.`,
		Args: cobra.ExactArgs(1),
		RunE: c.withApp(runConnect),
	}

	cmd.Flags().String("redirect", authsdk.DefaultConnectRedirectPath, "path on the app URL to return to")

	return cmd
}

func runConnect(ctx context.Context, cmd *cobra.Command, app *Application, args []string) error {
	redirect, _ := cmd.Flags().GetString("redirect")

	session, err := app.Session(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}

	if err := session.ConnectProvider(ctx, args[0], redirect); err != nil {
		return fmt.Errorf("failed to connect %s: %w", args[0], err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Continue in the browser to connect %s.\n", args[0])
	return nil
}
