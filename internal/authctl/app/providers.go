package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List the sign-in providers enabled for this client",
		Args:  cobra.NoArgs,
		RunE:  c.withApp(runProviders),
	}

	cmd.Flags().Bool("refresh", false, "bypass the provider cache")
	cmd.Flags().Bool("json", false, "output as JSON")

	return cmd
}

func runProviders(ctx context.Context, cmd *cobra.Command, app *Application, _ []string) error {
	refresh, _ := cmd.Flags().GetBool("refresh")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	dir, err := app.Providers(ctx, refresh)
	if err != nil && len(dir.Providers) == 0 {
		return fmt.Errorf("failed to list providers: %w", err)
	}
	if err != nil {
		app.logger.Warn("showing cached providers", "error", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, dir)
	}

	rows := make([][]string, 0, len(dir.Providers))
	for _, p := range dir.Providers {
		rows = append(rows, []string{p.ID, p.Name, yesNo(p.Enabled)})
	}
	if err := renderTable(out, []string{"ID", "Name", "Enabled"}, rows); err != nil {
		return err
	}

	fmt.Fprintf(out, "Email sign-in: %s\n", yesNo(dir.EmailEnabled))
	return nil
}
