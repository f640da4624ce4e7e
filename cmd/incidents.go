package cmd

import (
	"context"
	"fmt"

	"vigil/core"
	"vigil/storage"

	"github.com/spf13/cobra"
)

// newIncidentsCmd creates the 'incidents' subcommand
func newIncidentsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "incidents",
		Short: "List stored incidents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.IncidentFilter{Status: core.IncidentStatus(status), Limit: limit}
			if filter.Status != "" && !filter.Status.IsValid() {
				return fmt.Errorf("invalid status %q: must be Open, In Progress, Resolved or Closed", status)
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			_, st, _, cleanup, err := openStorage(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			incidents, err := st.Store.ListIncidents(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list incidents: %w", err)
			}

			if outputJSON {
				if incidents == nil {
					incidents = []*core.Incident{}
				}
				return outputAsJSON(cmd.OutOrStdout(), incidents)
			}
			renderIncidentsTable(cmd.OutOrStdout(), incidents)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only incidents in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum incidents to list")
	return cmd
}
