package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hiveops/internal/dashboard"
)

var (
	dashboardOut       string
	dashboardMissionID string
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the GreptimeDB tables",
	Long:  "dashboard renders Grafana dashboard JSON over the agent and event tables. GREPTIMEDB_DATASOURCE_UID must name the Grafana datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := dashboard.Render(dashboardOut, dashboardMissionID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dashboards written to %s\n", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory")
	dashboardCmd.Flags().StringVar(&dashboardMissionID, "mission-id", "mission-01", "Mission the panels filter on")
}
