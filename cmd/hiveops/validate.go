package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"hiveops/internal/config"
	"hiveops/internal/swarm"
)

var (
	validateConfigPath string
	validateSchemaPath string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a mission config against the CUE schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(validateConfigPath, validateSchemaPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (mission %s, %d sentinel, %d patrol, %d strike)\n",
			validateConfigPath, cfg.MissionID,
			len(cfg.AgentsWithRole(swarm.RoleSentinel)),
			len(cfg.AgentsWithRole(swarm.RolePatrol)),
			len(cfg.AgentsWithRole(swarm.RoleStrike)))
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigPath, "config", "config/swarm.yaml", "Path to mission configuration YAML")
	validateCmd.Flags().StringVar(&validateSchemaPath, "schema", "schemas/swarm.cue", "Path to CUE schema file")
}
