package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conduit-run/conduitd/internal/config"
	"github.com/conduit-run/conduitd/internal/permission"
	"github.com/conduit-run/conduitd/internal/store"
)

func newRulesCommand() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "manage the global permission rule table",
	}
	rules.AddCommand(newRulesImportCommand())
	return rules
}

func newRulesImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import [seed-file]",
		Short: "apply a YAML permission rule seed file once and exit",
		Long:  "import loads a YAML seed file and inserts any rule not already present among the engine's global rules. It never deletes a rule. If no path is given, the configured permission.seed_file is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			seedPath := cfg.Permission.SeedFile
			if len(args) == 1 {
				seedPath = args[0]
			}

			st, err := store.Open(cfg.Storage.DataDir)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			seedRules, err := permission.LoadSeedFile(seedPath)
			if err != nil {
				return fmt.Errorf("load seed file %s: %w", seedPath, err)
			}

			eng := permission.New(st)
			if err := eng.ApplySeed(context.Background(), seedRules); err != nil {
				return fmt.Errorf("apply seed file: %w", err)
			}

			fmt.Printf("applied %d seed rule(s) from %s\n", len(seedRules), seedPath)
			return nil
		},
	}
}
