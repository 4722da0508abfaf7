package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/siteroll/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Print the configuration siteroll would build with, after defaults,
the config file, environment variables and flags are merged.

Examples:
  siteroll config                 # Print the configuration as YAML
  siteroll config --validate      # Only report validation problems`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().Bool("validate", false, "report validation errors and warnings only")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if validate, _ := cmd.Flags().GetBool("validate"); validate {
		result := config.ValidateConfigWithDetails(cfg)
		if !result.HasWarnings() {
			fmt.Fprintln(out, "Configuration is valid")
			return nil
		}
		fmt.Fprint(out, result.String())
		return nil
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}
