package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/siteroll/internal/config"
	"github.com/conneroisu/siteroll/internal/coordinator"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Render the site and bundle declared scripts",
	Long: `Render every page under the site input directory, then bundle the scripts
the pages declared, one bundle per configured shortcode.

Set SITEROLL_SERVERLESS=1 to render without bundling.

Examples:
  siteroll build                       # Build with .siteroll.yml
  siteroll build --output public       # Write the site to public/
  siteroll build --serverless          # Render only`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	addSiteFlags(buildCmd.Flags())
	buildCmd.Flags().Bool("serverless", false, "render pages without bundling")
}

// addSiteFlags registers flags overriding the site section of the config.
func addSiteFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "site input directory")
	fs.StringP("output", "o", "", "site output directory")
	fs.String("metrics-textfile", "", "write build metrics to this file")
}

// bindSiteFlags binds the flags of cmd that were set on the command line.
func bindSiteFlags(cmd *cobra.Command) error {
	bindings := map[string]string{
		"input":            "site.input",
		"output":           "site.output",
		"metrics-textfile": "metrics.textfile",
	}
	for flag, key := range bindings {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func loadProject(cmd *cobra.Command) (*project, error) {
	if err := bindSiteFlags(cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	result := config.ValidateConfigWithDetails(cfg)
	if result.HasWarnings() {
		fmt.Fprint(cmd.ErrOrStderr(), result.String())
	}

	return newProject(cfg, ".")
}

func runBuild(cmd *cobra.Command, args []string) error {
	if serverless, _ := cmd.Flags().GetBool("serverless"); serverless {
		if err := os.Setenv(coordinator.ServerlessEnv, "1"); err != nil {
			return err
		}
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	result, err := p.build(cmd.Context())
	if err != nil {
		return err
	}

	printResult(cmd.OutOrStdout(), p, result)
	return nil
}
