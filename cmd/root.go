// Package cmd provides the siteroll command-line interface.
//
// Configuration is read from, highest priority first:
//
//  1. Command-line flags (--config, --log-level, ...)
//  2. SITEROLL_CONFIG_FILE, a custom config file path
//  3. SITEROLL_<SECTION>_<OPTION> environment variables, e.g. SITEROLL_SITE_OUTPUT
//  4. The .siteroll.yml file in the working directory
//
// A .env file in the working directory is loaded into the environment
// before any of these are consulted. SITEROLL_SERVERLESS disables bundling.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "siteroll",
	Short: "Build a static site and bundle the scripts its pages declare",
	Long: `siteroll renders a directory of html/template pages and bundles the
scripts those pages declare with esbuild.

Pages declare scripts through a shortcode, one per configured bundle:

  <body>{{ rollup "scripts/app.js" }}</body>

Each declared script becomes a bundle entry point with a content-derived
file name, and the shortcode emits a module script tag pointing at it.

Quick Start:
  siteroll build                  Render and bundle once
  siteroll watch                  Rebuild on changes
  siteroll config                 Show the resolved configuration`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// Interrupts cancel the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .siteroll.yml, can also use SITEROLL_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

// initConfig points viper at the configuration file and environment.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Ignoring .env:", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("SITEROLL_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".siteroll")
	}

	viper.SetEnvPrefix("SITEROLL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file leaves the defaults in place.
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	case !errors.As(err, &notFound):
		fmt.Fprintln(os.Stderr, "Cannot read config file:", err)
	}
}
