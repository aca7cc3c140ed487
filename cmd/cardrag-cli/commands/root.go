// Package commands implements the cardrag CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/spherical/libs/cardrag/cmd/cardrag-cli/ui"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/bootstrap"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/config"
	"github.com/spherical-ai/spherical/libs/cardrag/internal/observability"
)

var (
	cfgFile    string
	verbose    bool
	noColor    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "cardrag-cli",
	Short: "Card customer-service retrieval core CLI",
	Long: `cardrag-cli routes and searches card customer-service questions against the
configured document store, runs the retrieval evaluation suite, and seeds
development stores from JSON fixtures.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.InitUI(noColor, verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
}

// SetVersion sets the version reported by --version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// cliLogger keeps logs on stderr and quiet unless -v is set.
func cliLogger(cfg *config.Config) *observability.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      os.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})
}

func loadComponents(ctx context.Context) (*bootstrap.Components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, cliLogger(cfg))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
