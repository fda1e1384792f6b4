// custody CLI - runs the custody scenarios and inspects custody journals
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/custody/manifest"
)

var (
	configDir string
	verbose   int
	cfg       *manifest.Manifest
)

var rootCmd = &cobra.Command{
	Use:   "custody",
	Short: "Exception custody between a script VM and Go host code",
	Long: `custody exercises the bridge that hands VM exceptions to Go host code
and back, and inspects the journals it records.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		m, err := loadManifest()
		if err != nil {
			return err
		}
		cfg = m

		verbosity := cfg.Log.Verbosity
		if cmd.Flags().Changed("verbose") {
			verbosity = verbose
		}
		commonlog.Configure(verbosity, cfg.LogPath())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory containing custody.toml (default: search upwards from the working directory)")
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "log verbosity (repeat for more)")

	rootCmd.AddCommand(newDemoCmd())
	rootCmd.AddCommand(newJournalCmd())
}

func loadManifest() (*manifest.Manifest, error) {
	if configDir != "" {
		return manifest.Load(configDir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
