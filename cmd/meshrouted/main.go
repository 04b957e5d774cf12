// Command meshrouted runs a single mesh routing node: it loads identity
// and peer key material, wires the configured transport links and
// storage backend into a device/mesh.Node, and runs it until interrupted.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kabili207/meshroute/internal/config"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     "meshrouted",
		Short:   "Delay-tolerant mesh routing node",
		Version: "dev",
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./meshrouted.yaml or /etc/meshrouted/meshrouted.yaml)")
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(keygenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initViper)
}

func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
