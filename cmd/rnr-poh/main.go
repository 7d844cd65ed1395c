// Command rnr-poh runs and inspects a Proof-of-History node.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/LICODX/rnr-poh/pkg/config"
	"github.com/LICODX/rnr-poh/pkg/hash"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "rnr-poh",
		Short: "Route N Root Proof-of-History node",
		Long: `rnr-poh produces a verifiable SHA-256 or BLAKE3 hash chain at a fixed
cadence, embeds submitted events into it and gossips signed records to
peers. It also verifies recorded chains offline.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	load := func(cmd *cobra.Command, binds map[string]string) (config.Config, error) {
		return loadConfig(cmd, cfgFile, binds)
	}
	root.AddCommand(
		newRunCmd(load),
		newVerifyCmd(load),
		newGenerateCmd(load),
		newBenchCmd(),
		newKeygenCmd(load),
		newVersionCmd(),
	)
	return root
}

type configLoader func(cmd *cobra.Command, binds map[string]string) (config.Config, error)

// loadConfig layers flags named in binds (config key to flag name) over the
// environment, the config file and the defaults.
func loadConfig(cmd *cobra.Command, cfgFile string, binds map[string]string) (config.Config, error) {
	v, err := config.NewViper(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := bindFlags(v, cmd, binds); err != nil {
		return config.Config{}, err
	}
	return config.Load(v)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command, binds map[string]string) error {
	for key, name := range binds {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return fmt.Errorf("unknown flag %q", name)
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rnr-poh %s (%s, default hash %s)\n",
				version, runtime.Version(), hash.DefaultAlgorithm)
		},
	}
}
