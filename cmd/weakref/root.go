package main

import (
	"github.com/spf13/cobra"

	"github.com/sarchlab/weakref/config"
)

var rootCmd = &cobra.Command{
	Use:   "weakref",
	Short: "Weakref runs and inspects weak reference runtimes.",
	Long: `Weakref runs and inspects weak reference runtimes. Options are ` +
		`read from a TOML file, a .env file, and WEAKREF_* variables, in ` +
		`that order.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "TOML file with runtime options")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file loaded if present")
}

func loadOptions(cmd *cobra.Command) (config.Options, error) {
	opts := config.Default()

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		var err error

		opts, err = config.LoadFile(path, opts)
		if err != nil {
			return config.Options{}, err
		}
	}

	envFile, _ := cmd.Flags().GetString("env-file")

	opts, err := config.FromEnv(opts, envFile)
	if err != nil {
		return config.Options{}, err
	}

	return opts, opts.Validate()
}
