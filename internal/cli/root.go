// Package cli implements the dicom-cleaner command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"dicom-cleaner/internal/config"
)

// NewRootCmd builds the dicom-cleaner command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "dicom-cleaner",
		Short: "Anonymize DICOM files while keeping UIDs consistent",
		Long: `dicom-cleaner replaces patient identifiers in DICOM files with synthetic
ones, remaps study, series and instance UIDs consistently per patient and
scrubs leftover name fragments from free text.

Settings come from flags, DICOM_CLEANER_* environment variables and the
YAML file given by --config (default $HOME/.dicom-cleaner.yaml).`,
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.dicom-cleaner.yaml)")
	root.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")

	root.AddCommand(newRunCmd(&cfgFile), newGenerateCmd(&cfgFile))
	return root
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and lets explicitly set flags win. Flag names
// use dashes, config keys underscores.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(cmd, v); err != nil {
		return nil, err
	}
	return config.Decode(v)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" || f.Name == "help" {
			return
		}
		err = v.BindPFlag(flagKey(f.Name), f)
	})
	return err
}

func flagKey(name string) string {
	out := []byte(name)
	for i, c := range out {
		if c == '-' {
			out[i] = '_'
		}
	}
	return string(out)
}
