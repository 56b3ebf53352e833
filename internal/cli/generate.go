package cli

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"dicom-cleaner/internal/identity"
)

func newGenerateCmd(cfgFile *string) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print unique patient IDs for a template",
		Long: `Print unique patient IDs generated from a template, to check what a
template produces before using it.

Template characters: # digit, ? letter, * digit or letter, % escapes the
next character, anything else is copied.`,
		Example: `  dicom-cleaner generate -t 'RES-####' -c 5`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *cfgFile)
			if err != nil {
				return err
			}
			if count < 1 {
				return errors.Newf("count must be positive, got %d", count)
			}

			gen := identity.NewGenerator(cfg.Template)
			for i := 0; i < count; i++ {
				id, err := gen.MakeUnique()
				if err != nil {
					return errors.Wrapf(err, "after %d ids", i)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().StringP("template", "t", identity.DefaultTemplate, "patient ID template")
	cmd.Flags().IntVarP(&count, "count", "c", 10, "number of IDs to print")
	return cmd
}
