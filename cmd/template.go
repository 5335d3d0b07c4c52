package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest/tabular"
)

// NewTemplateCommand creates the template command.
func NewTemplateCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "template [file]",
		Short: "Write a sample import spreadsheet",
		Long: fmt.Sprintf(`Write an xlsx workbook with the canonical column headers and two example orders.

The default file name is %s. Other header spellings are accepted on import
(for example "qty" or "quantity", "dest" or "country").`, tabular.TemplateFilename),
		Example: `  tradedoc template
  tradedoc template orders.xlsx --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := tabular.TemplateFilename
			if len(args) == 1 {
				path = args[0]
			}

			flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
			if force {
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
			f, err := os.OpenFile(path, flags, 0644)
			if err != nil {
				if os.IsExist(err) {
					return fmt.Errorf("%s (use --force to overwrite): %w", path, tderrors.ErrAlreadyExists)
				}
				return err
			}
			if err := tabular.WriteTemplate(f); err != nil {
				f.Close()
				return fmt.Errorf("writing template: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}
