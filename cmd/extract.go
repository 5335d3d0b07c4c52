package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest/eml"
)

// NewExtractCommand creates the extract command.
func NewExtractCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var fromFile string

	cmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Pull shipment details out of free-form order text",
		Long: `Ask the AI model to read an order confirmation, email or chat message and
return the consignee, product, quantity, value and destination it finds.

Fields the model could not find are left out. With --file, saved emails (.eml)
are decoded first and only the subject and readable body are sent.`,
		Example: `  tradedoc extract "Ship 2 ceramic vases to Marie Dupont, 4 Rue Cler, Paris. Total 80 USD"
  tradedoc extract --file order-confirmation.eml -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if fromFile != "" {
				var err error
				if text, err = readExtractFile(fromFile); err != nil {
					return err
				}
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("nothing to extract: pass the text as an argument or use --file")
			}
			return runExtract(cmd, deps, text)
		},
	}
	cmd.Flags().StringVarP(&fromFile, "file", "f", "", "Read the text from a file")
	return cmd
}

// readExtractFile returns the file's text, decoding it first when it is an email.
func readExtractFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if !eml.Looks(path, data) {
		return string(data), nil
	}
	msg, err := eml.Parse(data)
	if err != nil {
		return "", err
	}
	return msg.ExtractionText(), nil
}

func runExtract(cmd *cobra.Command, deps *Deps, text string) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	key, err := deps.apiKey()
	if err != nil {
		return err
	}

	out, err := deps.NewAI(cfg, key, deps.logger()).Extract(cmd.Context(), text)
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}

	return WriteOutput(cmd.OutOrStdout(), cfg.OutputFormat, out, func(w io.Writer) error {
		return writeExtraction(w, out)
	})
}

func writeExtraction(w io.Writer, e *ai.Extraction) error {
	tw := newTable(w)
	row := func(label, value string) {
		if value != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", label, value)
		}
	}
	row("Consignee", e.ConsigneeName)
	row("Address", e.ConsigneeAddress)
	row("Product", e.ProductDescription)
	if e.Quantity != 0 {
		row("Quantity", fmt.Sprintf("%g", e.Quantity))
	}
	if e.TotalValue != 0 {
		row("Total value", strings.TrimSpace(fmt.Sprintf("%.2f %s", e.TotalValue, e.Currency)))
	}
	row("Destination", e.DestinationCountry)
	return tw.Flush()
}
