package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently generated invoices",
		Long: `List shipments recorded when invoices were generated, newest first.

History is kept by the backend set in history.backend: memory (this process
only), redis, or postgres. Run 'tradedoc db migrate' once before using postgres.`,
		Example: `  tradedoc history
  tradedoc history --limit 50 -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			recorder, err := deps.OpenHistory(cmd.Context(), cfg, deps.logger())
			if err != nil {
				return fmt.Errorf("opening shipment history: %w", err)
			}
			defer recorder.Close()

			shipments, err := recorder.List(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing history: %w", err)
			}

			return WriteOutput(cmd.OutOrStdout(), cfg.OutputFormat, shipments, func(w io.Writer) error {
				if len(shipments) == 0 {
					fmt.Fprintln(w, "No shipments recorded.")
					return nil
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "INVOICE\tORDER\tCREATED\tCONSIGNEE\tDEST\tHS CODE\tTOTAL\tSTATUS")
				for _, s := range shipments {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f %s\t%s\n",
						s.InvoiceNumber(), s.OrderID, s.CreatedAt.Format("2006-01-02 15:04"),
						truncate(s.Consignee.Name, 20), s.Consignee.Country, s.Item.HSCode,
						s.TotalValue(), s.Currency, s.Status)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultListLimit, "Maximum number of shipments to list")
	return cmd
}
