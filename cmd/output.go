package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// WriteOutput encodes v as JSON or YAML, or calls text for the default format.
func WriteOutput(w io.Writer, format config.OutputFormat, v any, text func(io.Writer) error) error {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// writeRowTable prints review rows as an aligned table.
func writeRowTable(w io.Writer, rows []shipment.ReviewRow) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tORDER\tDESCRIPTION\tHS CODE\tDEST\tSTATUS\tMESSAGES")
	for _, r := range rows {
		hs := "-"
		if r.Enriched != nil && r.Enriched.HSCode != "" {
			hs = r.Enriched.HSCode
		}
		dest := r.Original.DestinationCountry
		if dest == "" {
			dest = "-"
		}
		status := string(r.Status)
		if r.ManuallyConfirmed {
			status += "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.Original.OrderID,
			truncate(r.Original.Description, 32),
			hs,
			dest,
			status,
			strings.Join(r.Messages, "; "))
	}
	return tw.Flush()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func valueOrDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
