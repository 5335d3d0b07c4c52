package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/tradedoc-cli/config"
	"github.com/otherjamesbrown/tradedoc-cli/credentials"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/bulk"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/export"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest/tabular"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/review"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Fix is a manual correction given on the command line as ID:field=value.
type Fix struct {
	RowID int
	Field review.Field
	Value string
}

// ParseFix parses "ID:field=value".
func ParseFix(s string) (Fix, error) {
	idPart, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Fix{}, fmt.Errorf("fix %q: expected ID:field=value", s)
	}
	id, err := strconv.Atoi(strings.TrimSpace(idPart))
	if err != nil {
		return Fix{}, fmt.Errorf("fix %q: row id must be a number", s)
	}
	field, value, ok := strings.Cut(rest, "=")
	if !ok || strings.TrimSpace(field) == "" {
		return Fix{}, fmt.Errorf("fix %q: expected ID:field=value", s)
	}
	f := review.Field(strings.ToLower(strings.TrimSpace(field)))
	for _, known := range review.Fields {
		if f == known {
			return Fix{RowID: id, Field: f, Value: value}, nil
		}
	}
	return Fix{}, fmt.Errorf("fix %q: unknown field %q", s, field)
}

type bulkRunOptions struct {
	fixes          []string
	status         string
	search         string
	outDir         string
	noGenerate     bool
	nonInteractive bool
}

// BulkRunResult is the machine-readable outcome of `bulk run`.
type BulkRunResult struct {
	Status      bulk.Status          `json:"status" yaml:"status"`
	Rows        []shipment.ReviewRow `json:"rows" yaml:"rows"`
	Archive     string               `json:"archive,omitempty" yaml:"archive,omitempty"`
	Summary     string               `json:"summary,omitempty" yaml:"summary,omitempty"`
	Documents   int                  `json:"documents" yaml:"documents"`
	ExportError string               `json:"export_error,omitempty" yaml:"export_error,omitempty"`
}

// NewBulkCommand creates the bulk command group.
func NewBulkCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Turn a spreadsheet of orders into commercial invoices",
		Long: `Bulk import orders from an xlsx or csv file.

Each row is classified by the AI model (HS code, weights, Incoterm, material,
intended use) and validated. Rows with a missing destination or HS code are
marked Error and are not invoiced. Corrections can be applied with --fix.

Column headers are matched loosely; run 'tradedoc template' for a sample.`,
	}

	cmd.AddCommand(newBulkRunCommand(deps))
	cmd.AddCommand(newBulkIngestCommand(deps))
	return cmd
}

func newBulkRunCommand(deps *Deps) *cobra.Command {
	opts := &bulkRunOptions{}
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Enrich, review, generate and export invoices for a file",
		Long: `Run the whole bulk flow on one file:

  1. ingest     normalize columns into order records
  2. enrich     classify and validate every row (sequential, throttled)
  3. review     apply --fix corrections and print the rows
  4. generate   render one PDF invoice per non-Error row
  5. export     write bulk_invoices_YYYY-MM-DD.zip and enriched_data.csv

Export requires a signed-in exporter. When nobody is signed in you are asked
for the exporter details, unless --non-interactive is set.

Press Ctrl-C to cancel; rows not yet enriched are marked "Enrichment Cancelled".`,
		Example: `  tradedoc bulk run orders.xlsx
  tradedoc bulk run orders.csv --fix 2:hs_code=6912.00 --fix 2:gross_weight=1.5
  tradedoc bulk run orders.csv --status Error --no-generate
  tradedoc bulk run orders.csv --out ./invoices -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulk(cmd.Context(), deps, opts, args[0], cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringArrayVar(&opts.fixes, "fix", nil, "Correct a field before generating: ID:field=value (repeatable)")
	cmd.Flags().StringVar(&opts.status, "status", "all", "Only print rows with this status: all, OK, Warning, Error")
	cmd.Flags().StringVar(&opts.search, "search", "", "Only print rows whose order id, buyer or description contains this text")
	cmd.Flags().StringVar(&opts.outDir, "out", ".", "Directory for the archive and summary")
	cmd.Flags().BoolVar(&opts.noGenerate, "no-generate", false, "Stop after review; do not render invoices")
	cmd.Flags().BoolVar(&opts.nonInteractive, "non-interactive", false, "Never prompt for exporter sign-in")
	return cmd
}

func runBulk(ctx context.Context, deps *Deps, opts *bulkRunOptions, path string, out, errOut io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	statusFilter, err := review.ParseStatusFilter(opts.status)
	if err != nil {
		return err
	}
	fixes := make([]Fix, 0, len(opts.fixes))
	for _, s := range opts.fixes {
		fix, err := ParseFix(s)
		if err != nil {
			return err
		}
		fixes = append(fixes, fix)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	store, err := deps.OpenCredentials()
	if err != nil {
		return fmt.Errorf("initializing credential store: %w", err)
	}
	identity := session.NewCredentialIdentity(store,
		session.WithLogger(deps.logger()),
		session.WithPrompt(signInPrompt(deps, store, opts.nonInteractive, errOut)))

	env, err := deps.openWorkspace(ctx, cfg, identity, prometheus.NewRegistry(),
		bulk.WithProgressListener(progressPrinter(errOut)))
	if err != nil {
		return err
	}
	defer env.Close()
	ws := env.ws

	task, err := ws.Import(ctx, filepath.Base(path), data)
	if err != nil {
		printSuggestion(errOut, err)
		return err
	}
	if err := task.Wait(); err != nil {
		printSuggestion(errOut, err)
		return fmt.Errorf("enrichment stopped: %w", err)
	}

	for _, fix := range fixes {
		ok, err := ws.UpdateField(fix.RowID, fix.Field, fix.Value)
		if err != nil {
			return fmt.Errorf("row %d: %w", fix.RowID, err)
		}
		if !ok {
			return fmt.Errorf("row %d: no enriched row with that id: %w", fix.RowID, tderrors.ErrNotFound)
		}
	}

	result := BulkRunResult{}
	result.Rows, err = ws.Rows(opts.search, statusFilter)
	if err != nil {
		return err
	}

	if !opts.noGenerate {
		task, err := ws.Generate(ctx)
		if err != nil {
			return err
		}
		if err := task.Wait(); err != nil {
			printSuggestion(errOut, err)
			return fmt.Errorf("generation stopped: %w", err)
		}
		result.Documents = ws.Result().Emitted

		if err := exportFiles(ctx, ws, identity, opts.outDir, &result); err != nil {
			if !errors.Is(err, export.ErrAuthenticationRequired) {
				return err
			}
			result.ExportError = err.Error()
		}
	}
	result.Status = ws.Status()

	return WriteOutput(out, cfg.OutputFormat, result, func(w io.Writer) error {
		return writeBulkText(w, result)
	})
}

// exportFiles writes the archive and summary, retrying once when the gate's prompt signed someone in.
func exportFiles(ctx context.Context, ws *bulk.Workspace, identity session.Identity, dir string, result *BulkRunResult) error {
	var archive bytes.Buffer
	n, err := ws.ExportArchive(ctx, &archive)
	if errors.Is(err, export.ErrAuthenticationRequired) {
		if _, ok := identity.Current(); !ok {
			return err
		}
		archive.Reset()
		n, err = ws.ExportArchive(ctx, &archive)
	}
	if err != nil {
		return err
	}

	var summary bytes.Buffer
	if err := ws.ExportSummary(ctx, &summary); err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	result.Archive = filepath.Join(dir, export.ArchiveName(time.Now()))
	if err := os.WriteFile(result.Archive, archive.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing archive: %w", err)
	}
	result.Summary = filepath.Join(dir, export.SummaryName)
	if err := os.WriteFile(result.Summary, summary.Bytes(), 0644); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}
	result.Documents = n
	return nil
}

// signInPrompt asks for exporter details on the terminal.
func signInPrompt(deps *Deps, store *credentials.Store, nonInteractive bool, errOut io.Writer) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if nonInteractive || deps.Prompt == nil {
			fmt.Fprintln(errOut, "Export requires a signed-in exporter. Run: tradedoc auth login --company NAME")
			return nil
		}
		fmt.Fprintln(errOut, "Export requires a signed-in exporter.")
		profile, err := promptProfile(deps)
		if err != nil {
			return err
		}
		if profile.CompanyName == "" {
			fmt.Fprintln(errOut, "No company name given; skipping export.")
			return nil
		}
		return store.SignIn(profile)
	}
}

func promptProfile(deps *Deps) (shipment.ExporterProfile, error) {
	var p shipment.ExporterProfile
	fields := []struct {
		label string
		dst   *string
	}{
		{"Company name: ", &p.CompanyName},
		{"Address: ", &p.Address},
		{"Tax ID (optional): ", &p.TaxID},
		{"Email (optional): ", &p.Email},
	}
	for _, f := range fields {
		v, err := deps.Prompt(f.label, false)
		if err != nil {
			return p, fmt.Errorf("reading exporter details: %w", err)
		}
		*f.dst = v
		if p.CompanyName == "" {
			return p, nil
		}
	}
	return p, nil
}

// progressPrinter draws a single updating progress line per stage.
func progressPrinter(w io.Writer) func(batch.ProgressSnapshot) {
	return func(s batch.ProgressSnapshot) {
		fmt.Fprintf(w, "\r%-8s %3d%% (%d/%d) %-24s", s.Stage, s.Percent, s.Done, s.Total, truncate(s.CurrentRow, 24))
		switch s.Status {
		case batch.StatusCompleted, batch.StatusCancelled, batch.StatusFailed:
			fmt.Fprintf(w, " %s\n", s.Status)
		}
	}
}

// printSuggestion prints the registry hint for a classified failure.
func printSuggestion(w io.Writer, err error) {
	var pe *tderrors.PipelineError
	if !errors.As(err, &pe) {
		return
	}
	if action := tderrors.GetSuggestedAction(pe.Code); action != "" {
		fmt.Fprintf(w, "Hint: %s\n", action)
	}
}

func writeBulkText(w io.Writer, r BulkRunResult) error {
	if err := writeRowTable(w, r.Rows); err != nil {
		return err
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Rows:      %d (OK %d, Warning %d, Error %d)\n", r.Status.Rows,
		r.Status.Counts[shipment.StatusOK], r.Status.Counts[shipment.StatusWarning], r.Status.Counts[shipment.StatusError])
	if r.Status.Step == bulk.StepReview {
		fmt.Fprintln(w, "Generation skipped (--no-generate).")
		return nil
	}
	fmt.Fprintf(w, "Invoices:  %d\n", r.Documents)
	if r.Archive != "" {
		fmt.Fprintf(w, "Archive:   %s\n", r.Archive)
		fmt.Fprintf(w, "Summary:   %s\n", r.Summary)
	}
	if r.ExportError != "" {
		fmt.Fprintf(w, "Export:    %s\n", r.ExportError)
	}
	return nil
}

func newBulkIngestCommand(deps *Deps) *cobra.Command {
	var origin string
	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Show how a file's rows are normalized, without calling the AI model",
		Long: `Parse a spreadsheet and print the normalized order records.

Useful to check header matching before a full run. Rows whose description is
empty or repeats a header name are dropped; missing values get defaults.`,
		Example: `  tradedoc bulk ingest orders.xlsx
  tradedoc bulk ingest orders.csv --origin DEU -o yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBulkIngest(deps, args[0], origin, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "Origin country for rows without one (default from profile or config)")
	return cmd
}

func runBulkIngest(deps *Deps, path, origin string, out, errOut io.Writer) error {
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if origin == "" {
		origin = defaultOrigin(deps, cfg)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	records, err := ingest.ParseAndIngest(data, tabular.DetectFormat(path, data), ingest.Options{DefaultOrigin: origin})
	if err != nil {
		printSuggestion(errOut, err)
		return err
	}

	return WriteOutput(out, cfg.OutputFormat, records, func(w io.Writer) error {
		tw := newTable(w)
		fmt.Fprintln(tw, "INDEX\tORDER\tBUYER\tDESCRIPTION\tQTY\tUNIT PRICE\tORIGIN\tDEST")
		for _, r := range records {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%g\t%.2f\t%s\t%s\n",
				r.Index, r.OrderID, truncate(r.BuyerName, 20), truncate(r.Description, 32),
				r.Quantity, r.UnitPrice, r.OriginCountry, valueOrDefault(r.DestinationCountry, "-"))
		}
		return tw.Flush()
	})
}

// defaultOrigin prefers the signed-in exporter's origin over the config value.
func defaultOrigin(deps *Deps, cfg *config.CLIConfig) string {
	if store, err := deps.OpenCredentials(); err == nil {
		if p, err := store.Exporter(); err == nil && p.DefaultOrigin != "" {
			return p.DefaultOrigin
		}
	}
	return cfg.DefaultOrigin
}
