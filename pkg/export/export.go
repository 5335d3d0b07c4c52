// Package export packages emitted invoices as a zip archive and the reviewed
// rows as a CSV summary. Both are gated on a signed-in exporter.
package export

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// SummaryName is the default summary filename.
const SummaryName = "enriched_data.csv"

// ErrAuthenticationRequired is returned when nobody is signed in.
var ErrAuthenticationRequired = session.ErrAuthenticationRequired

// SummaryHeader is the first line of the CSV summary.
var SummaryHeader = []string{"Order ID", "Description", "HS Code", "Weight", "Incoterm", "Status"}

// ArchiveName is the default archive filename for a download made at now.
func ArchiveName(now time.Time) string {
	return fmt.Sprintf("bulk_invoices_%s.zip", now.Format("2006-01-02"))
}

// EntryNames assigns each row with a document its archive entry name.
// A repeated order id gets the row id appended so names stay unique.
func EntryNames(rows []shipment.ReviewRow) map[int]string {
	seen := make(map[string]int)
	for _, row := range rows {
		if row.DocumentHandle != "" {
			seen[documents.SafeName(row.Original.OrderID)]++
		}
	}

	names := make(map[int]string)
	for _, row := range rows {
		if row.DocumentHandle == "" {
			continue
		}
		base := documents.SafeName(row.Original.OrderID)
		if seen[base] > 1 {
			base = fmt.Sprintf("%s_%d", base, row.ID)
		}
		names[row.ID] = "invoices/" + base + "_invoice.pdf"
	}
	return names
}

// Archive writes a zip of every row's document to w and returns the entry count.
// Rows without a handle are left out. With none, a valid empty archive is written.
func Archive(ctx context.Context, rows []shipment.ReviewRow, docs documents.Store, w io.Writer) (int, error) {
	names := EntryNames(rows)
	zw := zip.NewWriter(w)

	count := 0
	for _, row := range rows {
		name, ok := names[row.ID]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if err := addEntry(ctx, zw, docs, name, row); err != nil {
			return count, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finalizing archive: %w", err)
	}
	return count, nil
}

func addEntry(ctx context.Context, zw *zip.Writer, docs documents.Store, name string, row shipment.ReviewRow) error {
	rc, err := docs.Download(ctx, row.DocumentHandle)
	if err != nil {
		return fmt.Errorf("fetching document for order %s: %w", row.Original.OrderID, err)
	}
	defer rc.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("creating entry %s: %w", name, err)
	}
	if _, err := io.Copy(fw, rc); err != nil {
		return fmt.Errorf("writing entry %s: %w", name, err)
	}
	return nil
}

// Summary writes one CSV line per row, Error rows included.
func Summary(rows []shipment.ReviewRow, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SummaryHeader); err != nil {
		return err
	}
	for _, row := range rows {
		if err := cw.Write(summaryLine(row)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func summaryLine(row shipment.ReviewRow) []string {
	var hs, weight, incoterm string
	if e := row.Enriched; e != nil {
		hs = e.HSCode
		if e.GrossWeight != 0 {
			weight = strconv.FormatFloat(e.GrossWeight, 'f', -1, 64)
		}
		incoterm = string(e.Incoterm)
	}
	return []string{row.Original.OrderID, row.Original.Description, hs, weight, incoterm, string(row.Status)}
}

// Exporter applies the sign-in gate in front of Archive and Summary.
type Exporter struct {
	identity session.Identity
	docs     documents.Store
	logger   logging.Logger
}

// NewExporter creates an Exporter reading documents from docs.
func NewExporter(identity session.Identity, docs documents.Store, logger logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.MustGlobal()
	}
	return &Exporter{
		identity: identity,
		docs:     docs,
		logger:   logger.With(logging.F("component", "export")),
	}
}

func (e *Exporter) gate(ctx context.Context, what string) error {
	if _, ok := e.identity.Current(); ok {
		return nil
	}
	e.logger.WithContext(ctx).Info("Export blocked until sign-in", logging.F("export", what))
	if err := e.identity.RequestAuthentication(ctx); err != nil {
		e.logger.Warn("Sign-in request failed", logging.Err(err))
	}
	return ErrAuthenticationRequired
}

// ExportArchive writes the invoice archive when an exporter is signed in.
func (e *Exporter) ExportArchive(ctx context.Context, rows []shipment.ReviewRow, w io.Writer) (int, error) {
	if err := e.gate(ctx, "archive"); err != nil {
		return 0, err
	}
	n, err := Archive(ctx, rows, e.docs, w)
	if err != nil {
		return n, err
	}
	e.logger.WithContext(ctx).Info("Archive exported", logging.F("documents", n))
	return n, nil
}

// ExportSummary writes the CSV summary when an exporter is signed in.
func (e *Exporter) ExportSummary(ctx context.Context, rows []shipment.ReviewRow, w io.Writer) error {
	if err := e.gate(ctx, "summary"); err != nil {
		return err
	}
	if err := Summary(rows, w); err != nil {
		return err
	}
	e.logger.WithContext(ctx).Info("Summary exported", logging.F("rows", len(rows)))
	return nil
}
