package export

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

type MockIdentity struct {
	mock.Mock
}

func (m *MockIdentity) Current() (*shipment.ExporterProfile, bool) {
	args := m.Called()
	p, _ := args.Get(0).(*shipment.ExporterProfile)
	return p, args.Bool(1)
}

func (m *MockIdentity) RequestAuthentication(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func row(id int, orderID, desc string, status shipment.RowStatus, handle string) shipment.ReviewRow {
	r := shipment.ReviewRow{
		ID:             id,
		Original:       shipment.RawOrderRecord{Index: id, OrderID: orderID, Description: desc},
		Status:         status,
		DocumentHandle: handle,
	}
	if status != shipment.StatusError {
		r.Enriched = &shipment.EnrichedFields{HSCode: "6109.10", GrossWeight: 0.25, Incoterm: shipment.IncotermDAP}
	}
	return r
}

func seed(t *testing.T, docs *documents.MemoryStore, key, body string) {
	t.Helper()
	require.NoError(t, docs.Upload(context.Background(), key, strings.NewReader(body), "application/pdf"))
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestArchiveName(t *testing.T) {
	now := time.Date(2026, 3, 7, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, "bulk_invoices_2026-03-07.zip", ArchiveName(now))
	assert.Equal(t, "enriched_data.csv", SummaryName)
}

func TestArchive(t *testing.T) {
	docs := documents.NewMemoryStore()
	seed(t, docs, "invoices/s1/ORD-1_invoice.pdf", "pdf-1")
	seed(t, docs, "invoices/s3/ORD-3_invoice.pdf", "pdf-3")

	rows := []shipment.ReviewRow{
		row(0, "ORD-1", "Cotton T-Shirt", shipment.StatusOK, "invoices/s1/ORD-1_invoice.pdf"),
		row(1, "ORD-2", "Ceramic Vase", shipment.StatusError, ""),
		row(2, "ORD-3", "Lamp", shipment.StatusWarning, "invoices/s3/ORD-3_invoice.pdf"),
	}

	var buf bytes.Buffer
	n, err := Archive(context.Background(), rows, docs, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := readZip(t, buf.Bytes())
	assert.Equal(t, map[string]string{
		"invoices/ORD-1_invoice.pdf": "pdf-1",
		"invoices/ORD-3_invoice.pdf": "pdf-3",
	}, entries)
}

func TestArchive_DuplicateOrderIDs(t *testing.T) {
	docs := documents.NewMemoryStore()
	seed(t, docs, "invoices/a/DUP_invoice.pdf", "first")
	seed(t, docs, "invoices/b/DUP_invoice.pdf", "second")

	rows := []shipment.ReviewRow{
		row(4, "DUP", "A", shipment.StatusOK, "invoices/a/DUP_invoice.pdf"),
		row(7, "DUP", "B", shipment.StatusOK, "invoices/b/DUP_invoice.pdf"),
	}

	var buf bytes.Buffer
	n, err := Archive(context.Background(), rows, docs, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries := readZip(t, buf.Bytes())
	assert.Equal(t, "first", entries["invoices/DUP_4_invoice.pdf"])
	assert.Equal(t, "second", entries["invoices/DUP_7_invoice.pdf"])
}

func TestEntryNames_SanitizesOrderID(t *testing.T) {
	names := EntryNames([]shipment.ReviewRow{
		row(0, "A/B", "x", shipment.StatusOK, "k"),
	})
	assert.Equal(t, "invoices/A_B_invoice.pdf", names[0])
}

// Scenario E: nothing was emitted, so the archive is a valid empty zip.
func TestArchive_NoDocuments(t *testing.T) {
	rows := []shipment.ReviewRow{
		row(0, "ORD-1", "Vase", shipment.StatusError, ""),
		row(1, "ORD-2", "Lamp", shipment.StatusError, ""),
	}

	var buf bytes.Buffer
	n, err := Archive(context.Background(), rows, documents.NewMemoryStore(), &buf)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, readZip(t, buf.Bytes()))
}

func TestArchive_MissingDocument(t *testing.T) {
	rows := []shipment.ReviewRow{row(0, "ORD-1", "Vase", shipment.StatusOK, "invoices/gone/ORD-1_invoice.pdf")}

	_, err := Archive(context.Background(), rows, documents.NewMemoryStore(), io.Discard)
	require.Error(t, err)
	assert.True(t, tderrors.IsNotFound(err))
}

func TestArchive_Cancelled(t *testing.T) {
	docs := documents.NewMemoryStore()
	seed(t, docs, "k", "pdf")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Archive(ctx, []shipment.ReviewRow{row(0, "ORD-1", "x", shipment.StatusOK, "k")}, docs, io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSummary(t *testing.T) {
	rows := []shipment.ReviewRow{
		row(0, "ORD-1", "Cotton T-Shirt, blue", shipment.StatusOK, "h"),
		row(1, "ORD-2", "Ceramic Vase", shipment.StatusError, ""),
	}
	rows[0].Enriched.Incoterm = shipment.IncotermDDP

	var buf bytes.Buffer
	require.NoError(t, Summary(rows, &buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, SummaryHeader, records[0])
	assert.Equal(t, []string{"ORD-1", "Cotton T-Shirt, blue", "6109.10", "0.25", "DDP", "OK"}, records[1])
	assert.Equal(t, []string{"ORD-2", "Ceramic Vase", "", "", "", "Error"}, records[2])
}

func TestSummary_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Summary(nil, &buf))
	assert.Equal(t, "Order ID,Description,HS Code,Weight,Incoterm,Status\n", buf.String())
}

func TestExporter_RequiresSignIn(t *testing.T) {
	identity := new(MockIdentity)
	identity.On("Current").Return(nil, false)
	identity.On("RequestAuthentication", mock.Anything).Return(nil)

	exp := NewExporter(identity, documents.NewMemoryStore(), logging.NewNopLogger())
	rows := []shipment.ReviewRow{row(0, "ORD-1", "x", shipment.StatusOK, "")}

	var buf bytes.Buffer
	_, err := exp.ExportArchive(context.Background(), rows, &buf)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
	assert.True(t, tderrors.IsUnauthorized(err))
	assert.Zero(t, buf.Len())

	err = exp.ExportSummary(context.Background(), rows, &buf)
	assert.ErrorIs(t, err, ErrAuthenticationRequired)
	assert.Zero(t, buf.Len())

	identity.AssertNumberOfCalls(t, "RequestAuthentication", 2)
}

func TestExporter_SignedIn(t *testing.T) {
	identity := new(MockIdentity)
	identity.On("Current").Return(&shipment.ExporterProfile{CompanyName: "Acme"}, true)

	docs := documents.NewMemoryStore()
	seed(t, docs, "h", "pdf")
	exp := NewExporter(identity, docs, logging.NewNopLogger())
	rows := []shipment.ReviewRow{row(0, "ORD-1", "x", shipment.StatusOK, "h")}

	var archive bytes.Buffer
	n, err := exp.ExportArchive(context.Background(), rows, &archive)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var summary bytes.Buffer
	require.NoError(t, exp.ExportSummary(context.Background(), rows, &summary))
	assert.Contains(t, summary.String(), "ORD-1")

	identity.AssertNotCalled(t, "RequestAuthentication", mock.Anything)
}
