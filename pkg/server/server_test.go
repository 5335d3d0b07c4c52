package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/bulk"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/emission"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/render"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

type MockEnricher struct {
	mock.Mock
}

func (m *MockEnricher) Enrich(ctx context.Context, req ai.EnrichRequest) (*ai.EnrichResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.EnrichResponse), args.Error(1)
}

type MockValidator struct {
	mock.Mock
}

func (m *MockValidator) Validate(ctx context.Context, req ai.ValidateRequest) (*ai.ValidationResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.ValidationResult), args.Error(1)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, text string) (*ai.Extraction, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.Extraction), args.Error(1)
}

const ordersCSV = `order_id,buyer_name,desc,qty,unit_price,dest
ORD-1,John Doe,Cotton T-Shirt,10,15,UK
ORD-2,Jane Smith,Ceramic Vase,2,40,
ORD-3,Ann Lee,Desk Lamp,1,25,France
`

type fixture struct {
	srv       *Server
	ws        *bulk.Workspace
	identity  *session.StaticIdentity
	extractor *MockExtractor
}

func newFixture(t *testing.T, withExtractor bool) *fixture {
	t.Helper()

	enricher := new(MockEnricher)
	enricher.On("Enrich", mock.Anything, mock.Anything).Return(&ai.EnrichResponse{
		HSCode:      "6109.10",
		Material:    "Cotton",
		IntendedUse: "Apparel",
		GrossWeight: 1.2,
		NetWeight:   1,
		Incoterm:    "DAP",
	}, nil)
	return newFixtureWithEnricher(t, withExtractor, enricher)
}

func newFixtureWithEnricher(t *testing.T, withExtractor bool, enricher ai.Enricher) *fixture {
	t.Helper()

	validator := new(MockValidator)
	validator.On("Validate", mock.Anything, mock.Anything).Return(&ai.ValidationResult{Valid: true}, nil)

	docs := documents.NewMemoryStore()
	p := pipeline.New(enricher, validator,
		pipeline.WithSleeper(batch.NoSleep),
		pipeline.WithLogger(logging.NewNopLogger()))
	e := emission.New(render.NewInvoiceRenderer(), docs,
		emission.WithSleeper(batch.NoSleep),
		emission.WithLogger(logging.NewNopLogger()))

	f := &fixture{identity: session.NewStaticIdentity(nil, logging.NewNopLogger())}
	f.ws = bulk.NewWorkspace(p, e, f.identity, docs, bulk.WithLogger(logging.NewNopLogger()))

	var extractor ai.Extractor
	if withExtractor {
		f.extractor = new(MockExtractor)
		extractor = f.extractor
	}
	f.srv = New(f.ws, f.identity, extractor,
		WithLogger(logging.NewNopLogger()),
		WithClock(func() time.Time { return time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC) }))
	return f
}

func (f *fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) importOrders(t *testing.T) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/import?filename=orders.csv", []byte(ordersCSV))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, f.ws.Wait())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service_name":"tradedoc"`)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tradedoc_build_info")
}

func TestImportReviewGenerateExport(t *testing.T) {
	f := newFixture(t, false)
	f.importOrders(t)

	status := decode[bulk.Status](t, f.do(t, http.MethodGet, "/api/progress", nil))
	assert.Equal(t, bulk.StepReview, status.Step)
	assert.Equal(t, 100, status.Percent)
	assert.Equal(t, 3, status.Rows)

	rec := f.do(t, http.MethodGet, "/api/rows?status=error", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	errorRows := decode[[]shipment.ReviewRow](t, rec)
	require.Len(t, errorRows, 1)
	assert.Equal(t, "ORD-2", errorRows[0].Original.OrderID)

	rec = f.do(t, http.MethodGet, "/api/rows?search=lamp", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]shipment.ReviewRow](t, rec), 1)

	rec = f.do(t, http.MethodPost, "/api/generate", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.NoError(t, f.ws.Wait())
	assert.Equal(t, 2, f.ws.Result().Emitted)

	rec = f.do(t, http.MethodGet, "/api/export/archive", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/session/login", []byte(`{"company_name":"Acme","address":"1 Dock Road"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[sessionResponse](t, rec).SignedIn)

	rec = f.do(t, http.MethodGet, "/api/export/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "bulk_invoices_2026-10-18.zip")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))

	rec = f.do(t, http.MethodGet, "/api/export/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 4)
}

func TestUpdateRow(t *testing.T) {
	f := newFixture(t, false)
	f.importOrders(t)

	rows := decode[[]shipment.ReviewRow](t, f.do(t, http.MethodGet, "/api/rows?status=error", nil))
	require.Len(t, rows, 1)
	id := rows[0].ID

	rec := f.do(t, http.MethodPatch, fmt.Sprintf("/api/rows/%d", id), []byte(`{"field":"gross_weight","value":"heavy"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/api/rows/%d", id), []byte(`{"field":"hs_code","value":"6912.00"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row := decode[shipment.ReviewRow](t, rec)
	assert.Equal(t, shipment.StatusOK, row.Status)
	assert.True(t, row.ManuallyConfirmed)
	assert.Equal(t, "6912.00", row.Enriched.HSCode)

	rec = f.do(t, http.MethodPatch, "/api/rows/999", []byte(`{"field":"hs_code","value":"1"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/rows/abc", []byte(`{"field":"hs_code","value":"1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, fmt.Sprintf("/api/rows/%d", id), []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateRow_WithoutEnrichmentIsUnchanged(t *testing.T) {
	enricher := new(MockEnricher)
	enricher.On("Enrich", mock.Anything, mock.Anything).Return(nil, errors.New("model offline"))
	f := newFixtureWithEnricher(t, false, enricher)
	f.importOrders(t)

	rows := decode[[]shipment.ReviewRow](t, f.do(t, http.MethodGet, "/api/rows", nil))
	require.NotEmpty(t, rows)
	before := rows[0]
	require.Nil(t, before.Enriched)

	rec := f.do(t, http.MethodPatch, fmt.Sprintf("/api/rows/%d", before.ID), []byte(`{"field":"hs_code","value":"6912.00"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	after := decode[shipment.ReviewRow](t, rec)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, shipment.StatusError, after.Status)
	assert.Equal(t, before.Messages, after.Messages)
	assert.False(t, after.ManuallyConfirmed)
	assert.Nil(t, after.Enriched)

	rec = f.do(t, http.MethodPatch, "/api/rows/999", []byte(`{"field":"hs_code","value":"1"}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportErrors(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/api/import?filename=orders.csv", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/import?filename=orders.csv", []byte("order_id,desc\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, bulk.StepUpload, f.ws.Step())
}

func TestImportTooLarge(t *testing.T) {
	f := newFixture(t, false)
	f.srv = New(f.ws, f.identity, nil, WithLogger(logging.NewNopLogger()), WithMaxUploadBytes(8))

	rec := f.do(t, http.MethodPost, "/api/import?filename=orders.csv", []byte(ordersCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStateConflicts(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, "/api/rows", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/generate", nil).Code)

	f.importOrders(t)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/rows?status=pending", nil).Code)

	rec := f.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bulk.StepUpload, decode[bulk.Status](t, rec).Step)
}

func TestSession(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/api/session", nil)
	assert.False(t, decode[sessionResponse](t, rec).SignedIn)

	rec = f.do(t, http.MethodPost, "/api/session/login", []byte(`{"address":"nowhere"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/session/login", []byte(`{"company_name":"Acme"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[sessionResponse](t, rec)
	require.NotNil(t, resp.Exporter)
	assert.Equal(t, "Acme", resp.Exporter.CompanyName)

	rec = f.do(t, http.MethodPost, "/api/session/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[sessionResponse](t, rec).SignedIn)
}

func TestExtract(t *testing.T) {
	f := newFixture(t, true)
	f.extractor.On("Extract", mock.Anything, "2 vases to Paris").Return(&ai.Extraction{
		ProductDescription: "Ceramic Vase",
		Quantity:           2,
		DestinationCountry: "France",
	}, nil)
	f.extractor.On("Extract", mock.Anything, "hello").Return(nil, ai.ErrNothingExtracted)
	f.extractor.On("Extract", mock.Anything, "busy").Return(nil, &ai.Error{Code: ai.ErrRateLimit, Message: "slow down"})

	rec := f.do(t, http.MethodPost, "/api/extract", []byte(`{"text":"2 vases to Paris"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[ai.Extraction](t, rec)
	assert.Equal(t, "France", out.DestinationCountry)

	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/api/extract", []byte(`{"text":"hello"}`)).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/api/extract", []byte(`{"text":"busy"}`)).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/extract", []byte(`{}`)).Code)
	f.extractor.AssertExpectations(t)
}

func TestExtractNotConfigured(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/api/extract", []byte(`{"text":"anything"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
