// Package emission turns reviewed rows into stored commercial-invoice PDFs.
package emission

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/history"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/observability"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/render"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/review"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Stage is the progress and metrics label for this stage.
const Stage = "generate"

// DefaultRowDelay is the pause between consecutive documents.
const DefaultRowDelay = 50 * time.Millisecond

// Verifier checks rendered bytes before they are stored.
type Verifier func(data []byte) error

// VerifySinglePage requires data to parse as a PDF with exactly one page.
func VerifySinglePage(data []byte) error {
	count, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("read rendered pdf: %w", err)
	}
	if count != 1 {
		return fmt.Errorf("rendered pdf has %d pages, want 1", count)
	}
	return nil
}

// Result summarizes one emission run.
type Result struct {
	Eligible  int                          `json:"eligible"`
	Emitted   int                          `json:"emitted"`
	Failed    int                          `json:"failed"`
	Skipped   int                          `json:"skipped"`
	Shipments []shipment.FinalizedShipment `json:"shipments"`
}

// Emitter renders and stores one invoice per eligible row.
type Emitter struct {
	renderer    render.Renderer
	docs        documents.Store
	clock       func() time.Time
	newID       func() string
	recorder    history.Recorder
	verify      Verifier
	sleeper     batch.Sleeper
	rowDelay    time.Duration
	reportEvery int
	metrics     *observability.BulkMetrics
	tracer      *observability.Tracer
	logger      logging.Logger
}

// Option configures the Emitter.
type Option func(*Emitter)

// WithClock sets the source of shipment creation times.
func WithClock(clock func() time.Time) Option {
	return func(e *Emitter) {
		e.clock = clock
	}
}

// WithIDGenerator sets the shipment id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Emitter) {
		e.newID = gen
	}
}

// WithRecorder records every emitted shipment.
func WithRecorder(r history.Recorder) Option {
	return func(e *Emitter) {
		e.recorder = r
	}
}

// WithVerifier replaces the rendered-document check. Nil disables it.
func WithVerifier(v Verifier) Option {
	return func(e *Emitter) {
		e.verify = v
	}
}

// WithSleeper replaces the timer used between rows.
func WithSleeper(s batch.Sleeper) Option {
	return func(e *Emitter) {
		e.sleeper = s
	}
}

// WithRowDelay sets the pause between rows.
func WithRowDelay(d time.Duration) Option {
	return func(e *Emitter) {
		e.rowDelay = d
	}
}

// WithReportEvery sets how many rows pass between progress reports.
func WithReportEvery(n int) Option {
	return func(e *Emitter) {
		e.reportEvery = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.BulkMetrics) Option {
	return func(e *Emitter) {
		e.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Emitter) {
		e.tracer = t
	}
}

// New creates an Emitter writing documents to docs.
func New(renderer render.Renderer, docs documents.Store, opts ...Option) *Emitter {
	e := &Emitter{
		renderer:    renderer,
		docs:        docs,
		clock:       time.Now,
		newID:       uuid.NewString,
		verify:      VerifySinglePage,
		sleeper:     batch.TimerSleeper{},
		rowDelay:    DefaultRowDelay,
		reportEvery: batch.DefaultReportEvery,
		tracer:      observability.NewTracer(),
		logger:      logging.MustGlobal(),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With(logging.F("component", "emitter"))
	return e
}

// Eligible reports whether a row may produce a document.
func Eligible(row shipment.ReviewRow) bool {
	return row.Status != shipment.StatusError && row.Enriched != nil
}

// Emit renders and stores an invoice for every eligible row in store, in order.
// Handles from earlier runs are cleared first. A nil exporter means the
// anonymous profile. A failing row gets an emission error and the run goes on.
// When ctx is cancelled between rows the run stops and ctx's error is returned
// with the partial result.
func (e *Emitter) Emit(ctx context.Context, store *review.Store, exporter *shipment.ExporterProfile, progress *batch.Progress) (Result, error) {
	profile := shipment.AnonymousExporter
	if exporter != nil {
		profile = *exporter
	}

	var eligible []shipment.ReviewRow
	var result Result
	for _, row := range store.Rows() {
		if Eligible(row) {
			eligible = append(eligible, row)
		} else {
			result.Skipped++
		}
	}
	result.Eligible = len(eligible)
	store.ClearDocuments()

	if progress == nil {
		progress = batch.NewProgress(Stage, len(eligible))
	}
	progress.SetReportEvery(e.reportEvery)
	progress.Start()

	logger := e.logger.WithContext(ctx)
	ctx, span := e.tracer.StartBatchSpan(ctx, Stage, len(eligible))
	defer span.End()

	logger.Info("Starting document generation",
		logging.F("eligible", len(eligible)),
		logging.F("skipped", result.Skipped),
		logging.F("exporter", profile.CompanyName))
	start := time.Now()

	var cancelErr error
	for i, row := range eligible {
		if err := ctx.Err(); err != nil {
			cancelErr = err
			break
		}

		progress.SetCurrentRow(row.Original.OrderID)
		s, err := e.emitRow(ctx, logger, store, row, profile)
		if err != nil {
			result.Failed++
			progress.RecordFailed()
		} else {
			result.Emitted++
			result.Shipments = append(result.Shipments, s)
			progress.RecordOK()
		}
		if e.metrics != nil {
			e.metrics.SetProgress(Stage, progress.Percent())
		}

		if i < len(eligible)-1 {
			if err := e.sleeper.Sleep(ctx, e.rowDelay); err != nil && ctx.Err() != nil {
				cancelErr = ctx.Err()
				break
			}
		}
	}

	status := batch.StatusCompleted
	if cancelErr != nil {
		status = batch.StatusCancelled
		progress.Cancel()
		logger.Warn("Document generation cancelled",
			logging.F("remaining", len(eligible)-result.Emitted-result.Failed))
	} else {
		progress.Complete(true)
	}
	if e.metrics != nil {
		e.metrics.RecordBatch(Stage, status, len(eligible))
	}

	logger.Info("Document generation finished",
		logging.F("status", status),
		logging.F("emitted", result.Emitted),
		logging.F("failed", result.Failed),
		logging.F("duration", time.Since(start)))

	return result, cancelErr
}

func (e *Emitter) emitRow(ctx context.Context, logger logging.Logger, store *review.Store, row shipment.ReviewRow, profile shipment.ExporterProfile) (shipment.FinalizedShipment, error) {
	start := time.Now()
	ctx, span := e.tracer.StartRowSpan(ctx, Stage, row.ID, row.Original.OrderID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	s := Finalize(row, profile, e.newID(), e.clock())

	fail := func(step string, err error) (shipment.FinalizedShipment, error) {
		pe := tderrors.NewPipelineError(tderrors.ErrEmissionFailure, Stage, fmt.Sprintf("%s: %v", step, err), err)
		pe.RowID = row.ID
		helper.SetError(pe, string(pe.Code), false)
		helper.SetRowStatus("failed")
		if e.metrics != nil {
			e.metrics.RecordRowError(Stage, string(pe.Code))
			e.metrics.RecordDocument("error", 0)
			e.metrics.RecordRow(Stage, "failed", time.Since(start).Seconds())
		}
		if serr := store.SetEmissionError(row.ID, pe.Message); serr != nil {
			logger.Warn("Failed to record emission error", logging.F("row_id", row.ID), logging.Err(serr))
		}
		logger.Warn("Invoice generation failed",
			logging.F("row_id", row.ID),
			logging.F("order_id", row.Original.OrderID),
			logging.F("step", step),
			logging.Err(err))
		return shipment.FinalizedShipment{}, pe
	}

	data, err := e.render(ctx, s, profile)
	if err != nil {
		return fail("render", err)
	}

	key := documents.InvoiceKey(s.ID, s.OrderID)
	if err := e.docs.Upload(ctx, key, bytes.NewReader(data), render.ContentType); err != nil {
		return fail("upload", err)
	}
	s.DocumentHandle = key

	if err := store.SetDocument(row.ID, s.ID, key); err != nil {
		return fail("store", err)
	}

	if e.recorder != nil {
		if err := e.recorder.Record(ctx, s); err != nil {
			logger.Warn("Failed to record shipment history",
				logging.F("shipment_id", s.ID), logging.Err(err))
		}
	}

	duration := time.Since(start)
	helper.SetRowStatus("emitted")
	helper.SetSuccess()
	if e.metrics != nil {
		e.metrics.RecordDocument("success", len(data))
		e.metrics.RecordRow(Stage, "emitted", duration.Seconds())
	}
	logger.Debug("Invoice stored",
		logging.F("row_id", row.ID),
		logging.F("order_id", row.Original.OrderID),
		logging.F("shipment_id", s.ID),
		logging.F("handle", key),
		logging.F("bytes", len(data)),
		logging.F("duration", duration))

	return s, nil
}

func (e *Emitter) render(ctx context.Context, s shipment.FinalizedShipment, profile shipment.ExporterProfile) ([]byte, error) {
	_, span := e.tracer.StartRenderSpan(ctx, s.ID)
	defer span.End()

	data, err := e.renderer.Render(s, profile)
	if err != nil {
		return nil, err
	}
	if e.verify != nil {
		if err := e.verify(data); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// Finalize builds the immutable shipment for an eligible row.
func Finalize(row shipment.ReviewRow, exporter shipment.ExporterProfile, id string, createdAt time.Time) shipment.FinalizedShipment {
	var enriched shipment.EnrichedFields
	if row.Enriched != nil {
		enriched = *row.Enriched
	}
	rec := row.Original

	origin := rec.OriginCountry
	if origin == "" {
		origin = exporter.DefaultOrigin
	}

	return shipment.FinalizedShipment{
		ID:           id,
		OrderID:      rec.OrderID,
		RowID:        row.ID,
		CreatedAt:    createdAt.UTC(),
		Currency:     shipment.Currency,
		PackageCount: shipment.DefaultPackageCount,
		Exporter: shipment.Party{
			Name:    exporter.CompanyName,
			Address: exporter.Address,
			Country: origin,
			TaxID:   exporter.TaxID,
		},
		Consignee: shipment.Party{
			Name:    rec.BuyerName,
			Address: rec.BuyerAddress,
			Country: rec.DestinationCountry,
		},
		Item: shipment.LineItem{
			Description:   rec.Description,
			HSCode:        enriched.HSCode,
			OriginCountry: origin,
			Quantity:      rec.Quantity,
			UnitPrice:     rec.UnitPrice,
			Material:      enriched.Material,
			IntendedUse:   enriched.IntendedUse,
		},
		GrossWeight:        enriched.GrossWeight,
		NetWeight:          enriched.NetWeight,
		Incoterm:           enriched.Incoterm,
		ExportReason:       enriched.ExportReason,
		RiskLevel:          enriched.RiskLevel,
		DutiesPayer:        shipment.DutiesPayerBuyer,
		ValidationWarnings: append([]string{}, row.Messages...),
		Status:             shipment.ShipmentSuccess,
	}
}
