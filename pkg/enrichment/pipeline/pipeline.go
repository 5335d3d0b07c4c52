// Package pipeline runs the row enrichment stage: classify each order with the
// model, validate it, apply the hard customs rules, and assign a review status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/ai"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/observability"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Stage is the progress and metrics label for this stage.
const Stage = "enrich"

// DefaultRowDelay is the pause between consecutive rows.
const DefaultRowDelay = 200 * time.Millisecond

// Pipeline enriches order rows one at a time.
type Pipeline struct {
	enricher    ai.Enricher
	validator   ai.Validator
	sleeper     batch.Sleeper
	rowDelay    time.Duration
	reportEvery int
	dutiesPayer shipment.DutiesPayer
	metrics     *observability.BulkMetrics
	tracer      *observability.Tracer
	logger      logging.Logger
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithSleeper replaces the timer used between rows.
func WithSleeper(s batch.Sleeper) Option {
	return func(p *Pipeline) {
		p.sleeper = s
	}
}

// WithRowDelay sets the pause between rows.
func WithRowDelay(d time.Duration) Option {
	return func(p *Pipeline) {
		p.rowDelay = d
	}
}

// WithReportEvery sets how many rows pass between progress reports.
func WithReportEvery(n int) Option {
	return func(p *Pipeline) {
		p.reportEvery = n
	}
}

// WithDutiesPayer sets the duties-payer hint sent with every row.
func WithDutiesPayer(payer shipment.DutiesPayer) Option {
	return func(p *Pipeline) {
		p.dutiesPayer = payer
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *observability.BulkMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// New creates a new enrichment pipeline.
func New(enricher ai.Enricher, validator ai.Validator, opts ...Option) *Pipeline {
	p := &Pipeline{
		enricher:    enricher,
		validator:   validator,
		sleeper:     batch.TimerSleeper{},
		rowDelay:    DefaultRowDelay,
		reportEvery: batch.DefaultReportEvery,
		dutiesPayer: shipment.DutiesPayerBuyer,
		tracer:      observability.NewTracer(),
		logger:      logging.MustGlobal(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(logging.F("component", "enrichment_pipeline"))
	return p
}

// Run enriches records in order and returns one ReviewRow per record.
// Row failures never abort the run. When ctx is cancelled between rows, the
// unprocessed rows are marked Error and ctx's error is returned alongside the
// complete row set.
func (p *Pipeline) Run(ctx context.Context, records []shipment.RawOrderRecord, progress *batch.Progress) ([]shipment.ReviewRow, error) {
	if progress == nil {
		progress = batch.NewProgress(Stage, len(records))
	}
	progress.SetReportEvery(p.reportEvery)
	progress.Start()

	logger := p.logger.WithContext(ctx)
	ctx, span := p.tracer.StartBatchSpan(ctx, Stage, len(records))
	defer span.End()

	logger.Info("Starting enrichment", logging.F("rows", len(records)))
	start := time.Now()

	rows := make([]shipment.ReviewRow, 0, len(records))
	var cancelErr error

	for i, rec := range records {
		if cancelErr == nil {
			if err := ctx.Err(); err != nil {
				cancelErr = err
				logger.Warn("Enrichment cancelled", logging.F("remaining", len(records)-i))
			}
		}

		var row shipment.ReviewRow
		if cancelErr != nil {
			row = cancelledRow(rec)
		} else {
			progress.SetCurrentRow(rec.OrderID)
			row = p.processRow(ctx, logger, rec)
		}
		rows = append(rows, row)
		recordProgress(progress, row.Status)
		if p.metrics != nil {
			p.metrics.SetProgress(Stage, progress.Percent())
		}

		if cancelErr == nil && i < len(records)-1 {
			if err := p.sleeper.Sleep(ctx, p.rowDelay); err != nil && ctx.Err() != nil {
				cancelErr = ctx.Err()
				logger.Warn("Enrichment cancelled", logging.F("remaining", len(records)-i-1))
			}
		}
	}

	status := batch.StatusCompleted
	if cancelErr != nil {
		status = batch.StatusCancelled
		progress.Cancel()
	} else {
		progress.Complete(true)
	}
	if p.metrics != nil {
		p.metrics.RecordBatch(Stage, status, len(records))
	}

	snap := progress.Snapshot()
	logger.Info("Enrichment finished",
		logging.F("status", status),
		logging.F("ok", snap.OKCount),
		logging.F("warning", snap.WarningCount),
		logging.F("error", snap.FailedCount),
		logging.F("duration", time.Since(start)))

	return rows, cancelErr
}

// processRow runs enrich, validate and the hard rules for one record.
func (p *Pipeline) processRow(ctx context.Context, logger logging.Logger, rec shipment.RawOrderRecord) shipment.ReviewRow {
	start := time.Now()
	ctx, span := p.tracer.StartRowSpan(ctx, Stage, rec.Index, rec.OrderID)
	defer span.End()
	helper := observability.NewSpanHelper(span)

	row := shipment.ReviewRow{
		ID:       rec.Index,
		Original: rec,
		Status:   shipment.StatusOK,
		Messages: []string{},
	}

	fields, warnings, err := p.enrichAndValidate(ctx, rec)
	if err != nil {
		classified := tderrors.ClassifyError(err, failedStage(err))
		classified.RowID = rec.Index
		helper.SetError(classified, string(classified.Code), tderrors.IsErrorRetryable(classified))
		if p.metrics != nil {
			p.metrics.RecordRowError(Stage, string(classified.Code))
		}
		logger.Warn("Row enrichment failed",
			logging.F("row_id", rec.Index),
			logging.F("order_id", rec.OrderID),
			logging.F("error_code", string(classified.Code)),
			logging.F("stage", classified.Stage),
			logging.Err(err))

		row.Status = shipment.StatusError
		row.Messages = []string{shipment.MsgServiceFailed}
		p.finishRow(logger, helper, row, start)
		return row
	}

	row.Enriched = fields
	if warnings != nil {
		row.Status = shipment.StatusWarning
		row.Messages = warnings
	}
	applyHardRules(&row)

	p.finishRow(logger, helper, row, start)
	return row
}

func (p *Pipeline) finishRow(logger logging.Logger, helper *observability.SpanHelper, row shipment.ReviewRow, start time.Time) {
	duration := time.Since(start)
	helper.SetRowStatus(string(row.Status))
	if row.Status != shipment.StatusError {
		helper.SetSuccess()
	}
	if p.metrics != nil {
		p.metrics.RecordRow(Stage, string(row.Status), duration.Seconds())
	}
	logger.Debug("Row enriched",
		logging.F("row_id", row.ID),
		logging.F("order_id", row.Original.OrderID),
		logging.F("status", string(row.Status)),
		logging.F("messages", row.Messages),
		logging.F("duration", duration))
}

// stageError tags a model failure with the call that produced it.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return fmt.Sprintf("%s: %v", e.stage, e.err) }
func (e *stageError) Unwrap() error { return e.err }

func failedStage(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return Stage
}

// enrichAndValidate returns the merged fields and, when validation reports the
// record invalid, its warnings (never nil in that case).
func (p *Pipeline) enrichAndValidate(ctx context.Context, rec shipment.RawOrderRecord) (*shipment.EnrichedFields, []string, error) {
	var resp *ai.EnrichResponse
	err := p.callAI(ctx, "enrich", func(ctx context.Context) error {
		var err error
		resp, err = p.enricher.Enrich(ctx, ai.EnrichRequest{
			Description:        rec.Description,
			Quantity:           rec.Quantity,
			TotalValue:         rec.TotalValue(),
			OriginCountry:      rec.OriginCountry,
			DestinationCountry: rec.DestinationCountry,
			DutiesPayer:        p.dutiesPayer,
		})
		if err == nil && resp == nil {
			err = errors.New("empty enrichment response")
		}
		return err
	})
	if err != nil {
		return nil, nil, &stageError{stage: "enrich", err: err}
	}

	fields := p.fieldsFrom(resp)

	var result *ai.ValidationResult
	err = p.callAI(ctx, "validate", func(ctx context.Context) error {
		var err error
		result, err = p.validator.Validate(ctx, ai.NewValidateRequest(rec, fields))
		if err == nil && result == nil {
			err = errors.New("empty validation response")
		}
		return err
	})
	if err != nil {
		return nil, nil, &stageError{stage: "validate", err: err}
	}

	if result.Valid {
		return &fields, nil, nil
	}
	warnings := append([]string{}, result.Warnings...)
	if len(warnings) == 0 {
		warnings = []string{shipment.MsgPotentialMismatch}
	}
	return &fields, warnings, nil
}

func (p *Pipeline) callAI(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, span := p.tracer.StartAISpan(ctx, operation)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordAIOperation(operation, status, time.Since(start).Seconds())
	}
	if err != nil {
		observability.NewSpanHelper(span).SetError(err, string(tderrors.ClassifyError(err, operation).Code), false)
	}
	return err
}

// fieldsFrom maps a model response onto EnrichedFields, substituting defaults
// for enumerations the model left out or got wrong.
func (p *Pipeline) fieldsFrom(resp *ai.EnrichResponse) shipment.EnrichedFields {
	incoterm, err := shipment.ParseIncoterm(resp.Incoterm)
	if err != nil {
		incoterm = p.dutiesPayer.DefaultIncoterm()
	}
	reason, err := shipment.ParseExportReason(resp.ExportReason)
	if err != nil {
		reason = shipment.ExportReasonSale
	}
	risk, err := shipment.ParseRiskLevel(resp.RiskLevel)
	if err != nil {
		risk = shipment.RiskLow
	}

	return shipment.EnrichedFields{
		HSCode:       strings.TrimSpace(resp.HSCode),
		GrossWeight:  nonNegative(resp.GrossWeight),
		NetWeight:    nonNegative(resp.NetWeight),
		Incoterm:     incoterm,
		ExportReason: reason,
		Material:     strings.TrimSpace(resp.Material),
		IntendedUse:  strings.TrimSpace(resp.IntendedUse),
		RiskLevel:    risk,
	}
}

// applyHardRules escalates a row to Error when destination or HS code is
// missing. Each rule appends its own message.
func applyHardRules(row *shipment.ReviewRow) {
	if strings.TrimSpace(row.Original.DestinationCountry) == "" {
		row.Status = shipment.StatusError
		row.Messages = append(row.Messages, shipment.MsgMissingDestination)
	}
	if row.Enriched == nil || strings.TrimSpace(row.Enriched.HSCode) == "" {
		row.Status = shipment.StatusError
		row.Messages = append(row.Messages, shipment.MsgUnclassified)
	}
}

func cancelledRow(rec shipment.RawOrderRecord) shipment.ReviewRow {
	return shipment.ReviewRow{
		ID:       rec.Index,
		Original: rec,
		Status:   shipment.StatusError,
		Messages: []string{shipment.MsgCancelled},
	}
}

func recordProgress(progress *batch.Progress, status shipment.RowStatus) {
	switch status {
	case shipment.StatusOK:
		progress.RecordOK()
	case shipment.StatusWarning:
		progress.RecordWarning()
	default:
		progress.RecordFailed()
	}
}

func nonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}
