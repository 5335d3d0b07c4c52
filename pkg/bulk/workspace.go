// Package bulk owns the state of one bulk import: the parsed records, the
// review rows, the running stage task and the workflow step. A Workspace is
// held by a CLI run or by the HTTP server and is never shared through globals.
package bulk

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/batch"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/documents"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/emission"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/enrichment/pipeline"
	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/events"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/export"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest/tabular"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/logging"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/review"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/session"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Step is the workflow position of a Workspace.
type Step string

const (
	StepUpload     Step = "upload"
	StepEnriching  Step = "enriching"
	StepReview     Step = "review"
	StepGenerating Step = "generating"
	StepComplete   Step = "complete"
)

// Status is a point-in-time view of a Workspace.
type Status struct {
	Step     Step                       `json:"step" yaml:"step"`
	ImportID string                     `json:"import_id,omitempty" yaml:"import_id,omitempty"`
	Running  bool                       `json:"running" yaml:"running"`
	Percent  int                        `json:"percent" yaml:"percent"`
	Done     int                        `json:"done" yaml:"done"`
	Total    int                        `json:"total" yaml:"total"`
	Rows     int                        `json:"rows" yaml:"rows"`
	Counts   map[shipment.RowStatus]int `json:"counts,omitempty" yaml:"counts,omitempty"`
	Emitted  int                        `json:"emitted,omitempty" yaml:"emitted,omitempty"`
	Error    string                     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Workspace drives records through enrichment, review, emission and export.
type Workspace struct {
	pipeline  *pipeline.Pipeline
	emitter   *emission.Emitter
	identity  session.Identity
	exporter  *export.Exporter
	publisher *events.Publisher
	listeners []func(batch.ProgressSnapshot)
	origin    string
	newID     func() string
	logger    logging.Logger

	mu       sync.Mutex
	step     Step
	importID string
	records  []shipment.RawOrderRecord
	store    *review.Store
	task     *batch.Task
	result   emission.Result
	lastErr  error
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *Workspace) {
		w.logger = logger
	}
}

// WithPublisher announces stage progress and completion on Redis.
func WithPublisher(p *events.Publisher) Option {
	return func(w *Workspace) {
		w.publisher = p
	}
}

// WithProgressListener adds a callback for every reported progress update.
func WithProgressListener(fn func(batch.ProgressSnapshot)) Option {
	return func(w *Workspace) {
		w.listeners = append(w.listeners, fn)
	}
}

// WithDefaultOrigin sets the origin used when neither the file nor the signed-in profile has one.
func WithDefaultOrigin(origin string) Option {
	return func(w *Workspace) {
		w.origin = origin
	}
}

// WithIDGenerator sets how import ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(w *Workspace) {
		w.newID = gen
	}
}

// NewWorkspace creates an empty Workspace at StepUpload.
func NewWorkspace(p *pipeline.Pipeline, e *emission.Emitter, identity session.Identity, docs documents.Store, opts ...Option) *Workspace {
	w := &Workspace{
		pipeline: p,
		emitter:  e,
		identity: identity,
		newID:    uuid.NewString,
		logger:   logging.MustGlobal(),
		step:     StepUpload,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(logging.F("component", "workspace"))
	w.exporter = export.NewExporter(identity, docs, w.logger)
	return w
}

func (w *Workspace) busyLocked() bool {
	return w.task != nil && !w.task.IsDone()
}

func (w *Workspace) errBusy() error {
	return fmt.Errorf("%s in progress: %w", w.step, tderrors.ErrInvalidState)
}

// defaultOrigin prefers the signed-in exporter's origin.
func (w *Workspace) defaultOrigin() string {
	if p, ok := w.identity.Current(); ok && p.DefaultOrigin != "" {
		return p.DefaultOrigin
	}
	return w.origin
}

// Import parses an uploaded file and starts enrichment on the result.
func (w *Workspace) Import(ctx context.Context, filename string, data []byte) (*batch.Task, error) {
	format := tabular.DetectFormat(filename, data)
	records, err := ingest.ParseAndIngest(data, format, ingest.Options{DefaultOrigin: w.defaultOrigin()})
	if err != nil {
		return nil, err
	}
	w.logger.Info("Parsed import",
		logging.F("filename", filename),
		logging.F("format", string(format)),
		logging.F("rows", len(records)))
	return w.Enrich(ctx, records)
}

// Enrich starts the enrichment task for records, replacing any earlier batch.
func (w *Workspace) Enrich(ctx context.Context, records []shipment.RawOrderRecord) (*batch.Task, error) {
	if len(records) == 0 {
		return nil, ingest.ErrNoValidRows
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busyLocked() {
		return nil, w.errBusy()
	}

	w.importID = w.newID()
	w.records = records
	w.store = nil
	w.result = emission.Result{}
	w.lastErr = nil
	w.step = StepEnriching

	ctx = context.WithValue(ctx, logging.ImportIDKey, w.importID)
	progress := w.newProgress(ctx, pipeline.Stage, len(records))
	w.task = batch.Go(ctx, progress, func(ctx context.Context, progress *batch.Progress) error {
		rows, err := w.pipeline.Run(ctx, records, progress)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.store = review.NewStore(rows)
		w.step = StepReview
		w.lastErr = err
		return err
	})
	return w.task, nil
}

// Generate starts the emission task over the reviewed rows.
func (w *Workspace) Generate(ctx context.Context) (*batch.Task, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busyLocked() {
		return nil, w.errBusy()
	}
	if w.store == nil || (w.step != StepReview && w.step != StepComplete) {
		return nil, fmt.Errorf("nothing to generate at step %s: %w", w.step, tderrors.ErrInvalidState)
	}

	eligible := 0
	for _, row := range w.store.Rows() {
		if emission.Eligible(row) {
			eligible++
		}
	}

	exporter, _ := w.identity.Current()
	store := w.store
	w.step = StepGenerating
	w.lastErr = nil

	ctx = context.WithValue(ctx, logging.ImportIDKey, w.importID)
	progress := w.newProgress(ctx, emission.Stage, eligible)
	w.task = batch.Go(ctx, progress, func(ctx context.Context, progress *batch.Progress) error {
		result, err := w.emitter.Emit(ctx, store, exporter, progress)

		w.mu.Lock()
		defer w.mu.Unlock()
		w.result = result
		w.step = StepComplete
		w.lastErr = err
		return err
	})
	return w.task, nil
}

func (w *Workspace) newProgress(ctx context.Context, stage string, total int) *batch.Progress {
	progress := batch.NewProgress(stage, total)

	hooks := append([]func(batch.ProgressSnapshot){}, w.listeners...)
	if w.publisher != nil {
		hooks = append(hooks, w.publisher.ProgressHook(ctx, w.importID))
	}
	if len(hooks) > 0 {
		progress.SetOnUpdate(func(snap batch.ProgressSnapshot) {
			for _, h := range hooks {
				h(snap)
			}
		})
	}
	return progress
}

// Cancel stops the running task between rows. It is a no-op when idle.
func (w *Workspace) Cancel() {
	w.mu.Lock()
	task := w.task
	w.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// Wait blocks until the current task, if any, returns.
func (w *Workspace) Wait() error {
	w.mu.Lock()
	task := w.task
	w.mu.Unlock()
	if task == nil {
		return nil
	}
	return task.Wait()
}

// Reset cancels any running task and returns to StepUpload.
func (w *Workspace) Reset() {
	w.Cancel()
	_ = w.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	w.step = StepUpload
	w.importID = ""
	w.records = nil
	w.store = nil
	w.task = nil
	w.result = emission.Result{}
	w.lastErr = nil
	w.logger.Info("Workspace reset")
}

// Step returns the current workflow step.
func (w *Workspace) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Status returns a snapshot of the workspace.
func (w *Workspace) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Status{
		Step:     w.step,
		ImportID: w.importID,
		Running:  w.busyLocked(),
		Emitted:  w.result.Emitted,
	}
	if w.task != nil {
		snap := w.task.Progress().Snapshot()
		st.Percent = snap.Percent
		st.Done = snap.Done
		st.Total = snap.Total
	}
	if w.store != nil {
		st.Rows = w.store.Len()
		st.Counts = w.store.Counts()
	}
	if w.lastErr != nil {
		st.Error = w.lastErr.Error()
	}
	return st
}

// Result returns the outcome of the last emission.
func (w *Workspace) Result() emission.Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *Workspace) reviewStore() (*review.Store, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busyLocked() {
		return nil, w.errBusy()
	}
	if w.store == nil {
		return nil, fmt.Errorf("no rows imported: %w", tderrors.ErrInvalidState)
	}
	return w.store, nil
}

// Rows returns the filtered review rows.
func (w *Workspace) Rows(search string, status review.StatusFilter) ([]shipment.ReviewRow, error) {
	store, err := w.reviewStore()
	if err != nil {
		return nil, err
	}
	return store.Filter(search, status), nil
}

// UpdateField applies a manual correction. Edits are refused while a task runs.
func (w *Workspace) UpdateField(id int, field review.Field, value string) (bool, error) {
	store, err := w.reviewStore()
	if err != nil {
		return false, err
	}
	return store.UpdateField(id, field, value)
}

// ExportArchive writes the invoice archive for the current rows.
func (w *Workspace) ExportArchive(ctx context.Context, out io.Writer) (int, error) {
	store, err := w.reviewStore()
	if err != nil {
		return 0, err
	}
	return w.exporter.ExportArchive(ctx, store.Rows(), out)
}

// ExportSummary writes the CSV summary for the current rows.
func (w *Workspace) ExportSummary(ctx context.Context, out io.Writer) error {
	store, err := w.reviewStore()
	if err != nil {
		return err
	}
	return w.exporter.ExportSummary(ctx, store.Rows(), out)
}
