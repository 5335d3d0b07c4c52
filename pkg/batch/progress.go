// Package batch provides progress tracking and background execution for the
// sequential bulk-import stages.
package batch

import (
	"math"
	"sync"
	"time"
)

// DefaultReportEvery is how many rows pass between progress callbacks.
const DefaultReportEvery = 3

// Progress status values.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Progress tracks the progress of one stage over a fixed number of rows.
type Progress struct {
	mu sync.RWMutex

	// Counts
	Stage        string
	Total        int
	Done         int
	OKCount      int
	WarningCount int
	FailedCount  int

	// Current state
	CurrentRow string
	Status     string

	// Timing
	StartedAt time.Time
	UpdatedAt time.Time

	reportEvery int
	lastPercent int

	// Callbacks
	onUpdate func(ProgressSnapshot)
}

// NewProgress creates a new progress tracker for total rows of the named stage.
func NewProgress(stage string, total int) *Progress {
	now := time.Now()
	return &Progress{
		Stage:       stage,
		Total:       total,
		Status:      StatusPending,
		StartedAt:   now,
		UpdatedAt:   now,
		reportEvery: DefaultReportEvery,
		lastPercent: -1,
	}
}

// SetOnUpdate sets a callback invoked synchronously, in order, on each reported update.
func (p *Progress) SetOnUpdate(fn func(ProgressSnapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// SetReportEvery coalesces row updates so the callback fires every n rows.
// The last row is always reported.
func (p *Progress) SetReportEvery(n int) {
	if n < 1 {
		n = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reportEvery = n
}

// Start marks the progress as running. It does not fire the callback.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = StatusRunning
	p.StartedAt = time.Now()
	p.UpdatedAt = p.StartedAt
}

// SetCurrentRow records which row is being processed.
func (p *Progress) SetCurrentRow(label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentRow = label
	p.UpdatedAt = time.Now()
}

// RecordOK counts a row that finished cleanly.
func (p *Progress) RecordOK() {
	p.record(func() { p.OKCount++ })
}

// RecordWarning counts a row that finished with warnings.
func (p *Progress) RecordWarning() {
	p.record(func() { p.WarningCount++ })
}

// RecordFailed counts a row that finished in error.
func (p *Progress) RecordFailed() {
	p.record(func() { p.FailedCount++ })
}

func (p *Progress) record(bump func()) {
	p.mu.Lock()
	bump()
	p.Done++
	p.UpdatedAt = time.Now()
	report := p.Done == p.Total || p.Done%p.reportEvery == 0
	fn, snap := p.prepareNotify(report)
	p.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// Complete marks the progress as finished and reports it.
func (p *Progress) Complete(success bool) {
	if success {
		p.finish(StatusCompleted)
		return
	}
	p.finish(StatusFailed)
}

// Cancel marks the progress as cancelled and reports it.
func (p *Progress) Cancel() {
	p.finish(StatusCancelled)
}

func (p *Progress) finish(status string) {
	p.mu.Lock()
	p.Status = status
	p.UpdatedAt = time.Now()
	fn, snap := p.prepareNotify(true)
	p.mu.Unlock()

	if fn != nil {
		fn(snap)
	}
}

// prepareNotify returns the callback and snapshot to deliver once the lock is released.
// Reports never go backwards. Must be called with lock held.
func (p *Progress) prepareNotify(report bool) (func(ProgressSnapshot), ProgressSnapshot) {
	if !report || p.onUpdate == nil {
		return nil, ProgressSnapshot{}
	}
	snap := p.snapshotLocked()
	if snap.Percent < p.lastPercent {
		snap.Percent = p.lastPercent
	}
	p.lastPercent = snap.Percent
	return p.onUpdate, snap
}

// Percent is round(100 × done / total). A stage with no rows is at 100.
func (p *Progress) Percent() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return percent(p.Done, p.Total)
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// Snapshot returns a read-only copy of the current progress.
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshotLocked()
}

func (p *Progress) snapshotLocked() ProgressSnapshot {
	elapsed := time.Since(p.StartedAt).Seconds()
	var estimatedRemaining *float64
	if p.Done > 0 && p.Done < p.Total {
		rate := elapsed / float64(p.Done)
		est := rate * float64(p.Total-p.Done)
		estimatedRemaining = &est
	}

	return ProgressSnapshot{
		Stage:                     p.Stage,
		Total:                     p.Total,
		Done:                      p.Done,
		OKCount:                   p.OKCount,
		WarningCount:              p.WarningCount,
		FailedCount:               p.FailedCount,
		Percent:                   percent(p.Done, p.Total),
		CurrentRow:                p.CurrentRow,
		Status:                    p.Status,
		StartedAt:                 p.StartedAt,
		ElapsedSeconds:            elapsed,
		EstimatedRemainingSeconds: estimatedRemaining,
	}
}

// ProgressSnapshot is an immutable snapshot of progress state.
type ProgressSnapshot struct {
	Stage                     string    `json:"stage"`
	Total                     int       `json:"total"`
	Done                      int       `json:"done"`
	OKCount                   int       `json:"ok"`
	WarningCount              int       `json:"warning"`
	FailedCount               int       `json:"failed"`
	Percent                   int       `json:"percent"`
	CurrentRow                string    `json:"current_row,omitempty"`
	Status                    string    `json:"status"`
	StartedAt                 time.Time `json:"started_at"`
	ElapsedSeconds            float64   `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64  `json:"estimated_remaining_seconds,omitempty"`
}
