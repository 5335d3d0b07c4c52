// Package review holds the enriched rows of one import in memory and applies
// human corrections to them.
package review

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// StatusFilter selects rows by status. StatusAll matches every row.
type StatusFilter string

// StatusAll disables status filtering.
const StatusAll StatusFilter = "all"

// ParseStatusFilter accepts "all" or a row status, case-insensitively.
func ParseStatusFilter(s string) (StatusFilter, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, string(StatusAll)) {
		return StatusAll, nil
	}
	for _, st := range []shipment.RowStatus{shipment.StatusOK, shipment.StatusWarning, shipment.StatusError} {
		if strings.EqualFold(s, string(st)) {
			return StatusFilter(st), nil
		}
	}
	return "", fmt.Errorf("%w: unknown status filter %q", tderrors.ErrValidation, s)
}

func (f StatusFilter) matches(status shipment.RowStatus) bool {
	return f == StatusAll || f == "" || shipment.RowStatus(f) == status
}

// Field names an editable enriched field.
type Field string

const (
	FieldHSCode       Field = "hs_code"
	FieldGrossWeight  Field = "gross_weight"
	FieldNetWeight    Field = "net_weight"
	FieldIncoterm     Field = "incoterm"
	FieldExportReason Field = "export_reason"
	FieldMaterial     Field = "material"
	FieldIntendedUse  Field = "intended_use"
	FieldRiskLevel    Field = "risk_level"
)

// Fields lists every editable field.
var Fields = []Field{
	FieldHSCode, FieldGrossWeight, FieldNetWeight, FieldIncoterm,
	FieldExportReason, FieldMaterial, FieldIntendedUse, FieldRiskLevel,
}

// Store is a mutex-guarded collection of review rows addressed by row id.
type Store struct {
	mu    sync.RWMutex
	rows  map[int]*shipment.ReviewRow
	order []int
}

// NewStore copies rows into a new store, keeping their order.
func NewStore(rows []shipment.ReviewRow) *Store {
	s := &Store{rows: make(map[int]*shipment.ReviewRow, len(rows))}
	for _, r := range rows {
		if _, dup := s.rows[r.ID]; dup {
			continue
		}
		c := r.Clone()
		s.rows[r.ID] = &c
		s.order = append(s.order, r.ID)
	}
	return s
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Rows returns copies of all rows in import order.
func (s *Store) Rows() []shipment.ReviewRow {
	return s.Filter("", StatusAll)
}

// Get returns a copy of one row.
func (s *Store) Get(id int) (shipment.ReviewRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return shipment.ReviewRow{}, false
	}
	return r.Clone(), true
}

// Filter returns copies of the rows whose order id or description contains
// search (case-insensitive; empty matches all) and whose status matches status.
func (s *Store) Filter(search string, status StatusFilter) []shipment.ReviewRow {
	needle := strings.ToLower(strings.TrimSpace(search))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]shipment.ReviewRow, 0, len(s.order))
	for _, id := range s.order {
		r := s.rows[id]
		if !status.matches(r.Status) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(r.Original.OrderID), needle) &&
			!strings.Contains(strings.ToLower(r.Original.Description), needle) {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}

// Counts returns the number of rows per status.
func (s *Store) Counts() map[shipment.RowStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[shipment.RowStatus]int{
		shipment.StatusOK:      0,
		shipment.StatusWarning: 0,
		shipment.StatusError:   0,
	}
	for _, r := range s.rows {
		counts[r.Status]++
	}
	return counts
}

// UpdateField applies a manual correction. It returns (false, nil) when the row
// does not exist or has no enriched data. A value that does not parse for the
// field returns an ErrValidation error and leaves the row untouched. On success
// the row becomes OK, its messages are cleared, and it is marked confirmed.
func (s *Store) UpdateField(id int, field Field, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rows[id]
	if !ok || r.Enriched == nil {
		return false, nil
	}

	updated := *r.Enriched
	if err := setField(&updated, field, value); err != nil {
		return false, err
	}

	r.Enriched = &updated
	r.Status = shipment.StatusOK
	r.Messages = []string{}
	r.ManuallyConfirmed = true
	return true, nil
}

func setField(f *shipment.EnrichedFields, field Field, value string) error {
	value = strings.TrimSpace(value)
	invalid := func(err error) error {
		return fmt.Errorf("%w: %s: %v", tderrors.ErrValidation, field, err)
	}

	switch field {
	case FieldHSCode:
		f.HSCode = value
	case FieldMaterial:
		f.Material = value
	case FieldIntendedUse:
		f.IntendedUse = value
	case FieldGrossWeight, FieldNetWeight:
		w, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return invalid(err)
		}
		if w < 0 {
			return invalid(fmt.Errorf("weight must not be negative"))
		}
		if field == FieldGrossWeight {
			f.GrossWeight = w
		} else {
			f.NetWeight = w
		}
	case FieldIncoterm:
		v, err := shipment.ParseIncoterm(value)
		if err != nil {
			return invalid(err)
		}
		f.Incoterm = v
	case FieldExportReason:
		v, err := shipment.ParseExportReason(value)
		if err != nil {
			return invalid(err)
		}
		f.ExportReason = v
	case FieldRiskLevel:
		v, err := shipment.ParseRiskLevel(value)
		if err != nil {
			return invalid(err)
		}
		f.RiskLevel = v
	default:
		return fmt.Errorf("%w: unknown field %q", tderrors.ErrValidation, field)
	}
	return nil
}

// SetDocument records a successful emission on a row.
func (s *Store) SetDocument(id int, shipmentID, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("row %d: %w", id, tderrors.ErrNotFound)
	}
	r.ShipmentID = shipmentID
	r.DocumentHandle = handle
	r.EmissionError = ""
	return nil
}

// SetEmissionError records a failed emission on a row and clears any handle.
func (s *Store) SetEmissionError(id int, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("row %d: %w", id, tderrors.ErrNotFound)
	}
	r.EmissionError = msg
	r.DocumentHandle = ""
	r.ShipmentID = ""
	return nil
}

// ClearDocuments drops every handle and emission error, ahead of a new emission run.
func (s *Store) ClearDocuments() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		r.DocumentHandle = ""
		r.ShipmentID = ""
		r.EmissionError = ""
	}
}
