// Package ingest normalizes parsed spreadsheet records into RawOrderRecords
// using a declarative header-alias table.
package ingest

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/ingest/tabular"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Field is a RawOrderRecord attribute that can be resolved from a header.
type Field string

const (
	FieldOrderID      Field = "order_id"
	FieldBuyerName    Field = "buyer_name"
	FieldBuyerAddress Field = "buyer_address"
	FieldDescription  Field = "description"
	FieldQuantity     Field = "quantity"
	FieldUnitPrice    Field = "unit_price"
	FieldOrigin       Field = "origin"
	FieldDestination  Field = "destination"
)

// FieldAliases lists, per field, the accepted header names in priority order.
var FieldAliases = map[Field][]string{
	FieldOrderID:      {"order_id", "id", "orderid"},
	FieldBuyerName:    {"buyer_name", "buyer", "name"},
	FieldBuyerAddress: {"buyer_address", "address"},
	FieldDescription:  {"desc", "description", "product", "item"},
	FieldQuantity:     {"qty", "quantity"},
	FieldUnitPrice:    {"unit_price", "price", "value"},
	FieldOrigin:       {"origin", "origin_country"},
	FieldDestination:  {"dest", "destination", "country"},
}

// Defaults applied when a field cannot be resolved.
const (
	DefaultBuyerName    = "Guest Buyer"
	DefaultBuyerAddress = "Unknown Address"
	DefaultDescription  = "General Merchandise"
	DefaultQuantity     = 1.0
	DefaultUnitPrice    = 10.0
	DefaultOrigin       = "USA"
)

// ErrNoValidRows is returned when no row survives filtering.
var ErrNoValidRows = tderrors.NewPipelineError(tderrors.ErrIngestionEmpty, "ingest",
	"no valid rows found in file", tderrors.ErrValidation)

// Options tune ingestion defaults.
type Options struct {
	// DefaultOrigin replaces DefaultOrigin when the origin column is absent.
	DefaultOrigin string
}

var fold = cases.Fold()

// Row wraps a record with case-folded keys for alias lookup.
type Row struct {
	values map[string]string
}

// NewRow indexes rec by case-folded header.
func NewRow(rec tabular.Record) Row {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(map[string]string, len(rec))
	for _, k := range keys {
		key := fold.String(strings.TrimSpace(k))
		if prev, dup := values[key]; dup && prev != "" {
			continue
		}
		values[key] = rec[k]
	}
	return Row{values: values}
}

// Resolve returns the first non-empty value among field's aliases.
func (r Row) Resolve(field Field) (string, bool) {
	for _, alias := range FieldAliases[field] {
		if v := strings.TrimSpace(r.values[fold.String(alias)]); v != "" {
			return v, true
		}
	}
	return "", false
}

func (r Row) resolveOr(field Field, def string) string {
	if v, ok := r.Resolve(field); ok {
		return v
	}
	return def
}

// Ingest resolves each record into a RawOrderRecord. Rows whose description is
// empty or is itself a header token are dropped. Survivors are indexed from zero
// in source order. It fails with ErrNoValidRows when nothing survives.
func Ingest(records []tabular.Record, opts Options) ([]shipment.RawOrderRecord, error) {
	origin := strings.TrimSpace(opts.DefaultOrigin)
	if origin == "" {
		origin = DefaultOrigin
	}

	out := make([]shipment.RawOrderRecord, 0, len(records))
	for pos, rec := range records {
		row := NewRow(rec)

		desc := row.resolveOr(FieldDescription, DefaultDescription)
		if desc == "" || isHeaderToken(desc) {
			continue
		}

		out = append(out, shipment.RawOrderRecord{
			Index:              len(out),
			OrderID:            row.resolveOr(FieldOrderID, fmt.Sprintf("ID-%d", pos+1)),
			BuyerName:          row.resolveOr(FieldBuyerName, DefaultBuyerName),
			BuyerAddress:       row.resolveOr(FieldBuyerAddress, DefaultBuyerAddress),
			Description:        desc,
			Quantity:           parseQuantity(row),
			UnitPrice:          parseUnitPrice(row),
			OriginCountry:      row.resolveOr(FieldOrigin, origin),
			DestinationCountry: row.resolveOr(FieldDestination, ""),
		})
	}

	if len(out) == 0 {
		return nil, ErrNoValidRows
	}
	return out, nil
}

// ParseAndIngest runs the tabular parser and Ingest in one step.
func ParseAndIngest(data []byte, format tabular.Format, opts Options) ([]shipment.RawOrderRecord, error) {
	records, err := tabular.Parse(data, format)
	if err != nil {
		return nil, tderrors.NewPipelineError(tderrors.ErrIngestionEmpty, "parse", err.Error(), err)
	}
	return Ingest(records, opts)
}

// HeaderToken is the description header of the template. A row carrying it as
// its description is a repeated header, not goods.
const HeaderToken = "desc"

func isHeaderToken(s string) bool {
	return fold.String(strings.TrimSpace(s)) == HeaderToken
}

func parseQuantity(row Row) float64 {
	v, ok := row.Resolve(FieldQuantity)
	if !ok {
		return DefaultQuantity
	}
	n, err := parseNumber(v)
	if err != nil || n <= 0 {
		return DefaultQuantity
	}
	return n
}

func parseUnitPrice(row Row) float64 {
	v, ok := row.Resolve(FieldUnitPrice)
	if !ok {
		return DefaultUnitPrice
	}
	n, err := parseNumber(v)
	if err != nil || n < 0 {
		return DefaultUnitPrice
	}
	return n
}

// parseNumber accepts plain decimals plus a leading currency symbol and thousands commas.
func parseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£¥")
	s = strings.ReplaceAll(s, ",", "")
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number: %q", s)
	}
	return n, nil
}
