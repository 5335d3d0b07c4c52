package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tderrors "github.com/otherjamesbrown/tradedoc-cli/pkg/errors"
	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

func fixtureRows() []shipment.ReviewRow {
	enriched := func(hs string) *shipment.EnrichedFields {
		return &shipment.EnrichedFields{
			HSCode:       hs,
			GrossWeight:  2,
			NetWeight:    1.5,
			Incoterm:     shipment.IncotermDAP,
			ExportReason: shipment.ExportReasonSale,
			Material:     "Cotton",
			IntendedUse:  "Apparel",
			RiskLevel:    shipment.RiskLow,
		}
	}
	return []shipment.ReviewRow{
		{ID: 0, Original: shipment.RawOrderRecord{OrderID: "ORD-1001", Description: "Cotton T-Shirt", DestinationCountry: "UK"},
			Enriched: enriched("6109.10"), Status: shipment.StatusOK, Messages: []string{}},
		{ID: 1, Original: shipment.RawOrderRecord{OrderID: "ORD-1002", Description: "Ceramic Vase", DestinationCountry: "France"},
			Enriched: enriched(""), Status: shipment.StatusError, Messages: []string{shipment.MsgUnclassified}},
		{ID: 2, Original: shipment.RawOrderRecord{OrderID: "ORD-1003", Description: "Bluetooth Speaker"},
			Status: shipment.StatusError, Messages: []string{shipment.MsgServiceFailed}},
		{ID: 3, Original: shipment.RawOrderRecord{OrderID: "X-9", Description: "Vase stand", DestinationCountry: "Peru"},
			Enriched: enriched("4420.10"), Status: shipment.StatusWarning, Messages: []string{"Weight looks low"}},
	}
}

func ids(rows []shipment.ReviewRow) []int {
	out := make([]int, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestStore_Filter(t *testing.T) {
	s := NewStore(fixtureRows())

	tests := []struct {
		name   string
		search string
		status StatusFilter
		want   []int
	}{
		{"everything", "", StatusAll, []int{0, 1, 2, 3}},
		{"empty filter means all", "", "", []int{0, 1, 2, 3}},
		{"by order id", "ord-100", StatusAll, []int{0, 1, 2}},
		{"by description", "VASE", StatusAll, []int{1, 3}},
		{"by status", "", StatusFilter(shipment.StatusError), []int{1, 2}},
		{"search and status", "vase", StatusFilter(shipment.StatusWarning), []int{3}},
		{"no match", "lamp", StatusAll, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(s.Filter(tt.search, tt.status)))
		})
	}
}

func TestStore_FilterReturnsCopies(t *testing.T) {
	s := NewStore(fixtureRows())

	rows := s.Filter("", StatusAll)
	rows[0].Enriched.HSCode = "tampered"
	rows[0].Messages = append(rows[0].Messages, "tampered")

	got, ok := s.Get(0)
	require.True(t, ok)
	assert.Equal(t, "6109.10", got.Enriched.HSCode)
	assert.Empty(t, got.Messages)
}

func TestParseStatusFilter(t *testing.T) {
	f, err := ParseStatusFilter("warning")
	require.NoError(t, err)
	assert.Equal(t, StatusFilter(shipment.StatusWarning), f)

	f, err = ParseStatusFilter("ALL")
	require.NoError(t, err)
	assert.Equal(t, StatusAll, f)

	_, err = ParseStatusFilter("pending")
	assert.True(t, tderrors.IsValidation(err))
}

func TestStore_UpdateField_ManualEditLaw(t *testing.T) {
	tests := []struct {
		field Field
		value string
		check func(t *testing.T, f *shipment.EnrichedFields)
	}{
		{FieldHSCode, "6912.00", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, "6912.00", f.HSCode) }},
		{FieldGrossWeight, "3.25", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, 3.25, f.GrossWeight) }},
		{FieldNetWeight, "1", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, 1.0, f.NetWeight) }},
		{FieldIncoterm, "ddp", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, shipment.IncotermDDP, f.Incoterm) }},
		{FieldExportReason, "gift", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, shipment.ExportReasonGift, f.ExportReason) }},
		{FieldMaterial, "Porcelain", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, "Porcelain", f.Material) }},
		{FieldIntendedUse, "Decor", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, "Decor", f.IntendedUse) }},
		{FieldRiskLevel, "HIGH", func(t *testing.T, f *shipment.EnrichedFields) { assert.Equal(t, shipment.RiskHigh, f.RiskLevel) }},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			s := NewStore(fixtureRows())
			before, _ := s.Get(3)

			ok, err := s.UpdateField(3, tt.field, tt.value)
			require.NoError(t, err)
			require.True(t, ok)

			after, _ := s.Get(3)
			assert.Equal(t, shipment.StatusOK, after.Status)
			assert.Empty(t, after.Messages)
			assert.True(t, after.ManuallyConfirmed)
			tt.check(t, after.Enriched)

			// Every other field is unchanged.
			restored := *after.Enriched
			require.NoError(t, setField(&restored, tt.field, fieldValue(before.Enriched, tt.field)))
			assert.Equal(t, *before.Enriched, restored)
			assert.Equal(t, before.Original, after.Original)
		})
	}
}

func fieldValue(f *shipment.EnrichedFields, field Field) string {
	switch field {
	case FieldHSCode:
		return f.HSCode
	case FieldGrossWeight:
		return "2"
	case FieldNetWeight:
		return "1.5"
	case FieldIncoterm:
		return string(f.Incoterm)
	case FieldExportReason:
		return string(f.ExportReason)
	case FieldMaterial:
		return f.Material
	case FieldIntendedUse:
		return f.IntendedUse
	default:
		return string(f.RiskLevel)
	}
}

func TestStore_UpdateField_FixesUnclassifiedRow(t *testing.T) {
	s := NewStore(fixtureRows())

	ok, err := s.UpdateField(1, FieldHSCode, "6913.90")
	require.NoError(t, err)
	require.True(t, ok)

	row, _ := s.Get(1)
	assert.Equal(t, shipment.StatusOK, row.Status)
	assert.Empty(t, row.Messages)
	assert.Equal(t, "6913.90", row.Enriched.HSCode)
	assert.Equal(t, 2, s.Counts()[shipment.StatusOK])
	assert.Equal(t, 1, s.Counts()[shipment.StatusError])
}

func TestStore_UpdateField_NoOps(t *testing.T) {
	s := NewStore(fixtureRows())

	ok, err := s.UpdateField(42, FieldHSCode, "1")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateField(2, FieldHSCode, "1")
	assert.NoError(t, err)
	assert.False(t, ok)

	row, _ := s.Get(2)
	assert.Equal(t, shipment.StatusError, row.Status)
	assert.Nil(t, row.Enriched)
	assert.False(t, row.ManuallyConfirmed)
}

func TestStore_UpdateField_RejectsBadValues(t *testing.T) {
	tests := []struct {
		field Field
		value string
	}{
		{FieldGrossWeight, "heavy"},
		{FieldNetWeight, "-1"},
		{FieldIncoterm, "XYZ"},
		{FieldExportReason, "Theft"},
		{FieldRiskLevel, "Extreme"},
		{Field("colour"), "red"},
	}

	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			s := NewStore(fixtureRows())
			before, _ := s.Get(3)

			ok, err := s.UpdateField(3, tt.field, tt.value)
			assert.False(t, ok)
			assert.True(t, tderrors.IsValidation(err))

			after, _ := s.Get(3)
			assert.Equal(t, before, after)
		})
	}
}

func TestStore_Counts(t *testing.T) {
	s := NewStore(fixtureRows())
	assert.Equal(t, map[shipment.RowStatus]int{
		shipment.StatusOK:      1,
		shipment.StatusWarning: 1,
		shipment.StatusError:   2,
	}, s.Counts())
	assert.Equal(t, 4, s.Len())
}

func TestStore_Documents(t *testing.T) {
	s := NewStore(fixtureRows())

	require.NoError(t, s.SetDocument(0, "ship-1", "invoices/ship-1/ORD-1001_invoice.pdf"))
	row, _ := s.Get(0)
	assert.Equal(t, "ship-1", row.ShipmentID)
	assert.Equal(t, "invoices/ship-1/ORD-1001_invoice.pdf", row.DocumentHandle)

	require.NoError(t, s.SetEmissionError(0, "render failed"))
	row, _ = s.Get(0)
	assert.Empty(t, row.DocumentHandle)
	assert.Equal(t, "render failed", row.EmissionError)

	s.ClearDocuments()
	row, _ = s.Get(0)
	assert.Empty(t, row.EmissionError)

	assert.True(t, tderrors.IsNotFound(s.SetDocument(99, "x", "y")))
	assert.True(t, tderrors.IsNotFound(s.SetEmissionError(99, "x")))
}

func TestNewStore_CopiesInput(t *testing.T) {
	rows := fixtureRows()
	s := NewStore(rows)
	rows[0].Enriched.HSCode = "changed"

	row, _ := s.Get(0)
	assert.Equal(t, "6109.10", row.Enriched.HSCode)
}
