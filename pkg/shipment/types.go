// Package shipment defines the records that flow through a bulk import:
// raw order rows, AI-enriched customs fields, review rows, and the finalized
// shipment handed to invoice rendering.
package shipment

import (
	"fmt"
	"strings"
	"time"
)

// Currency is the fixed invoice currency for bulk imports.
const Currency = "USD"

// DefaultPackageCount is the package count assumed for every bulk row.
const DefaultPackageCount = 1

// Incoterm is the delivery term on an invoice.
type Incoterm string

const (
	IncotermDAP Incoterm = "DAP"
	IncotermDDP Incoterm = "DDP"
	IncotermFOB Incoterm = "FOB"
	IncotermEXW Incoterm = "EXW"
	IncotermCIF Incoterm = "CIF"
)

// Incoterms lists every accepted Incoterm.
var Incoterms = []Incoterm{IncotermDAP, IncotermDDP, IncotermFOB, IncotermEXW, IncotermCIF}

// Valid reports whether i is one of Incoterms.
func (i Incoterm) Valid() bool {
	for _, v := range Incoterms {
		if i == v {
			return true
		}
	}
	return false
}

// ParseIncoterm parses s case-insensitively.
func ParseIncoterm(s string) (Incoterm, error) {
	i := Incoterm(strings.ToUpper(strings.TrimSpace(s)))
	if !i.Valid() {
		return "", fmt.Errorf("unknown incoterm %q", s)
	}
	return i, nil
}

// ExportReason is the declared reason for export.
type ExportReason string

const (
	ExportReasonSale   ExportReason = "Sale"
	ExportReasonSample ExportReason = "Sample"
	ExportReasonGift   ExportReason = "Gift"
	ExportReasonRepair ExportReason = "Repair"
	ExportReasonReturn ExportReason = "Return"
)

// ExportReasons lists every accepted ExportReason.
var ExportReasons = []ExportReason{ExportReasonSale, ExportReasonSample, ExportReasonGift, ExportReasonRepair, ExportReasonReturn}

// Valid reports whether r is one of ExportReasons.
func (r ExportReason) Valid() bool {
	for _, v := range ExportReasons {
		if r == v {
			return true
		}
	}
	return false
}

// ParseExportReason parses s case-insensitively.
func ParseExportReason(s string) (ExportReason, error) {
	trimmed := strings.TrimSpace(s)
	for _, v := range ExportReasons {
		if strings.EqualFold(trimmed, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown export reason %q", s)
}

// RiskLevel is a coarse compliance risk estimate.
type RiskLevel string

const (
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// RiskLevels lists every accepted RiskLevel.
var RiskLevels = []RiskLevel{RiskLow, RiskMedium, RiskHigh}

// Valid reports whether r is one of RiskLevels.
func (r RiskLevel) Valid() bool {
	for _, v := range RiskLevels {
		if r == v {
			return true
		}
	}
	return false
}

// ParseRiskLevel parses s case-insensitively, so "HIGH" and "high" both yield RiskHigh.
func ParseRiskLevel(s string) (RiskLevel, error) {
	trimmed := strings.TrimSpace(s)
	for _, v := range RiskLevels {
		if strings.EqualFold(trimmed, string(v)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}

// DutiesPayer says who pays import duties.
type DutiesPayer string

const (
	DutiesPayerSeller DutiesPayer = "Seller"
	DutiesPayerBuyer  DutiesPayer = "Buyer"
)

// ParseDutiesPayer parses s case-insensitively.
func ParseDutiesPayer(s string) (DutiesPayer, error) {
	switch {
	case strings.EqualFold(s, string(DutiesPayerSeller)):
		return DutiesPayerSeller, nil
	case strings.EqualFold(s, string(DutiesPayerBuyer)):
		return DutiesPayerBuyer, nil
	}
	return "", fmt.Errorf("unknown duties payer %q", s)
}

// DefaultIncoterm is the term implied by who pays duties.
func (p DutiesPayer) DefaultIncoterm() Incoterm {
	if p == DutiesPayerSeller {
		return IncotermDDP
	}
	return IncotermDAP
}

// RowStatus is the review outcome of a row.
type RowStatus string

const (
	StatusOK      RowStatus = "OK"
	StatusWarning RowStatus = "Warning"
	StatusError   RowStatus = "Error"
)

// Row messages set by the enrichment pipeline.
const (
	MsgMissingDestination = "Missing Destination"
	MsgUnclassified       = "AI failed to classify"
	MsgServiceFailed      = "AI Service Failed"
	MsgPotentialMismatch  = "Potential mismatch"
	MsgCancelled          = "Enrichment Cancelled"
)

// RawOrderRecord is one normalized spreadsheet row. It is never mutated after ingestion.
type RawOrderRecord struct {
	Index              int     `json:"index" yaml:"index"`
	OrderID            string  `json:"order_id" yaml:"order_id"`
	BuyerName          string  `json:"buyer_name" yaml:"buyer_name"`
	BuyerAddress       string  `json:"buyer_address" yaml:"buyer_address"`
	Description        string  `json:"description" yaml:"description"`
	Quantity           float64 `json:"quantity" yaml:"quantity"`
	UnitPrice          float64 `json:"unit_price" yaml:"unit_price"`
	OriginCountry      string  `json:"origin_country" yaml:"origin_country"`
	DestinationCountry string  `json:"destination_country" yaml:"destination_country"`
}

// TotalValue is quantity times unit price.
func (r RawOrderRecord) TotalValue() float64 {
	return r.Quantity * r.UnitPrice
}

// EnrichedFields are the customs fields filled in by AI or by a reviewer.
type EnrichedFields struct {
	HSCode       string       `json:"hs_code" yaml:"hs_code"`
	GrossWeight  float64      `json:"gross_weight" yaml:"gross_weight"`
	NetWeight    float64      `json:"net_weight" yaml:"net_weight"`
	Incoterm     Incoterm     `json:"incoterm" yaml:"incoterm"`
	ExportReason ExportReason `json:"export_reason" yaml:"export_reason"`
	Material     string       `json:"material" yaml:"material"`
	IntendedUse  string       `json:"intended_use" yaml:"intended_use"`
	RiskLevel    RiskLevel    `json:"risk_level" yaml:"risk_level"`
}

// ReviewRow is the unit the pipeline and review stages operate on.
type ReviewRow struct {
	ID                int             `json:"id" yaml:"id"`
	Original          RawOrderRecord  `json:"original" yaml:"original"`
	Enriched          *EnrichedFields `json:"enriched,omitempty" yaml:"enriched,omitempty"`
	Status            RowStatus       `json:"status" yaml:"status"`
	Messages          []string        `json:"messages" yaml:"messages"`
	ManuallyConfirmed bool            `json:"manually_confirmed" yaml:"manually_confirmed"`
	DocumentHandle    string          `json:"document_handle,omitempty" yaml:"document_handle,omitempty"`
	ShipmentID        string          `json:"shipment_id,omitempty" yaml:"shipment_id,omitempty"`
	EmissionError     string          `json:"emission_error,omitempty" yaml:"emission_error,omitempty"`
}

// Clone returns a deep copy of the row.
func (r ReviewRow) Clone() ReviewRow {
	out := r
	if r.Enriched != nil {
		e := *r.Enriched
		out.Enriched = &e
	}
	if r.Messages != nil {
		out.Messages = append([]string(nil), r.Messages...)
	}
	return out
}

// ExporterProfile identifies the shipper printed on invoices.
type ExporterProfile struct {
	CompanyName   string `json:"company_name" yaml:"company_name"`
	Address       string `json:"address" yaml:"address"`
	TaxID         string `json:"tax_id,omitempty" yaml:"tax_id,omitempty"`
	Email         string `json:"email,omitempty" yaml:"email,omitempty"`
	DefaultOrigin string `json:"default_origin,omitempty" yaml:"default_origin,omitempty"`
}

// AnonymousExporter is used for emission when nobody is signed in.
var AnonymousExporter = ExporterProfile{
	CompanyName:   "Your Company",
	Address:       "Address",
	DefaultOrigin: "USA",
}

// Party is a named address on an invoice.
type Party struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Country string `json:"country" yaml:"country"`
	TaxID   string `json:"tax_id,omitempty" yaml:"tax_id,omitempty"`
}

// LineItem is the single goods line of a bulk invoice.
type LineItem struct {
	Description   string  `json:"description" yaml:"description"`
	HSCode        string  `json:"hs_code" yaml:"hs_code"`
	OriginCountry string  `json:"origin_country" yaml:"origin_country"`
	Quantity      float64 `json:"quantity" yaml:"quantity"`
	UnitPrice     float64 `json:"unit_price" yaml:"unit_price"`
	Material      string  `json:"material,omitempty" yaml:"material,omitempty"`
	IntendedUse   string  `json:"intended_use,omitempty" yaml:"intended_use,omitempty"`
}

// Total is quantity times unit price.
func (l LineItem) Total() float64 {
	return l.Quantity * l.UnitPrice
}

// ShipmentStatus is the lifecycle state recorded in shipment history.
type ShipmentStatus string

const (
	ShipmentDraft   ShipmentStatus = "DRAFT"
	ShipmentSuccess ShipmentStatus = "SUCCESS"
)

// FinalizedShipment is built once per emitted row and never mutated afterwards.
type FinalizedShipment struct {
	ID                 string         `json:"id" yaml:"id"`
	OrderID            string         `json:"order_id" yaml:"order_id"`
	RowID              int            `json:"row_id" yaml:"row_id"`
	CreatedAt          time.Time      `json:"created_at" yaml:"created_at"`
	Currency           string         `json:"currency" yaml:"currency"`
	PackageCount       int            `json:"package_count" yaml:"package_count"`
	Exporter           Party          `json:"exporter" yaml:"exporter"`
	Consignee          Party          `json:"consignee" yaml:"consignee"`
	Item               LineItem       `json:"item" yaml:"item"`
	GrossWeight        float64        `json:"gross_weight" yaml:"gross_weight"`
	NetWeight          float64        `json:"net_weight" yaml:"net_weight"`
	Incoterm           Incoterm       `json:"incoterm" yaml:"incoterm"`
	ExportReason       ExportReason   `json:"export_reason" yaml:"export_reason"`
	RiskLevel          RiskLevel      `json:"risk_level" yaml:"risk_level"`
	DutiesPayer        DutiesPayer    `json:"duties_payer" yaml:"duties_payer"`
	ValidationWarnings []string       `json:"validation_warnings" yaml:"validation_warnings"`
	Status             ShipmentStatus `json:"status" yaml:"status"`
	DocumentHandle     string         `json:"document_handle,omitempty" yaml:"document_handle,omitempty"`
}

// TotalValue is the invoice total.
func (s FinalizedShipment) TotalValue() float64 {
	return s.Item.Total()
}

// InvoiceNumber is the last eight characters of the id, upper-cased.
func (s FinalizedShipment) InvoiceNumber() string {
	id := strings.ToUpper(s.ID)
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}
