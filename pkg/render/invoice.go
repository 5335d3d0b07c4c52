// Package render draws a FinalizedShipment as a single-page commercial-invoice PDF.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Renderer turns a shipment into document bytes. Identical inputs must give
// identical bytes.
type Renderer interface {
	Render(s shipment.FinalizedShipment, exporter shipment.ExporterProfile) ([]byte, error)
}

// ContentType is the media type of rendered documents.
const ContentType = "application/pdf"

// Declaration is printed above the signature line.
const Declaration = "I declare that the information contained in this invoice is true and correct. The contents of this shipment are as stated above."

// ErrIncomplete is returned when a shipment lacks the fields an invoice needs.
var ErrIncomplete = errors.New("shipment is missing required invoice fields")

var (
	brandBlue = [3]int{37, 99, 235}
	ink       = [3]int{20, 20, 20}
	panel     = [3]int{240, 240, 240}
)

// InvoiceRenderer renders commercial invoices.
type InvoiceRenderer struct {
	dateLayout string
}

// Option configures an InvoiceRenderer.
type Option func(*InvoiceRenderer)

// WithDateLayout sets the time layout used for the invoice date.
func WithDateLayout(layout string) Option {
	return func(r *InvoiceRenderer) {
		r.dateLayout = layout
	}
}

// NewInvoiceRenderer creates a renderer.
func NewInvoiceRenderer(opts ...Option) *InvoiceRenderer {
	r := &InvoiceRenderer{dateLayout: "2006-01-02"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ Renderer = (*InvoiceRenderer)(nil)

// Render draws the invoice. The date comes from the shipment's CreatedAt, never the wall clock.
func (r *InvoiceRenderer) Render(s shipment.FinalizedShipment, exporter shipment.ExporterProfile) ([]byte, error) {
	if s.ID == "" || s.Item.Description == "" {
		return nil, ErrIncomplete
	}

	p := newCanvas(s.CreatedAt.UTC())
	const right = 190.0

	// Header
	p.color(brandBlue[0], brandBlue[1], brandBlue[2])
	p.text(true, 24, right, 25, AlignRight, "COMMERCIAL INVOICE")
	p.color(ink[0], ink[1], ink[2])
	p.text(false, 10, right, 35, AlignRight, "Invoice No: "+s.InvoiceNumber())
	p.text(false, 10, right, 40, AlignRight, "Date: "+s.CreatedAt.UTC().Format(r.dateLayout))
	p.text(false, 10, right, 45, AlignRight, "Page 1 of 1")

	// Parties
	sellerEnd := r.partyBlock(p, 20, 60, "EXPORTER (SELLER)", exporterParty(s, exporter), exporter.Email)
	buyerEnd := r.partyBlock(p, 110, 60, "CONSIGNEE (SHIP TO)", s.Consignee, "")

	// Terms
	y := math.Max(sellerEnd, buyerEnd) + 15
	p.line(20, y, right, y, 200)
	y += 8
	terms := []struct {
		x            float64
		label, value string
	}{
		{20, "Incoterms", string(s.Incoterm)},
		{55, "Reason for Export", string(s.ExportReason)},
		{100, "Total Packages", strconv.Itoa(s.PackageCount)},
		{135, "Gross Weight", formatQty(s.GrossWeight) + " kg"},
		{170, "Currency", s.Currency},
	}
	for _, t := range terms {
		p.text(true, 9, t.x, y, AlignLeft, t.label)
		p.text(false, 9, t.x, y+5, AlignLeft, t.value)
	}
	y += 10
	p.line(20, y, right, y, 200)

	// Line item
	y += 15
	p.fillRect(20, y-6, right-20, 10, panel[0], panel[1], panel[2])
	for _, h := range []struct {
		x     float64
		label string
	}{{25, "Description of Goods"}, {95, "HS Code"}, {120, "Origin"}, {140, "Qty"}, {155, "Unit"}, {175, "Total"}} {
		p.text(true, 9, h.x, y, AlignLeft, h.label)
	}

	y += 12
	item := s.Item
	p.text(true, 9, 25, y, AlignLeft, truncate(item.Description, 40))
	hs := item.HSCode
	if hs == "" {
		hs = "---"
	}
	p.text(false, 9, 95, y, AlignLeft, hs)
	p.text(false, 9, 120, y, AlignLeft, countryCode(item.OriginCountry))
	p.text(false, 9, 140, y, AlignLeft, formatQty(item.Quantity))
	p.text(false, 9, 155, y, AlignLeft, money(item.UnitPrice))
	p.text(false, 9, 175, y, AlignLeft, money(item.Total()))
	y += 5
	p.text(false, 8, 25, y, AlignLeft, "Material: "+orNA(item.Material))
	y += 4
	p.text(false, 8, 25, y, AlignLeft, "Use: "+orNA(item.IntendedUse))
	if len(s.ValidationWarnings) > 0 {
		y += 4
		p.text(false, 7, 25, y, AlignLeft, "Notes: "+truncate(strings.Join(s.ValidationWarnings, "; "), 110))
	}

	// Total
	y += 20
	p.line(140, y, right, y, 200)
	y += 6
	p.text(true, 9, 140, y, AlignLeft, "TOTAL INVOICE VALUE:")
	p.text(true, 9, right, y, AlignRight, money(s.TotalValue())+" "+s.Currency)

	// Declaration and signature
	y = 240
	for i, l := range p.wrap(9, right-20, Declaration) {
		p.text(false, 9, 20, y+float64(i)*4, AlignLeft, l)
	}
	y += 20
	p.text(false, 9, 20, y, AlignLeft, "__________________________")
	p.text(false, 9, 20, y+5, AlignLeft, "Authorized Signature")
	p.text(false, 9, 20, y+10, AlignLeft, exporter.CompanyName)

	p.pdf.SetTitle(p.tr("Commercial Invoice "+s.InvoiceNumber()), false)
	p.pdf.SetSubject(p.tr("Order "+s.OrderID), false)
	p.pdf.SetProducer("tradedoc", false)

	var out bytes.Buffer
	if err := p.pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write invoice pdf: %w", err)
	}
	return out.Bytes(), nil
}

// partyBlock draws a titled address block and returns the y just below it.
func (r *InvoiceRenderer) partyBlock(p *canvas, xmm, ymm float64, title string, party shipment.Party, email string) float64 {
	p.text(true, 10, xmm, ymm, AlignLeft, title)
	ymm += 5
	p.text(false, 9, xmm, ymm, AlignLeft, party.Name)
	ymm += 5

	address := party.Address
	if strings.TrimSpace(address) == "" {
		address = "Address not provided"
	}
	for _, l := range p.wrap(9, 80, address) {
		p.text(false, 9, xmm, ymm, AlignLeft, l)
		ymm += 4
	}
	ymm += 1

	if party.TaxID != "" {
		p.text(false, 9, xmm, ymm, AlignLeft, "Tax ID / EORI: "+party.TaxID)
		ymm += 5
	}
	if email != "" {
		p.text(false, 9, xmm, ymm, AlignLeft, "Email: "+email)
		ymm += 5
	}
	p.text(false, 9, xmm, ymm, AlignLeft, "Country: "+party.Country)
	return ymm + 5
}

// exporterParty prefers the party frozen on the shipment and falls back to the profile.
func exporterParty(s shipment.FinalizedShipment, exporter shipment.ExporterProfile) shipment.Party {
	if s.Exporter.Name != "" {
		return s.Exporter
	}
	return shipment.Party{
		Name:    exporter.CompanyName,
		Address: exporter.Address,
		Country: exporter.DefaultOrigin,
		TaxID:   exporter.TaxID,
	}
}

func money(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatQty(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func countryCode(c string) string {
	r := []rune(strings.ToUpper(strings.TrimSpace(c)))
	if len(r) > 3 {
		r = r[:3]
	}
	return string(r)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return fmt.Sprintf("%s...", string(r[:n-3]))
}
