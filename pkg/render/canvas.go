package render

import (
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
)

const family = "Helvetica"

// Align selects the anchor of a text run.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

// canvas draws on a single A4 page in millimetres from the top-left corner.
// Text goes through the core-font cp1252 translator.
type canvas struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

// newCanvas starts an uncompressed page whose bytes depend only on what is
// drawn and on created.
func newCanvas(created time.Time) *canvas {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetCatalogSort(true)
	pdf.SetCreationDate(created)
	pdf.SetModificationDate(created)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetMargins(20, 20, 20)
	pdf.SetLineWidth(0.2)
	pdf.AddPage()
	return &canvas{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}
}

func (c *canvas) font(bold bool, size float64) {
	style := ""
	if bold {
		style = "B"
	}
	c.pdf.SetFont(family, style, size)
}

func (c *canvas) text(bold bool, size, x, y float64, align Align, s string) {
	c.font(bold, size)
	s = c.tr(s)
	if align == AlignRight {
		x -= c.pdf.GetStringWidth(s)
	}
	c.pdf.Text(x, y, s)
}

func (c *canvas) color(r, g, b int) {
	c.pdf.SetTextColor(r, g, b)
}

func (c *canvas) line(x1, y1, x2, y2 float64, gray int) {
	c.pdf.SetDrawColor(gray, gray, gray)
	c.pdf.Line(x1, y1, x2, y2)
}

func (c *canvas) fillRect(x, y, w, h float64, r, g, b int) {
	c.pdf.SetFillColor(r, g, b)
	c.pdf.Rect(x, y, w, h, "F")
}

// wrap splits s into regular-weight lines no wider than width at size.
func (c *canvas) wrap(size, width float64, s string) []string {
	c.font(false, size)
	var lines []string
	for _, para := range strings.Split(s, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		cur := words[0]
		for _, w := range words[1:] {
			next := cur + " " + w
			if c.pdf.GetStringWidth(c.tr(next)) > width {
				lines = append(lines, cur)
				cur = w
				continue
			}
			cur = next
		}
		lines = append(lines, cur)
	}
	return lines
}

func (c *canvas) width(bold bool, size float64, s string) float64 {
	c.font(bold, size)
	return c.pdf.GetStringWidth(c.tr(s))
}
