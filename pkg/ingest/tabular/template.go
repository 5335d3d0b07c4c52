package tabular

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// TemplateFilename is the default name for the sample import workbook.
const TemplateFilename = "customs_import_template.xlsx"

// TemplateHeaders are the canonical column names accepted by ingestion.
var TemplateHeaders = []string{"order_id", "buyer_name", "buyer_address", "desc", "qty", "unit_price", "origin", "dest"}

var templateRows = [][]interface{}{
	{"ORD-1001", "John Doe", "123 Main St, London, UK", "Cotton T-Shirt", 10, 15, "USA", "UK"},
	{"ORD-1002", "Jane Smith", "45 Ave Paris, France", "Ceramic Vase", 2, 40, "USA", "France"},
}

// WriteTemplate writes a sample import workbook with the canonical headers and two example orders.
func WriteTemplate(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Template"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(TemplateHeaders))
	for i, h := range TemplateHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range templateRows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
