package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

const systemPrompt = "You are a logistics assistant that prepares customs data for commercial invoices. Respond with valid JSON only."

func enrichPrompt(req EnrichRequest) string {
	return fmt.Sprintf(`Enrich this shipment data for a customs invoice.

Input:
Product: %s
Qty: %s
Total Value: %s
Origin: %s
Destination: %s
Who pays duties: %s

Tasks:
1. Determine HS Code (6-digit).
2. Infer Material & Intended Use.
3. Estimate Gross & Net Weight in KG for the TOTAL shipment.
4. Set Incoterm (DDP if Seller pays, DAP if Buyer pays). One of: %s.
5. Calculate Unit Price.
6. Set Reason for Export (default to Sale unless context implies otherwise). One of: %s.
7. Set riskLevel to LOW, MEDIUM or HIGH.

Return JSON with keys: hsCode, material, intendedUse, grossWeight, netWeight, incoterms, unitPrice, reasonForExport, riskLevel, reasoning.`,
		req.Description,
		formatNumber(req.Quantity),
		formatNumber(req.TotalValue),
		req.OriginCountry,
		req.DestinationCountry,
		req.DutiesPayer,
		joinEnum(shipment.Incoterms),
		joinEnum(shipment.ExportReasons),
	)
}

func validatePrompt(req ValidateRequest) (string, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`Validate this customs invoice data for errors or anomalies.
Data: %s

Return JSON: { "valid": boolean, "warnings": string[] }`, data), nil
}

func extractPrompt(text string) string {
	return fmt.Sprintf(`Extract shipment details from this raw order text.
Text: %q

Return JSON with: consigneeName, consigneeAddress, productDescription, quantity, totalValue, currency, destinationCountry. Omit fields you cannot find.`, text)
}

func formatNumber(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.4f", f), "0"), ".")
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
