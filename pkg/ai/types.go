// Package ai is the contract and HTTP client for the external model that
// classifies goods, validates invoice data, and extracts orders from free text.
package ai

import (
	"context"
	"errors"
	"time"

	"github.com/otherjamesbrown/tradedoc-cli/pkg/shipment"
)

// Enricher fills in customs fields for one order line.
type Enricher interface {
	Enrich(ctx context.Context, req EnrichRequest) (*EnrichResponse, error)
}

// Validator checks a merged order and customs record for anomalies.
type Validator interface {
	Validate(ctx context.Context, req ValidateRequest) (*ValidationResult, error)
}

// Extractor pulls partial shipment fields out of free-form order text.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Extraction, error)
}

// ErrNothingExtracted is returned when extraction yields no usable field.
var ErrNothingExtracted = errors.New("no shipment details could be extracted")

// EnrichRequest describes the goods to classify.
type EnrichRequest struct {
	Description        string               `json:"description"`
	Quantity           float64              `json:"quantity"`
	TotalValue         float64              `json:"totalValue"`
	OriginCountry      string               `json:"originCountry"`
	DestinationCountry string               `json:"destinationCountry"`
	DutiesPayer        shipment.DutiesPayer `json:"dutiesPayer"`
}

// EnrichResponse is the model's answer. Enumerated fields are returned as raw
// strings and interpreted by the caller.
type EnrichResponse struct {
	HSCode       string  `json:"hsCode"`
	Material     string  `json:"material"`
	IntendedUse  string  `json:"intendedUse"`
	GrossWeight  float64 `json:"grossWeight"`
	NetWeight    float64 `json:"netWeight"`
	Incoterm     string  `json:"incoterms"`
	UnitPrice    float64 `json:"unitPrice"`
	ExportReason string  `json:"reasonForExport,omitempty"`
	RiskLevel    string  `json:"riskLevel,omitempty"`
	Reasoning    string  `json:"reasoning,omitempty"`
}

// ValidateRequest is the merged original and enriched record sent for validation.
type ValidateRequest struct {
	OrderID            string  `json:"orderId"`
	BuyerName          string  `json:"buyerName"`
	BuyerAddress       string  `json:"buyerAddress"`
	Description        string  `json:"description"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unitPrice"`
	TotalValue         float64 `json:"totalValue"`
	OriginCountry      string  `json:"originCountry"`
	DestinationCountry string  `json:"destinationCountry"`
	HSCode             string  `json:"hsCode"`
	Material           string  `json:"material"`
	IntendedUse        string  `json:"intendedUse"`
	GrossWeight        float64 `json:"grossWeight"`
	NetWeight          float64 `json:"netWeight"`
	Incoterm           string  `json:"incoterms"`
	ExportReason       string  `json:"reasonForExport"`
	RiskLevel          string  `json:"riskLevel"`
}

// NewValidateRequest merges an order row with its enriched fields.
func NewValidateRequest(rec shipment.RawOrderRecord, f shipment.EnrichedFields) ValidateRequest {
	return ValidateRequest{
		OrderID:            rec.OrderID,
		BuyerName:          rec.BuyerName,
		BuyerAddress:       rec.BuyerAddress,
		Description:        rec.Description,
		Quantity:           rec.Quantity,
		UnitPrice:          rec.UnitPrice,
		TotalValue:         rec.TotalValue(),
		OriginCountry:      rec.OriginCountry,
		DestinationCountry: rec.DestinationCountry,
		HSCode:             f.HSCode,
		Material:           f.Material,
		IntendedUse:        f.IntendedUse,
		GrossWeight:        f.GrossWeight,
		NetWeight:          f.NetWeight,
		Incoterm:           string(f.Incoterm),
		ExportReason:       string(f.ExportReason),
		RiskLevel:          string(f.RiskLevel),
	}
}

// ValidationResult is the validator's verdict.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Warnings []string `json:"warnings"`
}

// Extraction holds whatever fields could be recovered from free text.
type Extraction struct {
	ConsigneeName      string  `json:"consigneeName,omitempty" yaml:"consignee_name,omitempty"`
	ConsigneeAddress   string  `json:"consigneeAddress,omitempty" yaml:"consignee_address,omitempty"`
	ProductDescription string  `json:"productDescription,omitempty" yaml:"product_description,omitempty"`
	Quantity           float64 `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	TotalValue         float64 `json:"totalValue,omitempty" yaml:"total_value,omitempty"`
	Currency           string  `json:"currency,omitempty" yaml:"currency,omitempty"`
	DestinationCountry string  `json:"destinationCountry,omitempty" yaml:"destination_country,omitempty"`
}

// Empty reports whether no field was extracted.
func (e Extraction) Empty() bool {
	return e == Extraction{}
}

// Config configures the HTTP client.
type Config struct {
	// BaseURL is the root of an OpenAI-compatible server, without /v1.
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKey is sent as a bearer token when set.
	APIKey  string        `yaml:"-"`
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries re-asks for valid JSON when a reply does not parse. It never
	// retries transport failures.
	MaxRetries int `yaml:"max_retries"`

	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:11434",
		Model:       "gemini-flash",
		Timeout:     60 * time.Second,
		MaxRetries:  0,
		Temperature: 0.1,
		MaxTokens:   2048,
	}
}

// Error represents an error from the model service.
type Error struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// ErrorCode identifies the type of model error.
type ErrorCode string

const (
	ErrTimeout      ErrorCode = "timeout"
	ErrUnavailable  ErrorCode = "unavailable"
	ErrRateLimit    ErrorCode = "rate_limit"
	ErrParseFailure ErrorCode = "parse_failure"
	ErrTokenLimit   ErrorCode = "token_limit"
)

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
