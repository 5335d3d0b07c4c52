package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrIngestionEmpty: {
		Code:            ErrIngestionEmpty,
		Retryable:       false,
		Description:     "No valid rows found in the uploaded file",
		SuggestedAction: "Check the header row against the sample: tradedoc template",
	},
	ErrRowEnrichmentFailure: {
		Code:            ErrRowEnrichmentFailure,
		Retryable:       true,
		Description:     "AI enrichment or validation failed for a row",
		SuggestedAction: "Correct the row by hand (--fix ID:field=value) or re-run the import",
	},
	ErrValidationWarning: {
		Code:            ErrValidationWarning,
		Retryable:       false,
		Description:     "Row passed enrichment but validation raised warnings",
		SuggestedAction: "Review the row: tradedoc bulk run FILE --status Warning",
	},
	ErrHardFieldMissing: {
		Code:            ErrHardFieldMissing,
		Retryable:       false,
		Description:     "Destination or HS code is missing",
		SuggestedAction: "Add the missing column to the file, or set the HS code with --fix ID:hs_code=CODE",
	},
	ErrEmissionFailure: {
		Code:            ErrEmissionFailure,
		Retryable:       true,
		Description:     "Invoice document could not be rendered or stored",
		SuggestedAction: "Check the storage backend: tradedoc config show",
	},
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Operation exceeded time limit",
		SuggestedAction: "Raise ai.timeout in ~/.tradedoc/config.yaml",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "AI API rate limit exceeded",
		SuggestedAction: "Raise pipeline.row_delay or check quota limits with the AI provider",
	},
	ErrModelUnavailable: {
		Code:            ErrModelUnavailable,
		Retryable:       true,
		Description:     "AI model or service unavailable",
		SuggestedAction: "Verify ai.base_url and that the model is deployed",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Operation cancelled by user or system",
		SuggestedAction: "Re-run the import when ready",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       true,
		Description:     "AI response could not be parsed",
		SuggestedAction: "Set ai.max_retries above 0 to re-ask for valid JSON",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Re-run with --debug and check the logs",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Re-run with --debug and check the logs"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
