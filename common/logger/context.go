package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Business context (scan_id, batch_index, file_path) flows through
// context enrichment so individual log statements don't have to repeat it.
type LogFields struct {
	ScanID      *int64  // Snowflake scan ID
	BatchIndex  *int    // Index of the batch currently being analyzed
	FilePath    *string // File currently being processed
	VersionFrom *string // Starting platform version of the scan
	VersionTo   *string // Target platform version of the scan
	Component   string  // Component name (e.g., "coderenew.scan.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, updates LogFields) LogFields {
	result := existing

	if updates.ScanID != nil {
		result.ScanID = updates.ScanID
	}
	if updates.BatchIndex != nil {
		result.BatchIndex = updates.BatchIndex
	}
	if updates.FilePath != nil {
		result.FilePath = updates.FilePath
	}
	if updates.VersionFrom != nil {
		result.VersionFrom = updates.VersionFrom
	}
	if updates.VersionTo != nil {
		result.VersionTo = updates.VersionTo
	}
	if updates.Component != "" {
		result.Component = updates.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ScanID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like prompts or error messages.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
