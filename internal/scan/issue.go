package scan

import "errors"

// Provenance records which pass produced an issue.
type Provenance string

const (
	ProvenanceStatic Provenance = "static"
	ProvenanceAI     Provenance = "ai"
)

// RiskLevel is the three-valued severity rollup for a whole scan.
type RiskLevel string

const (
	RiskSafe     RiskLevel = "safe"
	RiskWarning  RiskLevel = "warning"
	RiskCritical RiskLevel = "critical"
)

// Status is the scan lifecycle: pending → processing → completed|failed.
// Terminal states are final.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Issue is a single compatibility or security finding. The orchestrator
// owns issues only for the duration of a scan; persistence belongs to the
// caller.
type Issue struct {
	Severity       string     `json:"severity"`
	IssueType      string     `json:"issue_type"`
	FilePath       string     `json:"file_path"`
	Line           int        `json:"line,omitempty"`
	Description    string     `json:"description"`
	Recommendation string     `json:"recommendation"`
	CodeSnippet    string     `json:"code_snippet,omitempty"`
	Provenance     Provenance `json:"provenance"`
}

// Stats is a running statistics snapshot for a scan.
type Stats struct {
	FilesProcessed   int `json:"files_processed"`
	FilesSkipped     int `json:"files_skipped"`
	BatchesProcessed int `json:"batches_processed"`
	BatchesFailed    int `json:"batches_failed"`
	StaticIssues     int `json:"static_issues"`
	AIIssues         int `json:"ai_issues"`
	OriginalTokens   int `json:"original_tokens"`
	OptimizedTokens  int `json:"optimized_tokens"`
	TokensSaved      int `json:"tokens_saved"`
}

// Result is everything a completed scan hands back to the caller.
type Result struct {
	ScanID    int64     `json:"scan_id"`
	Status    Status    `json:"status"`
	RiskLevel RiskLevel `json:"risk_level"`
	Issues    []Issue   `json:"issues"`
	Stats     Stats     `json:"stats"`
}

// ScanError classifies a scan failure for callers deciding whether to
// resubmit. Filesystem-level failures are not retryable; service-side
// failures generally are.
type ScanError struct {
	Err       error
	Retryable bool
}

func (e *ScanError) Error() string {
	return e.Err.Error()
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed scan is worth resubmitting as-is.
func IsRetryable(err error) bool {
	var scanErr *ScanError
	if errors.As(err, &scanErr) {
		return scanErr.Retryable
	}
	return false
}

// ComputeRiskLevel rolls a merged issue set up to a single risk level:
// critical if any critical-severity issue exists, warning for any other
// non-empty issue set, safe only when nothing was found.
func ComputeRiskLevel(issues []Issue) RiskLevel {
	if len(issues) == 0 {
		return RiskSafe
	}
	for _, issue := range issues {
		if issue.Severity == "critical" {
			return RiskCritical
		}
	}
	return RiskWarning
}
