package knowledge

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ChangeType classifies how a platform identifier changed across versions.
type ChangeType string

const (
	ChangeDeprecatedFunction ChangeType = "deprecated_function"
	ChangeRemovedFunction    ChangeType = "removed_function"
	ChangeDeprecatedHook     ChangeType = "deprecated_hook"
	ChangeBreakingChange     ChangeType = "breaking_change"
	ChangeSecurityIssue      ChangeType = "security_issue"
)

// UnmarshalJSON normalizes unknown change types to deprecated_function so a
// remote record with a new kind never fails to parse.
func (c *ChangeType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch ChangeType(strings.ToLower(s)) {
	case ChangeDeprecatedFunction, ChangeRemovedFunction, ChangeDeprecatedHook,
		ChangeBreakingChange, ChangeSecurityIssue:
		*c = ChangeType(strings.ToLower(s))
	default:
		*c = ChangeDeprecatedFunction
	}
	return nil
}

const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// DeprecatedItem describes a platform identifier that was deprecated,
// removed, or otherwise changed. Items are immutable once loaded; identity
// is the name.
type DeprecatedItem struct {
	Name         string     `json:"name"`
	DeprecatedIn string     `json:"deprecated_in"`
	RemovedIn    string     `json:"removed_in,omitempty"`
	Replacement  string     `json:"replacement,omitempty"`
	ChangeType   ChangeType `json:"change_type"`
	Severity     string     `json:"severity"`
	Description  string     `json:"description"`
	DocURL       string     `json:"documentation_url,omitempty"`
}

// Version is a parsed dot-separated version string, compared numerically
// segment by segment.
type Version []int

// ParseVersion parses "6.4.1" into (6, 4, 1). Any non-numeric segment makes
// the whole version parse to (0,), matching how unparseable versions sort
// before everything else.
func ParseVersion(s string) Version {
	parts := strings.Split(s, ".")
	v := make(Version, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Version{0}
		}
		v = append(v, n)
	}
	if len(v) == 0 {
		return Version{0}
	}
	return v
}

// Compare returns -1, 0, or 1 under tuple ordering. A version that is a
// strict prefix of another compares less ((3,9) < (3,9,1)).
func (v Version) Compare(other Version) int {
	for i := 0; i < len(v) && i < len(other); i++ {
		if v[i] != other[i] {
			if v[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(v) < len(other):
		return -1
	case len(v) > len(other):
		return 1
	}
	return 0
}

// InRange reports whether v falls within [from, to] inclusive.
func (v Version) InRange(from, to Version) bool {
	return from.Compare(v) <= 0 && v.Compare(to) <= 0
}
