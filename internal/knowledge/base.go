package knowledge

// Base is the local deprecation knowledge base: a versioned catalog of
// identifiers that changed behavior or availability across platform
// releases, with name and version indices for lookups.
type Base struct {
	items  []DeprecatedItem
	byName map[string]DeprecatedItem
}

// NewBase builds a knowledge base from the builtin catalog.
func NewBase() *Base {
	return NewBaseWithItems(builtinCatalog())
}

// NewBaseWithItems builds a knowledge base from the given items. Later items
// with a duplicate name win in the name index.
func NewBaseWithItems(items []DeprecatedItem) *Base {
	byName := make(map[string]DeprecatedItem, len(items))
	for _, item := range items {
		byName[item.Name] = item
	}
	return &Base{items: items, byName: byName}
}

// CheckFunction returns the catalog entry for an exact identifier name, or
// nil when the identifier is not known.
func (b *Base) CheckFunction(name string) *DeprecatedItem {
	if item, ok := b.byName[name]; ok {
		return &item
	}
	return nil
}

// DeprecatedInRange returns every item whose deprecated or removed version
// falls within [from, to] inclusive.
func (b *Base) DeprecatedInRange(versionFrom, versionTo string) []DeprecatedItem {
	from := ParseVersion(versionFrom)
	to := ParseVersion(versionTo)

	var relevant []DeprecatedItem
	for _, item := range b.items {
		if ParseVersion(item.DeprecatedIn).InRange(from, to) {
			relevant = append(relevant, item)
			continue
		}
		if item.RemovedIn != "" && ParseVersion(item.RemovedIn).InRange(from, to) {
			relevant = append(relevant, item)
		}
	}
	return relevant
}

// CriticalChanges returns removed functions and critical-severity items in
// the version range.
func (b *Base) CriticalChanges(versionFrom, versionTo string) []DeprecatedItem {
	var critical []DeprecatedItem
	for _, item := range b.DeprecatedInRange(versionFrom, versionTo) {
		if item.Severity == SeverityCritical || item.ChangeType == ChangeRemovedFunction {
			critical = append(critical, item)
		}
	}
	return critical
}

// BreakingChanges returns breaking changes in the version range.
func (b *Base) BreakingChanges(versionFrom, versionTo string) []DeprecatedItem {
	var breaking []DeprecatedItem
	for _, item := range b.DeprecatedInRange(versionFrom, versionTo) {
		if item.ChangeType == ChangeBreakingChange {
			breaking = append(breaking, item)
		}
	}
	return breaking
}

// ReplacementFor returns the suggested replacement for a deprecated
// identifier, or "" when unknown.
func (b *Base) ReplacementFor(name string) string {
	if item := b.CheckFunction(name); item != nil {
		return item.Replacement
	}
	return ""
}

// DocURLFor returns the documentation reference for an identifier, or "".
func (b *Base) DocURLFor(name string) string {
	if item := b.CheckFunction(name); item != nil {
		return item.DocURL
	}
	return ""
}

// AllFunctionNames returns every known identifier name.
func (b *Base) AllFunctionNames() []string {
	names := make([]string, 0, len(b.byName))
	for name := range b.byName {
		names = append(names, name)
	}
	return names
}

// VersionSummary aggregates change counts by severity and change type for
// a version range.
type VersionSummary struct {
	Total               int `json:"total"`
	Critical            int `json:"critical"`
	High                int `json:"high"`
	Medium              int `json:"medium"`
	Low                 int `json:"low"`
	RemovedFunctions    int `json:"removed_functions"`
	DeprecatedFunctions int `json:"deprecated_functions"`
	BreakingChanges     int `json:"breaking_changes"`
	SecurityIssues      int `json:"security_issues"`
}

// Summary returns change counts for the version range.
func (b *Base) Summary(versionFrom, versionTo string) VersionSummary {
	return SummarizeItems(b.DeprecatedInRange(versionFrom, versionTo))
}

// SummarizeItems aggregates counts over an already-fetched item list.
func SummarizeItems(items []DeprecatedItem) VersionSummary {
	var s VersionSummary
	s.Total = len(items)
	for _, item := range items {
		switch item.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		}
		switch item.ChangeType {
		case ChangeRemovedFunction:
			s.RemovedFunctions++
		case ChangeDeprecatedFunction:
			s.DeprecatedFunctions++
		case ChangeBreakingChange:
			s.BreakingChanges++
		case ChangeSecurityIssue:
			s.SecurityIssues++
		}
	}
	return s
}
