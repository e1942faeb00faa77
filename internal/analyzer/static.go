// Package analyzer is the fast, free first pass of a compatibility scan:
// lexical pattern matching over source text for deprecated identifiers,
// hook registrations, and a fixed catalogue of security anti-patterns.
// It is not a PHP parser and does not try to be one.
package analyzer

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Terrorr74/CodeRenew/internal/knowledge"
)

// Control-flow keywords that look like call sites but aren't functions.
var controlKeywords = map[string]bool{
	"if": true, "while": true, "for": true, "foreach": true, "switch": true,
	"elseif": true, "array": true, "echo": true, "print": true, "isset": true,
	"empty": true, "unset": true, "die": true, "exit": true, "return": true,
}

var (
	callSiteRe   = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s*\(`)
	actionHookRe = regexp.MustCompile(`add_action\s*\(\s*['"]([^'"]+)['"]`)
	filterHookRe = regexp.MustCompile(`add_filter\s*\(\s*['"]([^'"]+)['"]`)

	adminPostHookRe = regexp.MustCompile(`add_action\s*\(\s*['"]admin_post_`)
	nonceCheckRe    = regexp.MustCompile(`wp_verify_nonce`)
	superglobalRe   = regexp.MustCompile(`\$_(GET|POST|REQUEST)\[`)
	echoVarRe       = regexp.MustCompile(`(echo|print)\s+\$`)
	newMysqliRe     = regexp.MustCompile(`(?i)new\s+mysqli\s*\(`)
)

// Signature sets for security detection. Severity is fixed per signature.
type securitySignature struct {
	re          *regexp.Regexp
	issueType   string
	severity    string
	description string
}

var securitySignatures = []securitySignature{
	{
		re:          regexp.MustCompile(`(?i)\$wpdb->query\s*\(\s*["'].*?\$`),
		issueType:   "sql_injection",
		severity:    knowledge.SeverityCritical,
		description: "Direct SQL query with variable interpolation - potential SQL injection",
	},
	{
		re:          regexp.MustCompile(`(?i)mysql_query\s*\(`),
		issueType:   "sql_injection",
		severity:    knowledge.SeverityCritical,
		description: "Deprecated mysql_query usage - security risk",
	},
	{
		re:          regexp.MustCompile(`(?i)mysqli_query\s*\(.*?\$`),
		issueType:   "sql_injection",
		severity:    knowledge.SeverityCritical,
		description: "Direct mysqli query with variables - use prepared statements",
	},
	{
		re:          regexp.MustCompile(`(?i)echo\s+\$_(GET|POST|REQUEST)\[`),
		issueType:   "xss",
		severity:    knowledge.SeverityHigh,
		description: "Direct output of user input - potential XSS",
	},
	{
		re:          regexp.MustCompile(`(?i)print\s+\$_(GET|POST|REQUEST)\[`),
		issueType:   "xss",
		severity:    knowledge.SeverityHigh,
		description: "Direct output of user input - potential XSS",
	},
	{
		re:          regexp.MustCompile(`(?i)include\s*\(\s*\$_(GET|POST|REQUEST)`),
		issueType:   "file_inclusion",
		severity:    knowledge.SeverityCritical,
		description: "Dynamic file inclusion - potential RFI/LFI",
	},
	{
		re:          regexp.MustCompile(`(?i)require\s*\(\s*\$_(GET|POST|REQUEST)`),
		issueType:   "file_inclusion",
		severity:    knowledge.SeverityCritical,
		description: "Dynamic file inclusion - potential RFI/LFI",
	},
}

var sanitizationRes = []*regexp.Regexp{
	regexp.MustCompile(`sanitize_text_field`),
	regexp.MustCompile(`sanitize_email`),
	regexp.MustCompile(`absint`),
	regexp.MustCompile(`intval`),
}

var escapingRes = []*regexp.Regexp{
	regexp.MustCompile(`esc_html`),
	regexp.MustCompile(`esc_attr`),
	regexp.MustCompile(`esc_url`),
}

// jQuery methods removed or deprecated by the bundled jQuery 3.x upgrade.
var jqueryDeprecated = []struct {
	old, replacement string
}{
	{"$.load", `$.on("load", ...)`},
	{"$.bind", "$.on"},
	{"$.unbind", "$.off"},
	{"$.delegate", "$.on"},
	{"$.undelegate", "$.off"},
}

// Hook is a registered action or filter call site.
type Hook struct {
	Type string `json:"type"` // action or filter
	Name string `json:"name"`
	Line int    `json:"line"`
}

// DeprecatedUsage is one call site of a knowledge-base-known identifier.
type DeprecatedUsage struct {
	Function     string `json:"function"`
	Line         int    `json:"line"`
	DeprecatedIn string `json:"deprecated_in"`
	RemovedIn    string `json:"removed_in,omitempty"`
	Replacement  string `json:"replacement,omitempty"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
}

// SecurityIssue is a hit on one of the fixed security signatures.
type SecurityIssue struct {
	Type        string `json:"type"`
	Line        int    `json:"line"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	CodeSnippet string `json:"code_snippet"`
}

// PatternFinding is an anti-pattern heuristic hit. These are file-level
// observations without a specific line.
type PatternFinding struct {
	Type           string `json:"type"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
}

// QuickScanResult composes all static findings for one file.
type QuickScanResult struct {
	RiskLevel                string                   `json:"risk_level"`
	DeprecatedFunctionsFound int                      `json:"deprecated_functions_found"`
	SecurityIssuesFound      int                      `json:"security_issues_found"`
	CriticalIssues           int                      `json:"critical_issues"`
	DeprecatedUsage          []DeprecatedUsage        `json:"deprecated_usage"`
	SecurityIssues           []SecurityIssue          `json:"security_issues"`
	VersionSummary           knowledge.VersionSummary `json:"version_summary"`
}

// KnowledgeBase is what the analyzer needs from the deprecation catalog.
type KnowledgeBase interface {
	CheckFunction(name string) *knowledge.DeprecatedItem
	Summary(versionFrom, versionTo string) knowledge.VersionSummary
}

// Static pattern-matches source text against the deprecation knowledge base
// and the fixed security/anti-pattern catalogue.
type Static struct {
	kb KnowledgeBase
}

func NewStatic(kb KnowledgeBase) *Static {
	return &Static{kb: kb}
}

// ExtractFunctions returns the unique function names called in src,
// excluding control-flow keywords. Order is sorted for determinism.
func (s *Static) ExtractFunctions(src string) []string {
	seen := make(map[string]bool)
	for _, m := range callSiteRe.FindAllStringSubmatch(src, -1) {
		name := m[1]
		if !controlKeywords[name] {
			seen[name] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExtractHooks returns every add_action/add_filter registration with its
// hook name and line.
func (s *Static) ExtractHooks(src string) []Hook {
	var hooks []Hook
	for _, m := range actionHookRe.FindAllStringSubmatchIndex(src, -1) {
		hooks = append(hooks, Hook{
			Type: "action",
			Name: src[m[2]:m[3]],
			Line: lineAt(src, m[0]),
		})
	}
	for _, m := range filterHookRe.FindAllStringSubmatchIndex(src, -1) {
		hooks = append(hooks, Hook{
			Type: "filter",
			Name: src[m[2]:m[3]],
			Line: lineAt(src, m[0]),
		})
	}
	return hooks
}

// FindDeprecated emits one record per call-site occurrence of each
// knowledge-base-known function name.
func (s *Static) FindDeprecated(src string) []DeprecatedUsage {
	var usages []DeprecatedUsage
	for _, name := range s.ExtractFunctions(src) {
		item := s.kb.CheckFunction(name)
		if item == nil {
			continue
		}
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)
		for _, loc := range re.FindAllStringIndex(src, -1) {
			usages = append(usages, DeprecatedUsage{
				Function:     name,
				Line:         lineAt(src, loc[0]),
				DeprecatedIn: item.DeprecatedIn,
				RemovedIn:    item.RemovedIn,
				Replacement:  item.Replacement,
				Severity:     item.Severity,
				Description:  item.Description,
			})
		}
	}
	return usages
}

// DetectSecurityIssues runs the fixed signature set over src.
func (s *Static) DetectSecurityIssues(src string) []SecurityIssue {
	var issues []SecurityIssue
	for _, sig := range securitySignatures {
		for _, loc := range sig.re.FindAllStringIndex(src, -1) {
			line := lineAt(src, loc[0])
			issues = append(issues, SecurityIssue{
				Type:        sig.issueType,
				Line:        line,
				Severity:    sig.severity,
				Description: sig.description,
				CodeSnippet: lineContext(src, line, 2),
			})
		}
	}
	return issues
}

// DetectPatterns runs the anti-pattern heuristics over src.
func (s *Static) DetectPatterns(src string) []PatternFinding {
	var findings []PatternFinding

	if newMysqliRe.MatchString(src) {
		findings = append(findings, PatternFinding{
			Type:           "anti_pattern",
			Severity:       knowledge.SeverityMedium,
			Description:    "Direct mysqli usage detected - use $wpdb instead",
			Recommendation: "Use WordPress $wpdb object for database queries",
		})
	}

	if adminPostHookRe.MatchString(src) && !nonceCheckRe.MatchString(src) {
		findings = append(findings, PatternFinding{
			Type:           "security",
			Severity:       knowledge.SeverityHigh,
			Description:    "Admin POST handler without nonce verification",
			Recommendation: "Add wp_verify_nonce() to verify form submissions",
		})
	}

	if superglobalRe.MatchString(src) && !anyMatch(sanitizationRes, src) {
		findings = append(findings, PatternFinding{
			Type:           "security",
			Severity:       knowledge.SeverityHigh,
			Description:    "User input without sanitization detected",
			Recommendation: "Use sanitize_text_field(), sanitize_email(), or other sanitization functions",
		})
	}

	if echoVarRe.MatchString(src) && !anyMatch(escapingRes, src) {
		findings = append(findings, PatternFinding{
			Type:           "security",
			Severity:       knowledge.SeverityMedium,
			Description:    "Output without escaping detected",
			Recommendation: "Use esc_html(), esc_attr(), or esc_url() when outputting variables",
		})
	}

	for _, jq := range jqueryDeprecated {
		if strings.Contains(src, jq.old) {
			findings = append(findings, PatternFinding{
				Type:           "deprecated",
				Severity:       knowledge.SeverityMedium,
				Description:    "Deprecated jQuery method " + jq.old + " detected",
				Recommendation: "Replace with " + jq.replacement,
			})
		}
	}

	return findings
}

// QuickScan composes deprecated usage, security issues, and the version
// summary into a per-file risk verdict: critical if any critical-severity
// finding exists, warning if any finding exists, safe otherwise.
func (s *Static) QuickScan(src, versionFrom, versionTo string) QuickScanResult {
	deprecated := s.FindDeprecated(src)
	security := s.DetectSecurityIssues(src)

	critical := 0
	for _, d := range deprecated {
		if d.Severity == knowledge.SeverityCritical {
			critical++
		}
	}
	for _, issue := range security {
		if issue.Severity == knowledge.SeverityCritical {
			critical++
		}
	}

	risk := "safe"
	switch {
	case critical > 0:
		risk = "critical"
	case len(deprecated) > 0 || len(security) > 0:
		risk = "warning"
	}

	return QuickScanResult{
		RiskLevel:                risk,
		DeprecatedFunctionsFound: len(deprecated),
		SecurityIssuesFound:      len(security),
		CriticalIssues:           critical,
		DeprecatedUsage:          deprecated,
		SecurityIssues:           security,
		VersionSummary:           s.kb.Summary(versionFrom, versionTo),
	}
}

// FilePriority ranks a file for scan ordering. Entry-point files go first
// so the highest-value code is analyzed even if budget runs out.
func FilePriority(path string) int {
	name := strings.ToLower(pathBase(path))

	for _, p := range []string{"functions.php", "index.php", "plugin.php", "class-", "init.php"} {
		if strings.Contains(name, p) {
			return 100
		}
	}
	for _, p := range []string{"template", "header.php", "footer.php", "sidebar.php"} {
		if strings.Contains(name, p) {
			return 50
		}
	}
	lower := strings.ToLower(path)
	for _, p := range []string{"inc/", "includes/", "assets/", "vendor/"} {
		if strings.Contains(lower, p) {
			return 10
		}
	}
	return 25
}

func pathBase(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}

func anyMatch(res []*regexp.Regexp, src string) bool {
	for _, re := range res {
		if re.MatchString(src) {
			return true
		}
	}
	return false
}

// lineAt returns the 1-indexed line number of a byte offset.
func lineAt(src string, offset int) int {
	return strings.Count(src[:offset], "\n") + 1
}

// lineContext returns the source lines around a 1-indexed line number.
func lineContext(src string, line, context int) string {
	lines := strings.Split(src, "\n")
	start := line - context - 1
	if start < 0 {
		start = 0
	}
	end := line + context
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[start:end], "\n")
}
