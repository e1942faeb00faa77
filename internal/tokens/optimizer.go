// Package tokens estimates and shrinks source text so scans stay inside the
// analysis service's token budget. Optimization is lossy but never drops
// deprecation markers, hook registrations, database queries, or user-input
// handling, which the analysis depends on.
package tokens

import (
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Paths matching these are vendor/build output or platform core and are not
// worth any analysis budget.
var skipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)vendor/`),
	regexp.MustCompile(`(?i)node_modules/`),
	regexp.MustCompile(`(?i)bower_components/`),
	regexp.MustCompile(`(?i)\.min\.(js|css)$`),
	regexp.MustCompile(`(?i)\.bundle\.(js|css)$`),
	regexp.MustCompile(`(?i)/dist/`),
	regexp.MustCompile(`(?i)/build/`),
	regexp.MustCompile(`(?i)/libs?/`),
	regexp.MustCompile(`(?i)/packages/`),
	regexp.MustCompile(`(?i)wp-includes/`),
	regexp.MustCompile(`(?i)wp-admin/`),
	regexp.MustCompile(`(?i)wp-content/plugins/akismet/`),
	regexp.MustCompile(`(?i)wp-content/plugins/hello\.php`),
}

// License/author banners that identify bundled third-party libraries.
var thirdPartyIndicators = []*regexp.Regexp{
	regexp.MustCompile(`(?i)@package\s+(jQuery|Bootstrap|Modernizr|Underscore)`),
	regexp.MustCompile(`(?i)Copyright.*\(c\).*(jQuery|Bootstrap|Facebook|Google)`),
	regexp.MustCompile(`(?i)MIT License.*(jQuery|Bootstrap)`),
	regexp.MustCompile(`(?i)@link\s+https?://(jquery|getbootstrap|npmjs)`),
}

var (
	hookCallRe      = regexp.MustCompile(`add_(action|filter)\s*\(`)
	hookStmtRe      = regexp.MustCompile(`add_(action|filter)\s*\([^;]+;`)
	dbUsageRe       = regexp.MustCompile(`\$wpdb->|mysql_|mysqli_`)
	dbStmtRe        = regexp.MustCompile(`(\$wpdb->|mysql_|mysqli_)[^;]+;`)
	userInputRe     = regexp.MustCompile(`\$_(GET|POST|REQUEST|COOKIE|SERVER)\[`)
	userInputStmtRe = regexp.MustCompile(`\$_(GET|POST|REQUEST|COOKIE)[^;]+;`)
	deprecatedTagRe = regexp.MustCompile(`(?i)@deprecated`)
	functionDeclRe  = regexp.MustCompile(`\bfunction\s+\w+\s*\(`)
	functionSigRe   = regexp.MustCompile(`function\s+\w+\s*\([^)]*\)[^{]*\{`)
	classDeclRe     = regexp.MustCompile(`\bclass\s+\w+`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	blankRunRe      = regexp.MustCompile(`\n\s*\n\s*\n+`)
	innerSpaceRe    = regexp.MustCompile(`[ \t]{2,}`)
)

// elidedBody replaces function bodies during critical-section extraction.
// Comment stripping preserves it so re-optimizing is a no-op.
const elidedBody = "/* function body elided */"

// extractionThreshold is the optimized size above which full function bodies
// are replaced by signatures.
const extractionThreshold = 10000

// FilePatterns is a cheap structural fingerprint of a source file, used both
// for optimization decisions and as analysis context.
type FilePatterns struct {
	HasHooks          bool   `json:"has_wordpress_hooks"`
	HasDBQueries      bool   `json:"has_database_queries"`
	HasUserInput      bool   `json:"has_user_input"`
	HasDeprecatedTags bool   `json:"has_deprecated_tags"`
	FunctionCount     int    `json:"function_count"`
	ClassCount        int    `json:"class_count"`
	Complexity        string `json:"complexity"` // low, medium, high
}

// OptimizeResult reports the outcome of shrinking one file.
type OptimizeResult struct {
	OptimizedCode    string
	OriginalTokens   int
	OptimizedTokens  int
	TokensSaved      int
	ReductionPercent float64
	Patterns         FilePatterns
}

// Optimizer counts tokens and rewrites source text to spend fewer of them.
type Optimizer struct {
	encoder *tiktoken.Tiktoken
}

// New builds an Optimizer using the cl100k_base encoding. When the encoding
// cannot be initialized (e.g. no BPE data available), token counts fall back
// to a bytes/4 heuristic.
func New() *Optimizer {
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		encoder = nil
	}
	return &Optimizer{encoder: encoder}
}

// CountTokens returns a deterministic token estimate for text. Exact parity
// between the tiktoken and heuristic modes is not guaranteed, only that the
// heuristic never shrinks for longer input.
func (o *Optimizer) CountTokens(text string) int {
	if o.encoder != nil {
		return len(o.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// ShouldSkipFile reports whether a path points at vendor, build, minified,
// or platform-core code.
func (o *Optimizer) ShouldSkipFile(path string) bool {
	for _, re := range skipPatterns {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// IsThirdPartyCode inspects the first 50 lines for library banners.
func (o *Optimizer) IsThirdPartyCode(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) > 50 {
		lines = lines[:50]
	}
	header := strings.Join(lines, "\n")
	for _, re := range thirdPartyIndicators {
		if re.MatchString(header) {
			return true
		}
	}
	return false
}

// ExtractFilePatterns fingerprints a file's structure.
func (o *Optimizer) ExtractFilePatterns(content string) FilePatterns {
	p := FilePatterns{
		HasHooks:          hookCallRe.MatchString(content),
		HasDBQueries:      dbUsageRe.MatchString(content),
		HasUserInput:      userInputRe.MatchString(content),
		HasDeprecatedTags: deprecatedTagRe.MatchString(content),
		FunctionCount:     len(functionDeclRe.FindAllString(content, -1)),
		ClassCount:        len(classDeclRe.FindAllString(content, -1)),
		Complexity:        "low",
	}

	switch total := p.FunctionCount + p.ClassCount; {
	case total > 20:
		p.Complexity = "high"
	case total > 10:
		p.Complexity = "medium"
	}

	return p
}

// OptimizeCode shrinks source text while keeping everything the analysis
// needs. The pipeline is comment stripping (deprecation markers survive),
// whitespace collapsing, and, for large files when preserveStructure is
// false, replacement of function bodies with their signatures plus all
// hook/database/user-input statements verbatim. Running it again on its own
// output changes nothing.
func (o *Optimizer) OptimizeCode(code string, preserveStructure bool) OptimizeResult {
	originalTokens := o.CountTokens(code)
	patterns := o.ExtractFilePatterns(code)

	optimized := stripComments(code)
	optimized = collapseWhitespace(optimized)

	if !preserveStructure && len(optimized) > extractionThreshold {
		optimized = extractCriticalSections(optimized, patterns)
	}

	optimizedTokens := o.CountTokens(optimized)
	saved := originalTokens - optimizedTokens
	var reduction float64
	if originalTokens > 0 {
		reduction = float64(saved) / float64(originalTokens) * 100
	}

	return OptimizeResult{
		OptimizedCode:    optimized,
		OriginalTokens:   originalTokens,
		OptimizedTokens:  optimizedTokens,
		TokensSaved:      saved,
		ReductionPercent: reduction,
		Patterns:         patterns,
	}
}

// stripComments removes line and block comments. Lines or blocks carrying a
// deprecation marker (or the body-elision marker) are kept verbatim.
func stripComments(code string) string {
	var lines []string
	for _, line := range strings.Split(code, "\n") {
		switch {
		case deprecatedTagRe.MatchString(line) || strings.Contains(line, elidedBody):
			lines = append(lines, line)
		case strings.Contains(line, "//"):
			codePart := line[:strings.Index(line, "//")]
			// An odd number of quotes means the // is likely inside a string.
			if strings.Count(codePart, "'")%2 == 0 && strings.Count(codePart, `"`)%2 == 0 {
				if strings.TrimSpace(codePart) != "" {
					lines = append(lines, codePart)
				}
			} else {
				lines = append(lines, line)
			}
		case strings.Contains(line, "#") && !strings.HasPrefix(strings.TrimSpace(line), "#!"):
			codePart := line[:strings.Index(line, "#")]
			if strings.Count(codePart, "'")%2 == 0 && strings.Count(codePart, `"`)%2 == 0 {
				if strings.TrimSpace(codePart) != "" {
					lines = append(lines, codePart)
				}
			} else {
				lines = append(lines, line)
			}
		default:
			lines = append(lines, line)
		}
	}

	return blockCommentRe.ReplaceAllStringFunc(strings.Join(lines, "\n"), func(comment string) string {
		if deprecatedTagRe.MatchString(comment) || strings.Contains(comment, elidedBody) {
			return comment
		}
		return ""
	})
}

// collapseWhitespace drops blank lines and squeezes runs of spaces and tabs
// inside lines while preserving leading indentation.
func collapseWhitespace(code string) string {
	code = blankRunRe.ReplaceAllString(code, "\n\n")

	var lines []string
	for _, line := range strings.Split(code, "\n") {
		stripped := strings.TrimLeft(line, " \t")
		if stripped == "" {
			continue
		}
		indent := line[:len(line)-len(stripped)]
		lines = append(lines, indent+innerSpaceRe.ReplaceAllString(stripped, " "))
	}
	return strings.Join(lines, "\n")
}

// extractCriticalSections keeps the file header, function signatures with
// elided bodies, and every hook/database/user-input statement verbatim.
// Sections are deduplicated so extraction is stable under re-application.
func extractCriticalSections(code string, patterns FilePatterns) string {
	var sections []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		sections = append(sections, s)
	}

	lines := strings.Split(code, "\n")
	headerEnd := len(lines)
	if headerEnd > 10 {
		headerEnd = 10
	}
	add(strings.Join(lines[:headerEnd], "\n"))

	for _, sig := range functionSigRe.FindAllString(code, -1) {
		add(sig + "\n    " + elidedBody + "\n}")
	}

	for _, hook := range hookStmtRe.FindAllString(code, -1) {
		add(hook)
	}

	if patterns.HasDBQueries {
		for _, query := range dbStmtRe.FindAllString(code, -1) {
			add(query)
		}
	}

	if patterns.HasUserInput {
		for _, input := range userInputStmtRe.FindAllString(code, -1) {
			add(input)
		}
	}

	return strings.Join(sections, "\n")
}
