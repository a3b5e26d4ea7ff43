package rules

import (
	"strings"

	"github.com/poa-ops/poactl/internal/document"
)

// Result is the outcome of one validation pass.
type Result struct {
	Violations []Violation `json:"violations"`
}

// Valid reports whether the document passed every rule.
func (r Result) Valid() bool {
	return len(r.Violations) == 0
}

// Summary renders the violations one per line for CLI output.
func (r Result) Summary() string {
	if r.Valid() {
		return "configuration is valid"
	}
	lines := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		lines = append(lines, "  - "+v.String())
	}
	return "configuration has violations:\n" + strings.Join(lines, "\n")
}

// Validator checks documents against the rule catalog. Validation is pure:
// it never mutates the document and never touches the filesystem.
type Validator struct {
	catalog []Rule
}

// NewValidator creates a validator over the static catalog.
func NewValidator() *Validator {
	return &Validator{catalog: Catalog()}
}

// Validate runs every rule and collects all violations in one pass, so the
// operator sees the complete list instead of fixing them one at a time.
func (v *Validator) Validate(doc *document.Document) Result {
	var result Result
	for _, rule := range v.catalog {
		result.Violations = append(result.Violations, rule.Check(doc)...)
	}
	return result
}
