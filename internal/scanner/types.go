package scanner

import (
	"regexp"

	"github.com/meditrace/phi-sentinel/internal/hl7"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// DetectionRule represents a single free-text PHI detection rule
type DetectionRule struct {
	Name       string
	Category   taxonomy.IdentifierCategory
	Pattern    *regexp.Regexp
	Confidence float64
}

// Finding represents a detection result. Field-declared findings carry
// confidence 1.0; pattern and NER findings carry the rule's confidence;
// malformed-segment warnings carry confidence 0.
type Finding struct {
	Ref        hl7.FieldRef                `json:"-"`
	Location   string                      `json:"location"`
	Category   taxonomy.IdentifierCategory `json:"-"`
	Value      string                      `json:"-"` // never serialized
	Confidence float64                     `json:"confidence"`
	Note       string                      `json:"note,omitempty"`
}

// Warning reports whether the finding is informational only.
func (f Finding) Warning() bool {
	return f.Confidence == 0
}

// ValidationResult is the outcome of re-scanning transformed content.
type ValidationResult struct {
	PassedValidation bool      `json:"passed_validation"`
	Residual         []Finding `json:"residual,omitempty"`
	Threshold        float64   `json:"threshold"`
}

// KnownReplacementFunc tells the validator that a value is a replacement
// this session produced, so re-detection does not flag the scanner's own
// output. A nil func exempts nothing.
type KnownReplacementFunc func(category taxonomy.IdentifierCategory, value string) bool
