package compliance

import (
	"sort"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/scanner"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// Status is the overall compliance verdict.
type Status string

const (
	StatusCompliant    Status = "compliant"
	StatusNonCompliant Status = "non_compliant"
	StatusUnknown      Status = "unknown"
)

// ChecklistItem is one category's entry in the safe-harbor checklist.
// Satisfied means the category was either absent from the input or every
// occurrence was successfully transformed.
type ChecklistItem struct {
	Category         string `json:"category"`
	SafeHarborNumber int    `json:"safe_harbor_number"`
	Occurrences      int    `json:"occurrences"`
	Residual         int    `json:"residual"`
	TransformErrors  int    `json:"transform_errors"`
	Satisfied        bool   `json:"satisfied"`
}

// Verification is the checklist plus the overall verdict. Status is
// compliant iff every checklist entry is satisfied.
type Verification struct {
	Checklist []ChecklistItem `json:"checklist"`
	Status    Status          `json:"status"`
	Risk      *RiskAssessment `json:"risk,omitempty"`
}

// ItemOutcome carries what the pipeline observed for one processed item.
type ItemOutcome struct {
	InputFindings   []scanner.Finding
	Residual        []scanner.Finding
	TransformErrors map[taxonomy.IdentifierCategory]int
}

// Validator evaluates processed output against the categorical removal
// checklist, with an optional advisory risk model.
type Validator struct {
	logger *logger.Logger
	risk   RiskModel
}

// NewValidator creates a compliance validator. The risk model may be nil.
func NewValidator(cfg config.DeIDConfig, risk RiskModel, log *logger.Logger) *Validator {
	return &Validator{logger: log, risk: risk}
}

// Verify builds the checklist for one item outcome.
func (v *Validator) Verify(outcome ItemOutcome) Verification {
	occurrences := make(map[taxonomy.IdentifierCategory]int)
	for _, f := range outcome.InputFindings {
		if f.Warning() {
			continue
		}
		occurrences[f.Category]++
	}
	residual := make(map[taxonomy.IdentifierCategory]int)
	for _, f := range outcome.Residual {
		if f.Warning() {
			continue
		}
		residual[f.Category]++
	}

	verification := Verification{Status: StatusCompliant}
	for _, cat := range taxonomy.Categories() {
		item := ChecklistItem{
			Category:         cat.String(),
			SafeHarborNumber: cat.SafeHarborNumber(),
			Occurrences:      occurrences[cat],
			Residual:         residual[cat],
			TransformErrors:  outcome.TransformErrors[cat],
		}
		item.Satisfied = item.Residual == 0 && item.TransformErrors == 0
		if !item.Satisfied {
			verification.Status = StatusNonCompliant
		}
		verification.Checklist = append(verification.Checklist, item)
	}
	sortChecklist(verification.Checklist)

	if verification.Status != StatusCompliant {
		v.logger.Warn("Compliance verification failed",
			zap.Int("residual_findings", len(outcome.Residual)),
		)
	}
	return verification
}

// AssessRisk runs the advisory re-identification estimate over retained
// quasi-identifier equivalence classes. Never a pass/fail gate.
func (v *Validator) AssessRisk(classes map[string]int) *RiskAssessment {
	if v.risk == nil {
		return nil
	}
	assessment := v.risk.Assess(classes)
	return &assessment
}

// Merge folds another verification into this one: a category is satisfied
// only if it is satisfied on both sides, counts are additive. Status is
// recomputed. Either side with unknown status taints the merge.
func (a Verification) Merge(b Verification) Verification {
	byCat := make(map[string]ChecklistItem, len(a.Checklist))
	for _, item := range a.Checklist {
		byCat[item.Category] = item
	}
	for _, item := range b.Checklist {
		if prev, ok := byCat[item.Category]; ok {
			item.Occurrences += prev.Occurrences
			item.Residual += prev.Residual
			item.TransformErrors += prev.TransformErrors
			item.Satisfied = item.Satisfied && prev.Satisfied
		}
		byCat[item.Category] = item
	}

	merged := Verification{Status: StatusCompliant}
	for _, item := range byCat {
		if !item.Satisfied {
			merged.Status = StatusNonCompliant
		}
		merged.Checklist = append(merged.Checklist, item)
	}
	sortChecklist(merged.Checklist)
	if a.Status == StatusUnknown || b.Status == StatusUnknown {
		merged.Status = StatusUnknown
	}
	return merged
}

func sortChecklist(items []ChecklistItem) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Category < items[j].Category
	})
}
