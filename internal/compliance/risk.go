package compliance

// RiskAssessment is an advisory re-identification risk estimate. It is
// informational only and never gates the compliance verdict.
type RiskAssessment struct {
	Method             string  `json:"method"`
	Score              float64 `json:"score"` // estimated re-identification probability
	EquivalenceClasses int     `json:"equivalence_classes"`
	MinClassSize       int     `json:"min_class_size"`
	Confidence         string  `json:"confidence"`
}

// RiskModel estimates re-identification risk from the cardinality of
// retained quasi-identifier equivalence classes. Pluggable so the
// statistical method can be swapped without touching the validator.
type RiskModel interface {
	Assess(classes map[string]int) RiskAssessment
}

// KAnonymityModel scores risk as 1/k where k is the smallest equivalence
// class among retained quasi-identifiers: smaller classes, higher risk.
type KAnonymityModel struct{}

// Assess implements RiskModel.
func (KAnonymityModel) Assess(classes map[string]int) RiskAssessment {
	assessment := RiskAssessment{
		Method:     "k-anonymity",
		Confidence: "low", // coarse estimate over in-batch classes only
	}
	if len(classes) == 0 {
		return assessment
	}

	min := 0
	for _, size := range classes {
		if min == 0 || size < min {
			min = size
		}
	}
	assessment.EquivalenceClasses = len(classes)
	assessment.MinClassSize = min
	if min > 0 {
		assessment.Score = 1.0 / float64(min)
	}
	if len(classes) >= 20 {
		assessment.Confidence = "medium"
	}
	return assessment
}
