package scanner

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/hl7"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// Scanner classifies message fields against the identifier taxonomy and
// falls back to pattern/NER detection for untyped free text.
type Scanner struct {
	table    *taxonomy.Table
	rules    []DetectionRule
	ner      NERBackend
	logger   *logger.Logger
	config   config.DeIDConfig
	preserve map[taxonomy.IdentifierCategory]bool
}

// New creates a new PHI scanner instance
func New(cfg config.DeIDConfig, table *taxonomy.Table, log *logger.Logger) (*Scanner, error) {
	preserve := make(map[taxonomy.IdentifierCategory]bool)
	for _, name := range cfg.Preserve {
		cat, err := taxonomy.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("failed to configure scanner: %w", err)
		}
		preserve[cat] = true
	}

	s := &Scanner{
		table:    table,
		rules:    GetDefaultRules(),
		ner:      NewNERBackend(log.Logger, cfg.NERModelPath),
		logger:   log,
		config:   cfg,
		preserve: preserve,
	}

	log.Info("PHI scanner initialized",
		zap.Int("classified_fields", table.Size()),
		zap.Int("pattern_rules", len(s.rules)),
		zap.Bool("ner_backend", s.ner != nil),
	)

	return s, nil
}

// Scan walks a tokenized message and emits one finding per detected
// identifier. Malformed segments never abort the scan; they surface as
// zero-confidence warning findings.
func (s *Scanner) Scan(ctx context.Context, msg *hl7.Message) []Finding {
	findings := make([]Finding, 0)

	msg.Walk(func(ref hl7.FieldRef, value string) {
		if ref.Field == 0 {
			findings = append(findings, Finding{
				Ref:      ref,
				Location: ref.Location(),
				Category: taxonomy.Unclassified,
				Value:    value,
				Note:     "malformed segment",
			})
			return
		}

		// Field-aware detection takes priority over free-text heuristics.
		if cat, ok := s.table.Lookup(ref.Location()); ok {
			findings = append(findings, Finding{
				Ref:        ref,
				Location:   ref.Location(),
				Category:   cat,
				Value:      value,
				Confidence: 1.0,
			})
			return
		}

		findings = append(findings, s.scanFreeText(ctx, ref, value)...)
	})

	s.logger.Debug("Message scanned",
		zap.Int("segments", len(msg.Segments)),
		zap.Int("findings", len(findings)),
	)

	return findings
}

// scanFreeText applies pattern rules, then the NER backend when one is
// available, to a field with no declared category.
func (s *Scanner) scanFreeText(ctx context.Context, ref hl7.FieldRef, value string) []Finding {
	var findings []Finding

	for _, rule := range s.rules {
		if !rule.Pattern.MatchString(value) {
			continue
		}
		findings = append(findings, Finding{
			Ref:        ref,
			Location:   ref.Location(),
			Category:   rule.Category,
			Value:      value,
			Confidence: rule.Confidence,
			Note:       rule.Name,
		})
		// One finding per field; the whole field value is transformed.
		return findings
	}

	if s.ner != nil && isNarrativeField(ref) {
		entities, err := s.ner.DetectEntities(ctx, value)
		if err != nil {
			s.logger.Warn("NER detection failed", zap.String("location", ref.Location()), zap.Error(err))
			return findings
		}
		for _, e := range entities {
			findings = append(findings, Finding{
				Ref:        ref,
				Location:   ref.Location(),
				Category:   e.Category,
				Value:      value,
				Confidence: e.Confidence,
				Note:       "ner",
			})
			return findings
		}
	}

	return findings
}

// isNarrativeField reports whether the field commonly carries clinical
// narrative worth running entity extraction over.
func isNarrativeField(ref hl7.FieldRef) bool {
	switch {
	case ref.Segment == "NTE" && ref.Field == 3:
		return true
	case ref.Segment == "OBX" && ref.Field == 5:
		return true
	}
	return false
}

// Validate re-runs detection on transformed content. It fails when any
// finding above the configured confidence threshold remains, except values
// the known predicate vouches for and categories preserved by options.
func (s *Scanner) Validate(ctx context.Context, content string, known KnownReplacementFunc) ValidationResult {
	threshold := s.config.ValidationThreshold
	msg := hl7.Parse(content)

	var residual []Finding
	for _, f := range s.Scan(ctx, msg) {
		if f.Warning() || f.Confidence <= threshold && threshold > 0 {
			continue
		}
		if s.preserve[f.Category] {
			continue
		}
		if known != nil && known(f.Category, f.Value) {
			continue
		}
		residual = append(residual, f)
	}

	return ValidationResult{
		PassedValidation: len(residual) == 0,
		Residual:         residual,
		Threshold:        threshold,
	}
}

// Close releases the NER backend, if any.
func (s *Scanner) Close() error {
	if s.ner != nil {
		return s.ner.Close()
	}
	return nil
}
