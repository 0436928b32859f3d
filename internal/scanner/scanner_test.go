package scanner

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/hl7"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

func newTestScanner(t *testing.T, cfg config.DeIDConfig) *Scanner {
	t.Helper()
	table, err := taxonomy.NewTable(cfg.CustomFields)
	if err != nil {
		t.Fatalf("Failed to build taxonomy table: %v", err)
	}
	s, err := New(cfg, table, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create scanner: %v", err)
	}
	return s
}

func findByLocation(findings []Finding, location string) *Finding {
	for i := range findings {
		if findings[i].Location == location {
			return &findings[i]
		}
	}
	return nil
}

// TestScan tests field-aware and free-text detection
func TestScan(t *testing.T) {
	ctx := context.Background()

	t.Run("ClassifiedFieldsWinWithFullConfidence", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		msg := hl7.Parse("PID|1||MR000123||SMITH^JOHN^A||19850210|M|||123 MAIN ST^^METROPOLIS^NY^10001||555-867-5309||||||123-45-6789")
		findings := s.Scan(ctx, msg)

		name := findByLocation(findings, "PID-5")
		if name == nil {
			t.Fatal("Patient name not detected")
		}
		if name.Category != taxonomy.PatientName || name.Confidence != 1.0 {
			t.Errorf("PID-5: category %s, confidence %f", name.Category.String(), name.Confidence)
		}

		ssn := findByLocation(findings, "PID-19")
		if ssn == nil {
			t.Fatal("SSN not detected")
		}
		if ssn.Category != taxonomy.SSN {
			t.Errorf("PID-19: expected ssn, got %s", ssn.Category.String())
		}
	})

	t.Run("FreeTextPatternFallback", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		msg := hl7.Parse("OBX|1|TX|NOTE||callback 555-867-5309 please")
		findings := s.Scan(ctx, msg)

		phone := findByLocation(findings, "OBX-5")
		if phone == nil {
			t.Fatal("Phone pattern not detected in free text")
		}
		if phone.Category != taxonomy.Phone {
			t.Errorf("OBX-5: expected phone, got %s", phone.Category.String())
		}
		if phone.Confidence >= 1.0 || phone.Confidence <= 0 {
			t.Errorf("Pattern confidence should be in (0,1), got %f", phone.Confidence)
		}
	})

	t.Run("OneFindingPerFreeTextField", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		msg := hl7.Parse("OBX|1|TX|NOTE||ssn 123-45-6789 phone 555-867-5309")
		findings := s.Scan(ctx, msg)

		count := 0
		for _, f := range findings {
			if f.Location == "OBX-5" {
				count++
			}
		}
		if count != 1 {
			t.Errorf("Expected one finding for OBX-5, got %d", count)
		}
	})

	t.Run("MalformedSegmentWarning", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		msg := hl7.Parse("PID|1||MR000123\rtruncated garbage line")
		findings := s.Scan(ctx, msg)

		var warning *Finding
		for i := range findings {
			if findings[i].Warning() {
				warning = &findings[i]
			}
		}
		if warning == nil {
			t.Fatal("Malformed segment should surface a warning finding")
		}
		if warning.Category != taxonomy.Unclassified {
			t.Errorf("Warning should be unclassified, got %s", warning.Category.String())
		}
	})

	t.Run("CustomFieldExtension", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{
			CustomFields: map[string]string{"ZID-2": "medical_record_number"},
		})
		msg := hl7.Parse("ZID|1|LOCAL9988")
		findings := s.Scan(ctx, msg)

		f := findByLocation(findings, "ZID-2")
		if f == nil || f.Category != taxonomy.MedicalRecordNumber {
			t.Error("Custom field extension not applied")
		}
	})
}

// TestValidate tests residual detection on transformed output
func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("ResidualIdentifierFails", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		result := s.Validate(ctx, "OBX|1|TX|NOTE||left behind 123-45-6789", nil)
		if result.PassedValidation {
			t.Error("Residual SSN should fail validation")
		}
		if len(result.Residual) == 0 {
			t.Error("Residual findings should be reported")
		}
	})

	t.Run("KnownReplacementsExempted", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		known := func(cat taxonomy.IdentifierCategory, value string) bool {
			return cat == taxonomy.PatientName && value == "MASON^AVERY"
		}
		result := s.Validate(ctx, "PID|1||||MASON^AVERY", known)
		if !result.PassedValidation {
			t.Errorf("Session-issued replacement should pass, residual: %v", result.Residual)
		}
	})

	t.Run("PreservedCategoriesExempted", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{Preserve: []string{"service_date"}})
		result := s.Validate(ctx, "OBR|1||||||20240315120000", nil)
		if !result.PassedValidation {
			t.Errorf("Preserved category should pass, residual: %v", result.Residual)
		}
	})

	t.Run("ThresholdSkipsLowConfidence", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{ValidationThreshold: 0.7})
		// The bare timestamp rule sits at 0.6, below the threshold.
		result := s.Validate(ctx, "OBX|1|TX|NOTE||seen 20240315120000", nil)
		if !result.PassedValidation {
			t.Errorf("Findings at or below threshold should pass, residual: %v", result.Residual)
		}
	})

	t.Run("MalformedIsWarningOnly", func(t *testing.T) {
		s := newTestScanner(t, config.DeIDConfig{})
		result := s.Validate(ctx, "just some freetext", nil)
		if !result.PassedValidation {
			t.Error("Malformed content alone should not fail validation")
		}
	})
}
