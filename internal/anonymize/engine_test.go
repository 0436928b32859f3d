package anonymize

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/scanner"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

func testConfig() config.DeIDConfig {
	cfg := config.DeIDConfig{
		Method: "safe_harbor",
		Salt:   "test-salt",
	}
	cfg.DateShift.Mode = "per_subject"
	cfg.DateShift.MaxDays = 365
	return cfg
}

func newTestEngine(t *testing.T, cfg config.DeIDConfig) *Engine {
	t.Helper()
	store := NewSessionStore("test-session")
	engine, err := NewEngine(cfg, store, nil, &logger.Logger{Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func finding(cat taxonomy.IdentifierCategory, value string) scanner.Finding {
	return scanner.Finding{Category: cat, Value: value, Confidence: 1.0}
}

// TestAnonymizeConsistency tests session-scoped mapping consistency
func TestAnonymizeConsistency(t *testing.T) {
	ctx := context.Background()

	t.Run("SameValueSameReplacement", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r1, err := e.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		r2, err := e.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r1.Value != r2.Value {
			t.Errorf("Same original diverged: %q vs %q", r1.Value, r2.Value)
		}
		if r1.Value == "SMITH^JOHN" {
			t.Error("Replacement must differ from the original")
		}
	})

	t.Run("NormalizationFoldsCaseAndWhitespace", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r1, _ := e.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN"), "")
		r2, _ := e.Anonymize(ctx, finding(taxonomy.PatientName, "  smith^john  "), "")
		if r1.Value != r2.Value {
			t.Errorf("Case/whitespace variants diverged: %q vs %q", r1.Value, r2.Value)
		}
	})

	t.Run("DifferentValuesDifferentReplacements", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r1, _ := e.Anonymize(ctx, finding(taxonomy.Email, "john@hospital.org"), "")
		r2, _ := e.Anonymize(ctx, finding(taxonomy.Email, "mary@hospital.org"), "")
		if r1.Value == r2.Value {
			t.Errorf("Distinct originals collided on %q", r1.Value)
		}
	})

	t.Run("DeterministicAcrossEngines", func(t *testing.T) {
		e1 := newTestEngine(t, testConfig())
		e2 := newTestEngine(t, testConfig())
		r1, _ := e1.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN"), "")
		r2, _ := e2.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN"), "")
		if r1.Value != r2.Value {
			t.Errorf("Same salt should reproduce the same synthesis: %q vs %q", r1.Value, r2.Value)
		}
	})
}

// TestGenerators tests the per-category replacement formats
func TestGenerators(t *testing.T) {
	ctx := context.Background()

	t.Run("SSNFormat", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r, err := e.Anonymize(ctx, finding(taxonomy.SSN, "123-45-6789"), "")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if !regexp.MustCompile(`^XXX-XX-\d{4}$`).MatchString(r.Value) {
			t.Errorf("SSN replacement format wrong: %q", r.Value)
		}
	})

	t.Run("PhoneDrawsFromWideRange", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		format := regexp.MustCompile(`^555-\d{4}$`)
		seen := make(map[string]bool)
		for i := 0; i < 200; i++ {
			r, err := e.Anonymize(ctx, finding(taxonomy.Phone, fmt.Sprintf("312-555-%04d", i)), "")
			if err != nil {
				t.Fatalf("Anonymize failed: %v", err)
			}
			if !format.MatchString(r.Value) {
				t.Fatalf("Phone replacement format wrong: %q", r.Value)
			}
			seen[r.Value] = true
		}
		if len(seen) <= 100 {
			t.Errorf("Replacement space too narrow: %d distinct values for 200 originals", len(seen))
		}
	})

	t.Run("StructuredIDKeepsFormatClass", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r, err := e.Anonymize(ctx, finding(taxonomy.MedicalRecordNumber, "MR000123"), "")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if !regexp.MustCompile(`^MR\d{6}$`).MatchString(r.Value) {
			t.Errorf("MRN replacement should keep prefix and digit width: %q", r.Value)
		}
		if r.Value == "MR000123" {
			t.Error("Replacement must differ from the original")
		}
	})

	t.Run("StructuredIDAvoidsKnownOriginals", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		// Make every candidate the first attempt would produce an original,
		// forcing at least one re-roll.
		d := derive(e.salt, taxonomy.MedicalRecordNumber.String(), "MR000123", "0")
		collider := "MR" + d.digits(6)
		e.store.RegisterOriginal(taxonomy.MedicalRecordNumber, normalize(collider))

		r, err := e.Anonymize(ctx, finding(taxonomy.MedicalRecordNumber, "MR000123"), "")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if normalize(r.Value) == normalize(collider) {
			t.Error("Replacement collided with a known original")
		}
	})

	t.Run("PatientNameShape", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r, _ := e.Anonymize(ctx, finding(taxonomy.PatientName, "SMITH^JOHN^A"), "")
		parts := strings.Split(r.Value, "^")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			t.Errorf("Name replacement should be SURNAME^GIVEN, got %q", r.Value)
		}
	})

	t.Run("AddressGeneralizedToState", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r, err := e.Anonymize(ctx, finding(taxonomy.Address, "123 MAIN ST^^METROPOLIS^NY^10001"), "")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "^^^NY^00000" {
			t.Errorf("Address should generalize to state level, got %q", r.Value)
		}
		if r.Action != ActionRemove {
			t.Errorf("Address generalization should record remove, got %s", r.Action)
		}
	})

	t.Run("PreservedCategoryPassesThrough", func(t *testing.T) {
		cfg := testConfig()
		cfg.Preserve = []string{"service_date"}
		e := newTestEngine(t, cfg)
		r, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240315"), "")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "20240315" || r.Action != ActionPreserve {
			t.Errorf("Preserved category altered: %q, %s", r.Value, r.Action)
		}
	})

	t.Run("InvalidCategoryFailsClosed", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		_, err := e.Anonymize(ctx, finding(taxonomy.Unclassified, "anything"), "")
		if !errors.Is(err, ErrNoGenerator) {
			t.Errorf("Expected ErrNoGenerator, got %v", err)
		}
	})
}

// TestDateHandling tests categorical truncation and per-subject shifting
func TestDateHandling(t *testing.T) {
	ctx := context.Background()

	t.Run("CategoricalTruncatesToYear", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		r, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240315120000"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "2024" {
			t.Errorf("Expected year truncation, got %q", r.Value)
		}
		if r.Action != ActionRemove {
			t.Errorf("Expected remove action, got %s", r.Action)
		}
	})

	t.Run("Over89BirthYearSentinel", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		e.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

		r, err := e.Anonymize(ctx, finding(taxonomy.BirthDate, "19300210"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "1900" {
			t.Errorf("96-year-old birth year should collapse to sentinel, got %q", r.Value)
		}

		r, err = e.Anonymize(ctx, finding(taxonomy.BirthDate, "19850210"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "1985" {
			t.Errorf("Under-89 birth should keep its year, got %q", r.Value)
		}
	})

	t.Run("StatisticalShiftPreservesDeltas", func(t *testing.T) {
		cfg := testConfig()
		cfg.Method = "statistical"
		e := newTestEngine(t, cfg)

		r1, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240110"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		r2, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240120"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}

		t1, err := time.Parse("20060102", r1.Value)
		if err != nil {
			t.Fatalf("Shifted date unparseable: %q", r1.Value)
		}
		t2, err := time.Parse("20060102", r2.Value)
		if err != nil {
			t.Fatalf("Shifted date unparseable: %q", r2.Value)
		}
		if delta := t2.Sub(t1); delta != 10*24*time.Hour {
			t.Errorf("Delta not preserved: got %v, want 240h", delta)
		}
		if r1.Value == "20240110" {
			t.Error("Shifted date equals the original; offset was zero")
		}
		if r1.Action != ActionShift {
			t.Errorf("Expected shift action, got %s", r1.Action)
		}
	})

	t.Run("OffsetsVaryAcrossSubjects", func(t *testing.T) {
		cfg := testConfig()
		cfg.Method = "statistical"
		e := newTestEngine(t, cfg)

		offsets := make(map[int]bool)
		for _, subject := range []string{"MR000101", "MR000102", "MR000103", "MR000104", "MR000105", "MR000106", "MR000107", "MR000108"} {
			offset := e.subjectOffsetDays(subject)
			if offset == 0 || offset < -365 || offset > 365 {
				t.Errorf("Subject %s: offset %d out of range", subject, offset)
			}
			if offset != e.subjectOffsetDays(subject) {
				t.Errorf("Subject %s: offset not stable", subject)
			}
			offsets[offset] = true
		}
		if len(offsets) < 2 {
			t.Error("Per-subject offsets should vary across subjects")
		}
	})

	t.Run("FixedModeUsesConfiguredOffset", func(t *testing.T) {
		cfg := testConfig()
		cfg.Method = "statistical"
		cfg.DateShift.Mode = "fixed"
		cfg.DateShift.FixedDays = 7
		e := newTestEngine(t, cfg)

		r, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240110"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "20240117" {
			t.Errorf("Fixed shift of 7 days: got %q", r.Value)
		}
	})

	t.Run("TimezoneSuffixSurvivesShift", func(t *testing.T) {
		cfg := testConfig()
		cfg.Method = "statistical"
		cfg.DateShift.Mode = "fixed"
		cfg.DateShift.FixedDays = 7
		e := newTestEngine(t, cfg)

		r, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "20240110143000+0500"), "MR000123")
		if err != nil {
			t.Fatalf("Anonymize failed: %v", err)
		}
		if r.Value != "20240117143000+0500" {
			t.Errorf("Shift should keep the timezone suffix: got %q", r.Value)
		}
	})

	t.Run("UnparseableDateErrors", func(t *testing.T) {
		e := newTestEngine(t, testConfig())
		if _, err := e.Anonymize(ctx, finding(taxonomy.ServiceDate, "NOT A DATE"), ""); err == nil {
			t.Error("Unparseable date-classified content must error, never pass through")
		}
	})
}

// TestTimestampParsing tests the HL7 DT/TS layouts
func TestTimestampParsing(t *testing.T) {
	cases := []struct {
		value  string
		layout string
		suffix string
	}{
		{"20240315120000", "20060102150405", ""},
		{"202403151200", "200601021504", ""},
		{"20240315", "20060102", ""},
		{"202403", "200601", ""},
		{"2024", "2006", ""},
		{"20240315120000.123", "20060102150405", ""},
		{"20240315120000+0500", "20060102150405", "+0500"},
		{"20240315120000-0800", "20060102150405", "-0800"},
	}
	for _, tc := range cases {
		_, layout, suffix, err := parseHL7Timestamp(tc.value)
		if err != nil {
			t.Errorf("%q failed to parse: %v", tc.value, err)
			continue
		}
		if layout != tc.layout {
			t.Errorf("%q: expected layout %s, got %s", tc.value, tc.layout, layout)
		}
		if suffix != tc.suffix {
			t.Errorf("%q: expected suffix %q, got %q", tc.value, tc.suffix, suffix)
		}
	}

	if _, _, _, err := parseHL7Timestamp("15/03/2024"); err == nil {
		t.Error("Non-HL7 format should fail")
	}
}
