package anonymize

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/scanner"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// ErrNoGenerator is returned when a finding's category has no replacement
// generator. The engine fails closed: the original value is never passed
// through on an unhandled category.
var ErrNoGenerator = errors.New("no generator registered for category")

// ErrCollisionExhausted is returned when collision re-rolling cannot find
// a replacement that is not already an original in the session.
var ErrCollisionExhausted = errors.New("could not generate collision-free replacement")

// Action records what the engine did to a field.
type Action string

const (
	ActionReplace  Action = "replace"
	ActionRemove   Action = "remove" // generalization/truncation
	ActionShift    Action = "shift"
	ActionPreserve Action = "preserve"
)

// Replacement is the engine's output for one finding.
type Replacement struct {
	Value  string
	Action Action
	// Created reports whether this call inserted a new session mapping.
	Created bool
}

const (
	maxCollisionAttempts = 32
	// Subjects older than this collapse to the sentinel year under
	// categorical removal (45 CFR 164.514(b)(2)(i)(C)).
	maxAge       = 89
	sentinelYear = "1900"
)

// Engine produces deterministic, session-consistent replacement values.
// Safe to use from multiple workers concurrently; all shared state lives
// in the session store.
type Engine struct {
	store  *SessionStore
	cache  *MappingCache // optional cross-run tier, may be nil
	config config.DeIDConfig
	logger *logger.Logger

	salt     []byte
	preserve map[taxonomy.IdentifierCategory]bool
	now      func() time.Time
}

// NewEngine creates a new anonymization engine bound to a session store.
func NewEngine(cfg config.DeIDConfig, store *SessionStore, cache *MappingCache, log *logger.Logger) (*Engine, error) {
	salt := cfg.Salt
	if salt == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate session salt: %w", err)
		}
		salt = hex.EncodeToString(buf)
		log.Info("No salt configured, generated session-local salt")
	}

	preserve := make(map[taxonomy.IdentifierCategory]bool)
	for _, name := range cfg.Preserve {
		cat, err := taxonomy.ParseCategory(name)
		if err != nil {
			return nil, fmt.Errorf("failed to configure engine: %w", err)
		}
		preserve[cat] = true
	}

	log.Info("Anonymization engine initialized",
		zap.String("method", cfg.Method),
		zap.String("date_shift_mode", cfg.DateShift.Mode),
		zap.Int("preserved_categories", len(preserve)),
		zap.Bool("cross_run_cache", cache != nil),
	)

	return &Engine{
		store:    store,
		cache:    cache,
		config:   cfg,
		logger:   log,
		salt:     []byte(salt),
		preserve: preserve,
		now:      time.Now,
	}, nil
}

// Store returns the engine's session store.
func (e *Engine) Store() *SessionStore {
	return e.store
}

// Salt returns the effective session salt.
func (e *Engine) Salt() string {
	return string(e.salt)
}

// Anonymize produces the replacement for one finding. Same category and
// normalized original value always map to the same output for the life of
// the session.
func (e *Engine) Anonymize(ctx context.Context, f scanner.Finding, subjectID string) (Replacement, error) {
	if !f.Category.Valid() {
		return Replacement{}, fmt.Errorf("category %s: %w", f.Category, ErrNoGenerator)
	}

	if e.preserve[f.Category] {
		return Replacement{Value: f.Value, Action: ActionPreserve}, nil
	}

	normalized := normalize(f.Value)
	e.store.RegisterOriginal(f.Category, normalized)

	subjectKey := ""
	if isDateCategory(f.Category) {
		// Date offsets are per subject; the same calendar date shifts
		// differently for different patients.
		subjectKey = subjectID
	}
	key := mappingKey(f.Category, subjectKey, normalized)

	if existing, ok := e.store.Lookup(key); ok {
		return Replacement{Value: existing, Action: e.actionFor(f.Category)}, nil
	}

	hashedKey := SaltedHash(string(e.salt), key)
	if e.cache != nil {
		if cached, ok, err := e.cache.Get(ctx, hashedKey); err != nil {
			e.logger.Warn("Cross-run mapping lookup failed", zap.Error(err))
		} else if ok {
			value, inserted := e.store.GetOrInsert(key, cached, f.Category)
			return Replacement{Value: value, Action: e.actionFor(f.Category), Created: inserted}, nil
		}
	}

	candidate, action, err := e.generate(f.Category, f.Value, normalized, subjectID)
	if err != nil {
		return Replacement{}, err
	}

	value, inserted := e.store.GetOrInsert(key, candidate, f.Category)
	if inserted && e.cache != nil {
		if err := e.cache.Put(ctx, hashedKey, value); err != nil {
			e.logger.Warn("Cross-run mapping write failed", zap.Error(err))
		}
	}

	return Replacement{Value: value, Action: action, Created: inserted}, nil
}

// actionFor reconstructs the ledger action for a replacement served from
// the store or the cross-run cache.
func (e *Engine) actionFor(cat taxonomy.IdentifierCategory) Action {
	switch {
	case cat == taxonomy.Address:
		return ActionRemove
	case isDateCategory(cat):
		if e.config.Method == "safe_harbor" || e.config.DateShift.Mode == "none" {
			return ActionRemove
		}
		return ActionShift
	default:
		return ActionReplace
	}
}

// generate dispatches to the per-category generator. The switch is
// exhaustive over the taxonomy; anything else fails closed.
func (e *Engine) generate(cat taxonomy.IdentifierCategory, original, normalized, subjectID string) (string, Action, error) {
	switch cat {
	case taxonomy.PatientName, taxonomy.ProviderName:
		return e.syntheticName(cat, normalized), ActionReplace, nil

	case taxonomy.SSN:
		d := derive(e.salt, cat.String(), normalized)
		return "XXX-XX-" + d.digits(4), ActionReplace, nil

	case taxonomy.MedicalRecordNumber, taxonomy.AccountNumber,
		taxonomy.HealthPlanID, taxonomy.LicenseNumber:
		return e.structuredID(cat, original, normalized)

	case taxonomy.Phone:
		d := derive(e.salt, cat.String(), normalized)
		return "555-" + d.digits(4), ActionReplace, nil

	case taxonomy.Email:
		d := derive(e.salt, cat.String(), normalized)
		return "user." + strings.ToLower(d.alnum(6)) + "@example.org", ActionReplace, nil

	case taxonomy.Address:
		return e.generalizedAddress(original, subjectID), ActionRemove, nil

	case taxonomy.BirthDate:
		return e.transformDate(cat, normalized, subjectID, true)

	case taxonomy.ServiceDate:
		return e.transformDate(cat, normalized, subjectID, false)

	case taxonomy.DeviceID:
		d := derive(e.salt, cat.String(), normalized)
		return "DEV-" + d.alnum(8), ActionReplace, nil

	case taxonomy.URL:
		d := derive(e.salt, cat.String(), normalized)
		return "https://example.org/" + strings.ToLower(d.alnum(8)), ActionReplace, nil

	case taxonomy.IPAddress:
		d := derive(e.salt, cat.String(), normalized)
		return fmt.Sprintf("10.0.%d.%d", d.intn(256, 1), d.intn(256, 2)), ActionReplace, nil
	}

	return "", "", fmt.Errorf("category %s: %w", cat, ErrNoGenerator)
}

// syntheticName builds a demographically plausible but fabricated
// SURNAME^GIVEN value.
func (e *Engine) syntheticName(cat taxonomy.IdentifierCategory, normalized string) string {
	d := derive(e.salt, cat.String(), normalized)
	return d.pick(syntheticSurnames, 0) + "^" + d.pick(syntheticGivenNames, 1)
}

// structuredID generates an identifier of the same format class as the
// original: alpha prefix kept, digit run re-rolled at the same width.
// Collision avoidance is a store lookup, never left to chance.
func (e *Engine) structuredID(cat taxonomy.IdentifierCategory, original, normalized string) (string, Action, error) {
	prefix := alphaPrefix(original)
	width := digitCount(original)
	if width == 0 {
		width = 8
		prefix = ""
	}

	for attempt := 0; attempt < maxCollisionAttempts; attempt++ {
		d := derive(e.salt, cat.String(), normalized, itoa(attempt))
		candidate := prefix + d.digits(width)
		if normalize(candidate) == normalized || e.store.HasOriginal(cat, normalize(candidate)) {
			continue
		}
		return candidate, ActionReplace, nil
	}
	return "", "", fmt.Errorf("category %s: %w", cat, ErrCollisionExhausted)
}

// generalizedAddress reduces an HL7 XAD address to state level, or
// fabricates a complete synthetic address when no state component exists.
func (e *Engine) generalizedAddress(original, subjectID string) string {
	components := strings.Split(original, "^")
	if len(components) > 3 && strings.TrimSpace(components[3]) != "" {
		return "^^^" + strings.TrimSpace(components[3]) + "^00000"
	}
	d := derive(e.salt, taxonomy.Address.String(), "subject", subjectID)
	return d.pick(syntheticStreets, 0) + "^^" + d.pick(syntheticCities, 1) + "^XX^00000"
}

func isDateCategory(cat taxonomy.IdentifierCategory) bool {
	return cat == taxonomy.BirthDate || cat == taxonomy.ServiceDate
}

// transformDate applies the configured date policy. Under categorical
// removal every date truncates to year (with the over-89 sentinel for
// birth dates); under the statistical method dates shift by a constant
// per-subject offset, preserving every delta between a subject's events.
func (e *Engine) transformDate(cat taxonomy.IdentifierCategory, normalized, subjectID string, birth bool) (string, Action, error) {
	t, layout, suffix, err := parseHL7Timestamp(normalized)
	if err != nil {
		// Unparseable date-classified content cannot be shifted safely.
		return "", "", fmt.Errorf("category %s: %w", cat, err)
	}

	categorical := e.config.Method == "safe_harbor" || e.config.DateShift.Mode == "none"
	if categorical {
		if birth && e.ageYears(t) > maxAge {
			return sentinelYear, ActionRemove, nil
		}
		return t.Format("2006"), ActionRemove, nil
	}

	offset := e.subjectOffsetDays(subjectID)
	return t.AddDate(0, 0, offset).Format(layout) + suffix, ActionShift, nil
}

// subjectOffsetDays derives the constant shift for a subject: a nonzero
// value in [-MaxDays, MaxDays], the same for every date the subject owns.
func (e *Engine) subjectOffsetDays(subjectID string) int {
	if e.config.DateShift.Mode == "fixed" {
		return e.config.DateShift.FixedDays
	}
	maxDays := e.config.DateShift.MaxDays
	d := derive(e.salt, "date-offset", subjectID)
	offset := d.intn(2*maxDays+1, 0) - maxDays
	if offset == 0 {
		offset = 1
	}
	return offset
}

func (e *Engine) ageYears(birth time.Time) int {
	now := e.now()
	years := now.Year() - birth.Year()
	if now.YearDay() < birth.YearDay() {
		years--
	}
	return years
}

// hl7TimestampLayouts covers DT and TS precision levels down to seconds.
var hl7TimestampLayouts = []string{
	"20060102150405",
	"200601021504",
	"2006010215",
	"20060102",
	"200601",
	"2006",
}

func parseHL7Timestamp(value string) (time.Time, string, string, error) {
	v := value
	// Split off a timezone suffix for parsing; the shift path re-appends it.
	var suffix string
	if i := strings.IndexAny(v, "+-"); i > 0 {
		suffix = v[i:]
		v = v[:i]
	}
	if i := strings.Index(v, "."); i > 0 {
		v = v[:i]
	}
	for _, layout := range hl7TimestampLayouts {
		if len(v) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, v); err == nil {
			return t, layout, suffix, nil
		}
	}
	return time.Time{}, "", "", fmt.Errorf("unrecognized timestamp format: %q", logger.RedactValue(value))
}
