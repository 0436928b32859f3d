package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/anonymize"
	"github.com/meditrace/phi-sentinel/internal/compliance"
	"github.com/meditrace/phi-sentinel/internal/hl7"
	"github.com/meditrace/phi-sentinel/internal/scanner"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// ErrEmptyInput is returned for items with no usable content.
var ErrEmptyInput = errors.New("input content is empty")

// ProcessContent runs one message set through the full pipeline: scan,
// anonymize against the shared session store, validate, verify. It never
// writes output; callers own persistence.
func (o *Orchestrator) ProcessContent(ctx context.Context, item, content string) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	log := o.logger.WithItem(item)

	msg := hl7.Parse(content)
	subject := msg.Subject()
	o.engine.Store().RegisterSubject(subject)

	findings := o.scanner.Scan(ctx, msg)

	result := &Result{
		Item:      item,
		StartTime: start,
		Statistics: Statistics{
			ItemsProcessed: 1,
			ByCategory:     make(map[string]int64),
		},
	}

	transformErrors := make(map[taxonomy.IdentifierCategory]int)

	for _, f := range findings {
		if f.Warning() {
			result.Statistics.Warnings++
			result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %s", f.Location, f.Note))
			continue
		}

		replacement, err := o.engine.Anonymize(ctx, f, subject)
		if err != nil {
			transformErrors[f.Category]++
			log.Error("Anonymization failed",
				zap.String("location", f.Location),
				zap.String("category", f.Category.String()),
				zap.Error(err),
			)
			continue
		}

		msg.Set(f.Ref, replacement.Value)

		// The store is shared across workers; a size delta would absorb
		// other items' inserts.
		if replacement.Created {
			result.MappingsCreated++
		}

		result.Statistics.IdentifiersProcessed++
		result.Statistics.ByCategory[f.Category.String()]++
		switch replacement.Action {
		case anonymize.ActionPreserve:
			result.Statistics.Preserved++
		case anonymize.ActionShift:
			result.Statistics.DatesShifted++
			result.Statistics.FieldsModified++
		default:
			result.Statistics.FieldsModified++
		}

		if o.config.Batch.Ledger.Enabled && len(result.Ledger) < o.config.Batch.Ledger.MaxEntries {
			entry := LedgerEntry{
				Item:      item,
				Location:  f.Location,
				Category:  f.Category.String(),
				Action:    string(replacement.Action),
				ValueHash: anonymize.SaltedHash(o.engine.Salt(), f.Value),
			}
			if o.config.Batch.Ledger.IncludeValues {
				entry.Value = replacement.Value
			}
			result.Ledger = append(result.Ledger, entry)
		}
	}

	result.Transformed = msg.Render()
	result.Validation = o.scanner.Validate(ctx, result.Transformed, o.engine.Store().IsReplacement)
	result.Compliance = o.validator.Verify(compliance.ItemOutcome{
		InputFindings:   findings,
		Residual:        result.Validation.Residual,
		TransformErrors: transformErrors,
	})
	result.QuasiClasses = quasiClasses(msg)
	result.Duration = time.Since(start)
	result.Statistics.ProcessingTime = result.Duration

	// A category with no generator must fail the item, not slip through.
	if len(transformErrors) > 0 {
		return nil, fmt.Errorf("item %s: %d identifier(s) could not be transformed", item, countErrors(transformErrors))
	}

	if !result.Validation.PassedValidation {
		log.Warn("Residual identifiers detected after transform",
			zap.Int("residual", len(result.Validation.Residual)),
		)
	}

	return result, nil
}

func countErrors(m map[taxonomy.IdentifierCategory]int) int {
	n := 0
	for _, c := range m {
		n += c
	}
	return n
}

// quasiClasses extracts the retained quasi-identifier tuple for the
// advisory risk estimate: birth year and address state survive
// generalization, so their combination defines an equivalence class.
func quasiClasses(msg *hl7.Message) []string {
	var year, state string
	for i := range msg.Segments {
		seg := &msg.Segments[i]
		if seg.Name != "PID" || seg.Malformed {
			continue
		}
		dob := seg.Field(7)
		if len(dob) >= 4 {
			year = dob[:4]
		}
		addr := strings.Split(seg.Field(11), "^")
		if len(addr) > 3 {
			state = addr[3]
		}
		break
	}
	if year == "" && state == "" {
		return nil
	}
	return []string{year + "|" + state}
}

// known exposes the session's replacement predicate for external
// validation of pre-existing de-identified output.
func (o *Orchestrator) known(cat taxonomy.IdentifierCategory, value string) bool {
	return o.engine.Store().IsReplacement(cat, value)
}

// ValidateContent audits already de-identified content without
// transforming it: a scan-and-verify pass producing a verification.
func (o *Orchestrator) ValidateContent(ctx context.Context, content string) (scanner.ValidationResult, compliance.Verification) {
	validation := o.scanner.Validate(ctx, content, o.known)
	verification := o.validator.Verify(compliance.ItemOutcome{
		Residual: validation.Residual,
	})
	return validation, verification
}
