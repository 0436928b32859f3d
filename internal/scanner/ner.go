package scanner

import (
	"context"

	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

// Entity is one span of protected text detected in clinical narrative.
type Entity struct {
	Category   taxonomy.IdentifierCategory
	Text       string
	Confidence float64
}

// NERBackend extracts identifier entities from free text. Detection is
// best-effort: a nil backend (the default build) skips NER entirely and
// relies on pattern rules alone.
type NERBackend interface {
	DetectEntities(ctx context.Context, text string) ([]Entity, error)
	Close() error
}
