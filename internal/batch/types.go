package batch

import (
	"time"

	"github.com/meditrace/phi-sentinel/internal/compliance"
	"github.com/meditrace/phi-sentinel/internal/scanner"
)

// Statistics counts what a processing pass did. Batch statistics are the
// exact field-wise sum of per-item statistics, whatever the partition.
type Statistics struct {
	ItemsProcessed       int64            `json:"items_processed"`
	IdentifiersProcessed int64            `json:"identifiers_processed"`
	FieldsModified       int64            `json:"fields_modified"`
	DatesShifted         int64            `json:"dates_shifted"`
	Preserved            int64            `json:"preserved"`
	Warnings             int64            `json:"warnings"`
	ByCategory           map[string]int64 `json:"by_category"`
	ProcessingTime       time.Duration    `json:"processing_time"`
}

// Add folds another statistics value into this one, field-wise.
func (s *Statistics) Add(other Statistics) {
	s.ItemsProcessed += other.ItemsProcessed
	s.IdentifiersProcessed += other.IdentifiersProcessed
	s.FieldsModified += other.FieldsModified
	s.DatesShifted += other.DatesShifted
	s.Preserved += other.Preserved
	s.Warnings += other.Warnings
	s.ProcessingTime += other.ProcessingTime
	if len(other.ByCategory) > 0 && s.ByCategory == nil {
		s.ByCategory = make(map[string]int64)
	}
	for cat, n := range other.ByCategory {
		s.ByCategory[cat] += n
	}
}

// LedgerEntry records one field-level change. The original value is
// redacted to a salted hash by default; IncludeValues opts into carrying
// the replacement (never the original) for review.
type LedgerEntry struct {
	Item      string `json:"item"`
	Location  string `json:"location"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	ValueHash string `json:"value_hash"`
	Value     string `json:"value,omitempty"`
}

// Result is the write-once outcome of processing one item.
type Result struct {
	Item            string                   `json:"item"`
	Transformed     string                   `json:"-"` // content never serialized into reports
	Statistics      Statistics               `json:"statistics"`
	MappingsCreated int                      `json:"mappings_created"`
	Compliance      compliance.Verification  `json:"compliance"`
	Validation      scanner.ValidationResult `json:"validation"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Ledger          []LedgerEntry            `json:"ledger,omitempty"`
	QuasiClasses    []string                 `json:"-"`
	StartTime       time.Time                `json:"start_time"`
	Duration        time.Duration            `json:"duration"`
}

// ItemResult records one item's success or failure inside a batch. A
// failed item carries its error and contributes nothing to combined
// statistics beyond the failure count.
type ItemResult struct {
	Item    string  `json:"item"`
	Success bool    `json:"success"`
	Error   string  `json:"error,omitempty"`
	Result  *Result `json:"result,omitempty"`
}

// BatchResult aggregates a whole directory run under one session.
type BatchResult struct {
	BatchID        string                      `json:"batch_id"`
	SessionID      string                      `json:"session_id"`
	Items          []ItemResult                `json:"items"`
	Successes      int                         `json:"successes"`
	Failures       int                         `json:"failures"`
	Statistics     Statistics                  `json:"statistics"`
	UniqueSubjects int                         `json:"unique_subjects"`
	MappingCount   int                         `json:"mapping_count"`
	Compliance     compliance.Verification     `json:"compliance"`
	Risk           *compliance.RiskAssessment  `json:"risk,omitempty"`
	StartTime      time.Time                   `json:"start_time"`
	Duration       time.Duration               `json:"duration"`
}

// Preview is a dry run over a bounded sample: proposed changes plus
// extrapolated statistics, with no output written.
type Preview struct {
	TotalItems         int           `json:"total_items"`
	SampledItems       int           `json:"sampled_items"`
	ProposedChanges    []LedgerEntry `json:"proposed_changes"`
	SampleStatistics   Statistics    `json:"sample_statistics"`
	ExtrapolatedTotals Statistics    `json:"extrapolated_totals"`
}

// ProgressEvent is broadcast to the monitor hub as items complete.
type ProgressEvent struct {
	Type      string    `json:"type"`
	Item      string    `json:"item"`
	Success   bool      `json:"success"`
	Completed int       `json:"completed"`
	Total     int       `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Broadcaster receives progress events. A nil broadcaster disables
// progress reporting.
type Broadcaster interface {
	Broadcast(event ProgressEvent)
}
