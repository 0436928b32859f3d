package batch

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
)

const maxProposedChanges = 50

// PreviewChanges dry-runs a bounded sample of the input and extrapolates
// statistics for the full set. Nothing is written; the session store is
// still populated so a following real run stays consistent.
func (o *Orchestrator) PreviewChanges(ctx context.Context, inputPath string, sampleSize int) (*Preview, error) {
	files, err := o.enumerate(inputPath)
	if err != nil {
		return nil, err
	}
	if sampleSize <= 0 {
		sampleSize = 5
	}
	if sampleSize > len(files) {
		sampleSize = len(files)
	}

	preview := &Preview{
		TotalItems:       len(files),
		SampleStatistics: Statistics{ByCategory: make(map[string]int64)},
	}

	for _, path := range files[:sampleSize] {
		content, err := os.ReadFile(path)
		if err != nil {
			o.logger.Warn("Preview sample unreadable", zap.String("item", path), zap.Error(err))
			continue
		}
		result, err := o.ProcessContent(ctx, path, string(content))
		if err != nil {
			o.logger.Warn("Preview sample failed", zap.String("item", path), zap.Error(err))
			continue
		}
		preview.SampledItems++
		preview.SampleStatistics.Add(result.Statistics)
		for _, entry := range result.Ledger {
			if len(preview.ProposedChanges) >= maxProposedChanges {
				break
			}
			preview.ProposedChanges = append(preview.ProposedChanges, entry)
		}
	}

	if preview.SampledItems == 0 {
		return nil, fmt.Errorf("preview could not process any of %d sampled items", sampleSize)
	}

	// Linear extrapolation from the sample to the full input.
	factor := float64(preview.TotalItems) / float64(preview.SampledItems)
	preview.ExtrapolatedTotals = scaleStatistics(preview.SampleStatistics, factor)

	return preview, nil
}

func scaleStatistics(s Statistics, factor float64) Statistics {
	scaled := Statistics{
		ItemsProcessed:       int64(float64(s.ItemsProcessed) * factor),
		IdentifiersProcessed: int64(float64(s.IdentifiersProcessed) * factor),
		FieldsModified:       int64(float64(s.FieldsModified) * factor),
		DatesShifted:         int64(float64(s.DatesShifted) * factor),
		Preserved:            int64(float64(s.Preserved) * factor),
		Warnings:             int64(float64(s.Warnings) * factor),
		// Timing is not extrapolated here; the estimate package owns that.
		ByCategory: make(map[string]int64, len(s.ByCategory)),
	}
	for cat, n := range s.ByCategory {
		scaled.ByCategory[cat] = int64(float64(n) * factor)
	}
	return scaled
}
