package estimate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/logger"
)

// ProcessingEstimate projects the cost of a run before committing to it.
// It is an extrapolation from a bounded sample and says so: Confidence is
// always reported, never an implied exactness.
type ProcessingEstimate struct {
	ItemCount         int           `json:"item_count"`
	TotalBytes        int64         `json:"total_bytes"`
	SampledItems      int           `json:"sampled_items"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	EstimatedMemory   int64         `json:"estimated_memory_bytes"`
	Confidence        string        `json:"confidence"` // low, medium, or high
}

// SampleFunc processes one item's content for timing purposes. The
// estimator stays decoupled from the pipeline; callers pass the real
// processing path in.
type SampleFunc func(ctx context.Context, item, content string) error

// Estimator predicts processing time and memory footprint by sampling.
type Estimator struct {
	logger     *logger.Logger
	maxSamples int
	extensions []string
}

// New creates an estimator. maxSamples bounds how much of the corpus is
// actually processed during estimation.
func New(extensions []string, maxSamples int, log *logger.Logger) *Estimator {
	if maxSamples <= 0 {
		maxSamples = 10
	}
	return &Estimator{
		logger:     log,
		maxSamples: maxSamples,
		extensions: extensions,
	}
}

// Estimate samples up to maxSamples items under inputPath, times the
// sample through process, and linearly projects total time and memory.
func (e *Estimator) Estimate(ctx context.Context, inputPath string, process SampleFunc) (*ProcessingEstimate, error) {
	files, totalBytes, err := e.enumerate(inputPath)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no matching input items under %s", inputPath)
	}

	estimate := &ProcessingEstimate{
		ItemCount:  len(files),
		TotalBytes: totalBytes,
	}

	sampleCount := e.maxSamples
	if sampleCount > len(files) {
		sampleCount = len(files)
	}

	var sampledBytes int64
	var sampledTime time.Duration
	var peakItem int64
	for _, path := range files[:sampleCount] {
		content, err := os.ReadFile(path)
		if err != nil {
			e.logger.Warn("Estimation sample unreadable", zap.String("item", path), zap.Error(err))
			continue
		}
		start := time.Now()
		if err := process(ctx, path, string(content)); err != nil {
			e.logger.Warn("Estimation sample failed", zap.String("item", path), zap.Error(err))
			continue
		}
		sampledTime += time.Since(start)
		sampledBytes += int64(len(content))
		if int64(len(content)) > peakItem {
			peakItem = int64(len(content))
		}
		estimate.SampledItems++
	}

	if estimate.SampledItems == 0 {
		return nil, fmt.Errorf("estimation could not process any of %d sampled items", sampleCount)
	}

	// Linear projection: per-item cost scaled by item count, per-byte
	// cost cross-checked against the corpus size.
	perItem := sampledTime / time.Duration(estimate.SampledItems)
	estimate.EstimatedDuration = perItem * time.Duration(estimate.ItemCount)
	if sampledBytes > 0 {
		byteScaled := time.Duration(float64(sampledTime) * float64(totalBytes) / float64(sampledBytes))
		if byteScaled > estimate.EstimatedDuration {
			estimate.EstimatedDuration = byteScaled
		}
	}

	// Working set: the largest item expanded through tokenize/render,
	// plus mapping-store growth proportional to identifier volume.
	estimate.EstimatedMemory = peakItem*4 + totalBytes/10

	fraction := float64(estimate.SampledItems) / float64(estimate.ItemCount)
	switch {
	case fraction >= 0.5:
		estimate.Confidence = "high"
	case fraction >= 0.1:
		estimate.Confidence = "medium"
	default:
		estimate.Confidence = "low"
	}

	return estimate, nil
}

func (e *Estimator) enumerate(inputPath string) ([]string, int64, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, 0, fmt.Errorf("input unavailable: %w", err)
	}
	if !info.IsDir() {
		return []string{inputPath}, info.Size(), nil
	}

	var files []string
	var total int64
	err = filepath.WalkDir(inputPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range e.extensions {
			if ext == want {
				files = append(files, path)
				if fi, err := d.Info(); err == nil {
					total += fi.Size()
				}
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to enumerate input: %w", err)
	}
	sort.Strings(files)
	return files, total, nil
}
