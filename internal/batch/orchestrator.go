package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/meditrace/phi-sentinel/internal/anonymize"
	"github.com/meditrace/phi-sentinel/internal/compliance"
	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/scanner"
)

// Orchestrator drives per-file and per-directory processing. It owns the
// session lifetime: one session store spans the whole batch so the same
// patient appearing in multiple files receives identical replacements.
type Orchestrator struct {
	config      *config.Config
	logger      *logger.Logger
	scanner     *scanner.Scanner
	engine      *anonymize.Engine
	validator   *compliance.Validator
	limiter     *rate.Limiter // nil when unthrottled
	broadcaster Broadcaster   // nil disables progress events
}

// NewOrchestrator wires the pipeline components under one session.
func NewOrchestrator(cfg *config.Config, sc *scanner.Scanner, engine *anonymize.Engine, validator *compliance.Validator, log *logger.Logger) *Orchestrator {
	o := &Orchestrator{
		config:    cfg,
		logger:    log,
		scanner:   sc,
		engine:    engine,
		validator: validator,
	}
	if cfg.Batch.ItemsPerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(cfg.Batch.ItemsPerSecond), 1)
	}
	return o
}

// SetBroadcaster attaches a progress event sink (the monitor hub).
func (o *Orchestrator) SetBroadcaster(b Broadcaster) {
	o.broadcaster = b
}

// job is one file dispatched to a worker.
type job struct {
	inputPath  string
	outputPath string
}

// ProcessFile processes a single file and writes the transformed content
// to outputPath (or alongside the input with the configured suffix when
// outputPath is empty). Failures are returned in the ItemResult, never
// panicked.
func (o *Orchestrator) ProcessFile(ctx context.Context, path, outputPath string) ItemResult {
	if outputPath == "" {
		outputPath = path + o.config.Batch.OutputSuffix
	}
	return o.processJob(ctx, job{inputPath: path, outputPath: outputPath})
}

func (o *Orchestrator) processJob(ctx context.Context, j job) ItemResult {
	item := ItemResult{Item: j.inputPath}

	content, err := os.ReadFile(j.inputPath)
	if err != nil {
		item.Error = fmt.Sprintf("failed to read input: %v", err)
		return item
	}

	result, err := o.ProcessContent(ctx, j.inputPath, string(content))
	if err != nil {
		item.Error = err.Error()
		return item
	}

	if j.outputPath != "" {
		if err := os.WriteFile(j.outputPath, []byte(result.Transformed), 0644); err != nil {
			item.Error = fmt.Sprintf("failed to write output: %v", err)
			return item
		}
	}

	item.Success = true
	item.Result = result
	return item
}

// ProcessDirectory enumerates matching files, processes each through an
// independent worker, and folds results. One bad item never aborts the
// batch; cancellation stops dispatch and lets in-flight items finish.
func (o *Orchestrator) ProcessDirectory(ctx context.Context, inputDir, outputDir string) (*BatchResult, error) {
	start := time.Now()
	batchID := uuid.NewString()
	log := o.logger.WithSession(o.engine.Store().SessionID())

	files, err := o.enumerate(inputDir)
	if err != nil {
		return nil, err
	}
	if outputDir != "" {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	log.Info("Starting batch",
		zap.String("batch_id", batchID),
		zap.Int("items", len(files)),
		zap.Int("workers", o.config.Batch.Workers),
	)

	jobs := make(chan job)
	results := make(chan ItemResult)

	var wg sync.WaitGroup
	for i := 0; i < o.config.Batch.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if o.limiter != nil {
					if err := o.limiter.Wait(ctx); err != nil {
						results <- ItemResult{Item: j.inputPath, Error: err.Error()}
						continue
					}
				}
				results <- o.processJob(ctx, j)
			}
		}()
	}

	// Dispatcher: stops on cancellation, in-flight items still complete
	// and get recorded.
	go func() {
		defer close(jobs)
		for _, f := range files {
			outPath := f + o.config.Batch.OutputSuffix
			if outputDir != "" {
				outPath = filepath.Join(outputDir, filepath.Base(f)+o.config.Batch.OutputSuffix)
			}
			select {
			case jobs <- job{inputPath: f, outputPath: outPath}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Single accumulation point: the additivity invariant holds no
	// matter what order workers report in.
	batch := &BatchResult{
		BatchID:    batchID,
		SessionID:  o.engine.Store().SessionID(),
		StartTime:  start,
		Statistics: Statistics{ByCategory: make(map[string]int64)},
	}
	quasi := make(map[string]int)
	completed := 0
	for item := range results {
		batch.Items = append(batch.Items, item)
		completed++
		if item.Success {
			batch.Successes++
			batch.Statistics.Add(item.Result.Statistics)
			batch.Compliance = batch.Compliance.Merge(item.Result.Compliance)
			for _, class := range item.Result.QuasiClasses {
				quasi[class]++
			}
		} else {
			batch.Failures++
			log.Warn("Item failed", zap.String("item", item.Item), zap.String("error", item.Error))
		}
		if o.broadcaster != nil {
			o.broadcaster.Broadcast(ProgressEvent{
				Type:      "item_completed",
				Item:      item.Item,
				Success:   item.Success,
				Completed: completed,
				Total:     len(files),
				Timestamp: time.Now(),
			})
		}
	}

	sort.Slice(batch.Items, func(i, j int) bool { return batch.Items[i].Item < batch.Items[j].Item })

	// Without a single successful item there is nothing to fold, so the
	// batch has no verdict.
	if batch.Successes == 0 {
		batch.Compliance.Status = compliance.StatusUnknown
	}

	batch.UniqueSubjects = o.engine.Store().SubjectCount()
	batch.MappingCount = o.engine.Store().Len()
	batch.Risk = o.validator.AssessRisk(quasi)
	batch.Duration = time.Since(start)

	if o.config.Batch.ExportMappings {
		if err := o.exportMappings(); err != nil {
			log.Error("Mapping export failed", zap.Error(err))
		}
	}

	log.Info("Batch complete",
		zap.String("batch_id", batchID),
		zap.Int("successes", batch.Successes),
		zap.Int("failures", batch.Failures),
		zap.Int("mappings", batch.MappingCount),
		zap.Duration("duration", batch.Duration),
	)

	return batch, nil
}

// enumerate lists files under dir matching the configured extensions.
func (o *Orchestrator) enumerate(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input directory unavailable: %w", err)
	}
	if !info.IsDir() {
		return []string{dir}, nil
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		for _, want := range o.config.Batch.FileExtensions {
			if ext == want {
				files = append(files, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// exportMappings writes the session mapping table with salted-hash keys.
func (o *Orchestrator) exportMappings() error {
	path := o.config.Batch.MappingExportPath
	if path == "" {
		path = "mappings.csv"
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create mapping export: %w", err)
	}
	defer f.Close()
	return o.engine.Store().Export(f, o.engine.Salt())
}
