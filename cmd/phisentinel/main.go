package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meditrace/phi-sentinel/internal/anonymize"
	"github.com/meditrace/phi-sentinel/internal/audit"
	"github.com/meditrace/phi-sentinel/internal/batch"
	"github.com/meditrace/phi-sentinel/internal/compliance"
	"github.com/meditrace/phi-sentinel/internal/config"
	"github.com/meditrace/phi-sentinel/internal/estimate"
	"github.com/meditrace/phi-sentinel/internal/logger"
	"github.com/meditrace/phi-sentinel/internal/monitor"
	"github.com/meditrace/phi-sentinel/internal/report"
	"github.com/meditrace/phi-sentinel/internal/scanner"
	"github.com/meditrace/phi-sentinel/internal/taxonomy"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configPath   = flag.String("config", "", "Path to configuration file")
		showVersion  = flag.Bool("version", false, "Show version information")
		inputPath    = flag.String("input", "", "Input file or directory")
		outputPath   = flag.String("output", "", "Output directory (default: alongside input)")
		previewRun   = flag.Bool("preview", false, "Dry-run a bounded sample without writing output")
		sampleSize   = flag.Int("sample", 5, "Sample size for preview and estimation")
		estimateRun  = flag.Bool("estimate", false, "Estimate processing time and memory, then exit")
		validateRun  = flag.Bool("validate", false, "Audit existing de-identified content without transforming")
		reportPath   = flag.String("report", "", "Write an audit report to this path")
		reportFormat = flag.String("format", "html", "Audit report format (html, json, csv, xml, pdf)")
		serve        = flag.Bool("serve", false, "Keep the monitor server running after the batch")
	)
	flag.Parse()

	// Show version and exit
	if *showVersion {
		fmt.Printf("PHI-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting PHI-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
	)

	if *inputPath == "" {
		fmt.Fprintln(os.Stderr, "missing required -input")
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(cfg, log, options{
		input:        *inputPath,
		output:       *outputPath,
		preview:      *previewRun,
		sample:       *sampleSize,
		estimate:     *estimateRun,
		validate:     *validateRun,
		reportPath:   *reportPath,
		reportFormat: *reportFormat,
		serve:        *serve,
	}))
}

type options struct {
	input        string
	output       string
	preview      bool
	sample       int
	estimate     bool
	validate     bool
	reportPath   string
	reportFormat string
	serve        bool
}

func run(cfg *config.Config, log *logger.Logger, opts options) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop dispatching new items on interrupt; in-flight items finish
	// and the partial batch result is still produced.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	table, err := taxonomy.NewTable(cfg.DeID.CustomFields)
	if err != nil {
		log.Error("Failed to build taxonomy table", zap.Error(err))
		return 1
	}

	sc, err := scanner.New(cfg.DeID, table, log.WithComponent("scanner"))
	if err != nil {
		log.Error("Failed to create scanner", zap.Error(err))
		return 1
	}
	defer sc.Close()

	sessionID := uuid.NewString()
	store := anonymize.NewSessionStore(sessionID)

	var cache *anonymize.MappingCache
	if cfg.Mapping.Enabled {
		cache, err = anonymize.NewMappingCache(cfg.Mapping, log.WithComponent("mapping-cache").Logger)
		if err != nil {
			log.Error("Failed to connect mapping cache", zap.Error(err))
			return 1
		}
		defer cache.Close()
	}

	engine, err := anonymize.NewEngine(cfg.DeID, store, cache, log.WithComponent("anonymize"))
	if err != nil {
		log.Error("Failed to create anonymization engine", zap.Error(err))
		return 1
	}

	validator := compliance.NewValidator(cfg.DeID, compliance.KAnonymityModel{}, log.WithComponent("compliance"))
	orchestrator := batch.NewOrchestrator(cfg, sc, engine, validator, log.WithComponent("batch"))

	var monitorServer *monitor.Server
	if cfg.Monitor.Enabled || opts.serve {
		monitorServer = monitor.New(cfg.Monitor, log)
		orchestrator.SetBroadcaster(monitorServer.Hub())
		go func() {
			if err := monitorServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Monitor server error", zap.Error(err))
			}
		}()
		if err := config.Watch(cfg, func(next *config.Config) {
			log.Info("Configuration reloaded", zap.String("log_level", next.Logging.Level))
		}); err != nil {
			log.Warn("Configuration watch unavailable", zap.Error(err))
		}
	}

	switch {
	case opts.estimate:
		return runEstimate(ctx, cfg, log, orchestrator, opts)
	case opts.preview:
		return runPreview(ctx, log, orchestrator, opts)
	case opts.validate:
		return runValidate(ctx, log, orchestrator, opts)
	}

	result, err := orchestrator.ProcessDirectory(ctx, opts.input, opts.output)
	if err != nil {
		log.Error("Batch failed", zap.Error(err))
		return 1
	}

	if monitorServer != nil {
		monitorServer.SetLatest(result)
	}

	if opts.reportPath != "" {
		if err := writeReport(result, opts.reportPath, opts.reportFormat); err != nil {
			log.Error("Report generation failed", zap.Error(err))
			return 1
		}
		log.Info("Audit report written", zap.String("path", opts.reportPath))
	}

	if cfg.Batch.Ledger.ParquetPath != "" {
		if err := report.WriteLedgerParquet(cfg.Batch.Ledger.ParquetPath, result); err != nil {
			log.Error("Ledger export failed", zap.Error(err))
			return 1
		}
	}

	if cfg.AuditDB.Enabled {
		if err := persistRun(cfg, log, result); err != nil {
			log.Error("Audit persistence failed", zap.Error(err))
			return 1
		}
	}

	log.Info("Processing complete",
		zap.Int("successes", result.Successes),
		zap.Int("failures", result.Failures),
		zap.String("compliance", string(result.Compliance.Status)),
	)

	if opts.serve && monitorServer != nil {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := monitorServer.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown monitor gracefully", zap.Error(err))
		}
	}

	if result.Failures > 0 {
		return 1
	}
	return 0
}

func runEstimate(ctx context.Context, cfg *config.Config, log *logger.Logger, orchestrator *batch.Orchestrator, opts options) int {
	estimator := estimate.New(cfg.Batch.FileExtensions, opts.sample, log.WithComponent("estimate"))
	result, err := estimator.Estimate(ctx, opts.input, func(ctx context.Context, item, content string) error {
		_, err := orchestrator.ProcessContent(ctx, item, content)
		return err
	})
	if err != nil {
		log.Error("Estimation failed", zap.Error(err))
		return 1
	}
	return printJSON(result)
}

func runPreview(ctx context.Context, log *logger.Logger, orchestrator *batch.Orchestrator, opts options) int {
	preview, err := orchestrator.PreviewChanges(ctx, opts.input, opts.sample)
	if err != nil {
		log.Error("Preview failed", zap.Error(err))
		return 1
	}
	return printJSON(preview)
}

func runValidate(ctx context.Context, log *logger.Logger, orchestrator *batch.Orchestrator, opts options) int {
	content, err := os.ReadFile(opts.input)
	if err != nil {
		log.Error("Failed to read input", zap.Error(err))
		return 1
	}
	validation, verification := orchestrator.ValidateContent(ctx, string(content))
	out := map[string]interface{}{
		"validation": validation,
		"compliance": verification,
	}
	if rc := printJSON(out); rc != 0 {
		return rc
	}
	if !validation.PassedValidation {
		return 1
	}
	return 0
}

func persistRun(cfg *config.Config, log *logger.Logger, result *batch.BatchResult) error {
	store, err := audit.NewStore(cfg.AuditDB, log.WithComponent("audit").Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return store.SaveRun(ctx, result)
}

func writeReport(result *batch.BatchResult, path, formatName string) error {
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	rendered, err := report.Generate(result, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, rendered, 0644)
}

func printJSON(v interface{}) int {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
		return 1
	}
	return 0
}
