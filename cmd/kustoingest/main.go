package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"kustoingest/internal/journal"
	"kustoingest/internal/metrics"
	"kustoingest/internal/metrics/datadog"
	"kustoingest/internal/pipeline"

	// register all journal backends with the factory; the flag decides
	// which one is used.
	_ "kustoingest/internal/journal/postgres"
	_ "kustoingest/internal/journal/sqlite"
)

// main ingests the files given as arguments. Sidecar configs among the
// arguments are honored the same way the worker honors them.
func main() {
	var (
		outputDir         string
		connection        string
		database          string
		failFast          bool
		journalKind       string
		journalDSN        string
		metricsBackendFlg string
		sampleRows        int
		chunkSize         int
	)

	flag.StringVar(&outputDir, "output", ".", "directory for the run's scratch space")
	flag.StringVar(&connection, "connection", "", "cluster URI override (wins over sidecar config)")
	flag.StringVar(&database, "database", "", "database override (wins over sidecar config)")
	flag.BoolVar(&failFast, "fail-fast", false, "abort the run on the first file failure")
	flag.StringVar(&journalKind, "journal", "sqlite", "journal backend to use (sqlite, postgres, none)")
	flag.StringVar(&journalDSN, "journal-dsn", "kustoingest.db", "journal DSN (file path for sqlite)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	flag.IntVar(&sampleRows, "sample-rows", 0, "data rows sampled for schema inference (0 = default 1000)")
	flag.IntVar(&chunkSize, "chunk-size", 0, "chunk flush threshold in bytes (0 = default 7500000)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	if flag.NArg() == 0 {
		fatalf("usage: kustoingest [flags] <file> [<file>...]")
	}

	logger := newLogger(*verbose)
	defer func() { _ = logger.Sync() }()

	// Decide metrics backend: flag → env → default.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: "kustoingest",
			Tags:    extraTags,
		})
		if err != nil {
			logger.Warn("metrics backend init failed, metrics disabled", zap.Error(err))
		} else {
			logger.Info("metrics enabled", zap.String("backend", backendName), zap.Strings("tags", extraTags))
			metrics.SetBackend(b)
			// Close stops the periodic flush loop and submits the tail.
			defer func() {
				if err := b.Close(); err != nil {
					logger.Warn("metrics close/flush failed", zap.Error(err))
				}
			}()
		}
	case "", "none":
		// metrics disabled; nop backend remains
	default:
		logger.Warn("unknown metrics backend, metrics disabled", zap.String("backend", backendName))
	}

	ctx := context.Background()

	var jr journal.Repository
	if journalKind != "" && journalKind != "none" {
		repo, err := journal.New(ctx, journal.Config{Kind: journalKind, DSN: journalDSN})
		if err != nil {
			fatalf("journal: %v", err)
		}
		defer repo.Close()
		if err := repo.EnsureSchema(ctx); err != nil {
			fatalf("journal schema: %v", err)
		}
		jr = repo
	}

	var inputs []pipeline.InputFile
	for _, path := range flag.Args() {
		inputs = append(inputs, pipeline.InputFile{Path: path, DisplayName: filepath.Base(path)})
	}

	r := &pipeline.Runner{
		Connect:    pipeline.KustoConnect,
		Log:        logger,
		Journal:    jr,
		SampleRows: sampleRows,
		ChunkSize:  chunkSize,
	}

	start := time.Now()
	res, err := r.Run(ctx, pipeline.Params{
		Inputs:             inputs,
		OutputDir:          outputDir,
		ConnectionOverride: connection,
		DatabaseOverride:   database,
		FailFast:           failFast,
	})
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		return
	}

	failed := 0
	for _, f := range res.Files {
		if f.Err != nil {
			failed++
		}
	}
	logger.Info("run complete",
		zap.String("run_id", res.RunID),
		zap.Int("files", len(res.Files)),
		zap.Int("files_failed", failed),
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)))
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fatalf("logger: %v", err)
	}
	return logger
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
