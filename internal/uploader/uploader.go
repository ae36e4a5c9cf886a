// Package uploader pushes chunk files to the streaming-ingestion
// endpoint with a bounded doubling-delay retry budget.
package uploader

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kustoingest/internal/engine"
	"kustoingest/internal/metrics"
	"kustoingest/internal/retry"
)

// Uploader submits chunks through a StreamIngestor already bound to a
// database/table/format.
type Uploader struct {
	Stream engine.StreamIngestor
	Log    *zap.Logger

	// MaxAttempts and InitialDelay bound the per-chunk retry budget.
	// Defaults: 10 attempts starting at 5s, doubling.
	MaxAttempts  int
	InitialDelay time.Duration
}

func (u *Uploader) logger() *zap.Logger {
	if u.Log != nil {
		return u.Log
	}
	return zap.NewNop()
}

// IngestChunk submits one chunk file, retrying transient failures.
//
// It reports success rather than returning an error: exhaustion is a
// per-chunk condition the caller decides how to treat (the lenient
// default logs and continues, so one bad chunk does not abort a
// multi-gigabyte job).
func (u *Uploader) IngestChunk(ctx context.Context, path string) bool {
	log := u.logger().With(zap.String("chunk", path))

	attempts := u.MaxAttempts
	if attempts == 0 {
		attempts = 10
	}
	delay := u.InitialDelay
	if delay == 0 {
		delay = 5 * time.Second
	}

	attempt := 0
	start := time.Now()
	err := retry.Do(ctx, retry.Policy{MaxAttempts: attempts, InitialDelay: delay}, func(ctx context.Context) error {
		attempt++
		if err := u.Stream.IngestFile(ctx, path); err != nil {
			log.Warn("chunk upload failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Error(err))
			metrics.IncCounter("kustoingest.upload.retries.total", 1, nil)
			return err
		}
		return nil
	})

	metrics.ObserveHistogram("kustoingest.upload.duration_seconds", time.Since(start).Seconds(), nil)
	if err != nil {
		log.Error("chunk upload exhausted retry budget", zap.Error(err))
		metrics.IncCounter("kustoingest.chunks.total", 1, metrics.Labels{"status": "failed"})
		return false
	}
	metrics.IncCounter("kustoingest.chunks.total", 1, metrics.Labels{"status": "ok"})
	log.Info("chunk ingested", zap.Int("attempts", attempt))
	return true
}
