// Package pipeline orchestrates ingestion of a batch of delimited
// files: schema inference, table provisioning, chunking, and streaming
// upload, with scratch-directory hygiene on every exit path.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kustoingest/internal/chunk"
	"kustoingest/internal/engine"
	"kustoingest/internal/journal"
	"kustoingest/internal/metrics"
	"kustoingest/internal/names"
	"kustoingest/internal/provision"
	"kustoingest/internal/schema"
	"kustoingest/internal/sidecar"
	"kustoingest/internal/uploader"
)

// Defaults used when neither a sidecar config nor an invocation
// override supplies the target.
const (
	DefaultEndpoint = "http://localhost:8080"
	DefaultDatabase = "Default"
)

// InputFile is one file handed to a run. DisplayName is the
// user-visible name; Path is where the bytes actually live.
type InputFile struct {
	Path        string
	DisplayName string
}

// Params is the invocation contract for one run.
type Params struct {
	Inputs    []InputFile
	OutputDir string

	// ConnectionOverride and DatabaseOverride win over both defaults
	// and sidecar config values.
	ConnectionOverride string
	DatabaseOverride   string

	// FailFast aborts the run on the first file-level failure instead
	// of continuing with the remaining files.
	FailFast bool
}

// State tracks how far a file got through the pipeline.
type State string

const (
	StatePending          State = "pending"
	StateSchemaInferred   State = "schema_inferred"
	StateTableProvisioned State = "table_provisioned"
	StateChunked          State = "chunked"
	StateUploading        State = "uploading"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// FileReport is the per-file outcome. A file with failed chunks can
// still reach StateDone; chunk exhaustion is lenient by default.
type FileReport struct {
	File         string
	Table        string
	State        State
	ChunksTotal  int
	ChunksFailed int
	Err          error
}

// Result summarizes one run.
type Result struct {
	RunID    string
	Endpoint string
	Database string
	Files    []FileReport
}

// ConnectFunc opens a connection to the engine endpoint and returns the
// management-command and streaming-ingest surfaces.
type ConnectFunc func(endpoint string) (engine.Commander, engine.StreamerFactory, error)

// KustoConnect is the production ConnectFunc.
func KustoConnect(endpoint string) (engine.Commander, engine.StreamerFactory, error) {
	c, err := engine.Connect(endpoint)
	if err != nil {
		return nil, nil, err
	}
	return c, engine.NewStreamerFactory(c), nil
}

// Runner executes runs. Connect is required; everything else has a
// working default.
type Runner struct {
	Connect ConnectFunc
	Log     *zap.Logger
	Journal journal.Repository

	// Attach overrides the provisioner's database re-attach strategy.
	Attach provision.AttachStrategy

	// Tuning knobs, zero means default.
	SampleRows         int
	ChunkSize          int
	UploadMaxAttempts  int
	UploadInitialDelay time.Duration

	// newRunID is an unexported test seam for deterministic scratch
	// directory names.
	newRunID func() string
}

func (r *Runner) logger() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

func (r *Runner) runID() string {
	if r.newRunID != nil {
		return r.newRunID()
	}
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

func (r *Runner) journal() journal.Repository {
	if r.Journal != nil {
		return r.Journal
	}
	return journal.Nop()
}

// target is the resolved destination for a run.
type target struct {
	endpoint    string
	database    string
	tablePrefix string
}

// resolveTarget layers defaults, sidecar config, and invocation
// overrides, in that order of increasing precedence. A broken sidecar
// file is logged and otherwise ignored.
func (r *Runner) resolveTarget(p Params, log *zap.Logger) target {
	t := target{endpoint: DefaultEndpoint, database: DefaultDatabase}

	for _, in := range p.Inputs {
		if !sidecar.IsConfigFile(in.DisplayName) {
			continue
		}
		cfg, err := sidecar.Load(in.Path)
		if err != nil {
			log.Warn("sidecar config unusable, falling back to defaults", zap.Error(err))
			break
		}
		if cfg.ClusterURI != "" {
			t.endpoint = cfg.ClusterURI
		}
		if cfg.Database != "" {
			t.database = cfg.Database
		}
		if h := strings.TrimSpace(cfg.Hostname); h != "" {
			t.tablePrefix = names.SanitizeTableName(h) + "_"
		}
		break
	}

	if p.ConnectionOverride != "" {
		t.endpoint = p.ConnectionOverride
	}
	if p.DatabaseOverride != "" {
		t.database = p.DatabaseOverride
	}
	return t
}

// Run processes every non-config input sequentially and returns the
// per-file reports. The scratch directory under p.OutputDir is removed
// on every exit path.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	runID := r.runID()
	log := r.logger().With(zap.String("run_id", runID))
	res := &Result{RunID: runID}

	var data []InputFile
	for _, in := range p.Inputs {
		if !sidecar.IsConfigFile(in.DisplayName) {
			data = append(data, in)
		}
	}
	if len(data) == 0 {
		log.Info("no ingestible inputs")
		return res, nil
	}

	tgt := r.resolveTarget(p, log)
	res.Endpoint = tgt.endpoint
	res.Database = tgt.database
	log = log.With(zap.String("endpoint", tgt.endpoint), zap.String("database", tgt.database))

	cmd, newStreamer, err := r.Connect(tgt.endpoint)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", tgt.endpoint, err)
	}

	scratch := filepath.Join(p.OutputDir, runID)
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn("scratch dir cleanup failed", zap.Error(rmErr))
		}
	}()

	prov := &provision.Provisioner{Cmd: cmd, Attach: r.Attach, Log: log}
	jr := r.journal()

	for _, in := range data {
		rep := r.processFile(ctx, log, prov, newStreamer, tgt, in, scratch)
		res.Files = append(res.Files, rep)

		status := "ok"
		errText := ""
		if rep.Err != nil {
			status = "failed"
			errText = rep.Err.Error()
		}
		metrics.IncCounter("kustoingest.files.total", 1, metrics.Labels{"status": status})

		if jerr := jr.RecordFile(ctx, journal.FileReport{
			RunID:        runID,
			File:         rep.File,
			Table:        rep.Table,
			Database:     tgt.database,
			State:        string(rep.State),
			ChunksTotal:  rep.ChunksTotal,
			ChunksFailed: rep.ChunksFailed,
			Error:        errText,
			FinishedAt:   time.Now(),
		}); jerr != nil {
			log.Warn("journal write failed", zap.Error(jerr))
		}

		if rep.Err != nil && p.FailFast {
			return res, rep.Err
		}
	}
	return res, nil
}

func (r *Runner) processFile(ctx context.Context, log *zap.Logger, prov *provision.Provisioner, newStreamer engine.StreamerFactory, tgt target, in InputFile, scratch string) FileReport {
	base := in.DisplayName
	if base == "" {
		base = filepath.Base(in.Path)
	}
	table := names.SanitizeTableName(tgt.tablePrefix + strings.TrimSuffix(base, filepath.Ext(base)))

	rep := FileReport{File: base, Table: table, State: StatePending}
	log = log.With(zap.String("file", base), zap.String("table", table))

	fail := func(err error) FileReport {
		rep.State = StateFailed
		rep.Err = err
		log.Error("file failed", zap.Error(err))
		return rep
	}

	staged, err := stage(in.Path, scratch)
	if err != nil {
		return fail(fmt.Errorf("stage input: %w", err))
	}

	var opts []schema.Option
	if r.SampleRows > 0 {
		opts = append(opts, schema.WithSampleRows(r.SampleRows))
	}
	s, err := schema.Infer(staged, opts...)
	if err != nil {
		return fail(err)
	}
	rep.State = StateSchemaInferred
	log.Info("schema inferred",
		zap.Int("columns", len(s.Columns)),
		zap.Int("sampled_rows", s.SampledRows))

	if err := prov.Provision(ctx, tgt.database, table, s); err != nil {
		return fail(err)
	}
	rep.State = StateTableProvisioned

	// The header is dropped from chunks: streaming ingestion has no
	// skip-first-record option, and the header is already conveyed as
	// the table schema.
	chunkDir := filepath.Join(scratch, r.runID())
	chunkOpts := []chunk.Option{chunk.DropHeader()}
	if r.ChunkSize > 0 {
		chunkOpts = append(chunkOpts, chunk.WithChunkSize(r.ChunkSize))
	}
	chunks, err := chunk.Split(staged, chunkDir, chunkOpts...)
	if err != nil {
		return fail(err)
	}
	rep.State = StateChunked
	rep.ChunksTotal = len(chunks)

	stream, err := newStreamer(tgt.database, table)
	if err != nil {
		return fail(fmt.Errorf("open streaming client: %w", err))
	}
	up := &uploader.Uploader{
		Stream:       stream,
		Log:          log,
		MaxAttempts:  r.UploadMaxAttempts,
		InitialDelay: r.UploadInitialDelay,
	}

	rep.State = StateUploading
	for _, c := range chunks {
		if !up.IngestChunk(ctx, c) {
			rep.ChunksFailed++
		}
	}
	if rmErr := os.RemoveAll(chunkDir); rmErr != nil {
		log.Warn("chunk dir cleanup failed", zap.Error(rmErr))
	}

	rep.State = StateDone
	log.Info("file ingested",
		zap.Int("chunks", rep.ChunksTotal),
		zap.Int("chunks_failed", rep.ChunksFailed))
	return rep
}

// stage hard-links src into dir so processing never touches the
// original, copying instead when src is on another filesystem.
func stage(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Link(src, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
