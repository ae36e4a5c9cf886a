// Package task is the task-queue boundary: it maps the worker
// framework's request/result payloads onto a pipeline run.
package task

import (
	"context"

	"kustoingest/internal/pipeline"
)

// InputFile mirrors the orchestrator's input-file payload.
type InputFile struct {
	Path        string `json:"path"`
	DisplayName string `json:"display_name"`
}

// TaskConfig carries the per-invocation overrides exposed in the task
// configuration form.
type TaskConfig struct {
	ConnectionOverride string `json:"connection_override"`
	DatabaseOverride   string `json:"database_override"`
	FailFast           bool   `json:"fail_fast"`
}

// IngestRequest is the activity input.
type IngestRequest struct {
	InputFiles []InputFile `json:"input_files"`
	OutputPath string      `json:"output_path"`
	WorkflowID string      `json:"workflow_id"`
	Config     TaskConfig  `json:"task_config"`
}

// FileSummary is the journaled shape of one file's outcome, flattened
// for transport.
type FileSummary struct {
	File         string `json:"file"`
	Table        string `json:"table"`
	State        string `json:"state"`
	ChunksTotal  int    `json:"chunks_total"`
	ChunksFailed int    `json:"chunks_failed"`
	Error        string `json:"error,omitempty"`
}

// TaskResult is the activity output. Ingestion produces no output
// files and runs no external command, so OutputFiles stays an empty
// list and Command an empty string.
type TaskResult struct {
	WorkflowID  string        `json:"workflow_id"`
	OutputFiles []string      `json:"output_files"`
	Command     string        `json:"command"`
	Files       []FileSummary `json:"files"`
}

// runner is the slice of pipeline.Runner the activity needs.
type runner interface {
	Run(ctx context.Context, p pipeline.Params) (*pipeline.Result, error)
}

// Activities holds the registered activity methods.
type Activities struct {
	Runner runner
}

func NewActivities(r *pipeline.Runner) *Activities {
	return &Activities{Runner: r}
}

// Ingest runs one ingestion over the request's input files.
func (a *Activities) Ingest(ctx context.Context, req IngestRequest) (*TaskResult, error) {
	params := pipeline.Params{
		OutputDir:          req.OutputPath,
		ConnectionOverride: req.Config.ConnectionOverride,
		DatabaseOverride:   req.Config.DatabaseOverride,
		FailFast:           req.Config.FailFast,
	}
	for _, f := range req.InputFiles {
		params.Inputs = append(params.Inputs, pipeline.InputFile{
			Path:        f.Path,
			DisplayName: f.DisplayName,
		})
	}

	res, err := a.Runner.Run(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &TaskResult{
		WorkflowID:  req.WorkflowID,
		OutputFiles: []string{},
		Command:     "",
	}
	for _, f := range res.Files {
		errText := ""
		if f.Err != nil {
			errText = f.Err.Error()
		}
		out.Files = append(out.Files, FileSummary{
			File:         f.File,
			Table:        f.Table,
			State:        string(f.State),
			ChunksTotal:  f.ChunksTotal,
			ChunksFailed: f.ChunksFailed,
			Error:        errText,
		})
	}
	return out, nil
}
