// Package engine narrows the data-engine client surface to what the
// pipeline actually needs: management commands and streaming file
// ingestion.
//
// Why the interfaces exist:
//   - The Kusto SDK exposes concrete client types that cannot be
//     stubbed without real HTTP, which makes the provisioner and
//     uploader hard to unit test.
//   - Pipeline code depends on Commander/StreamIngestor instead, so
//     tests can drive the full provision/upload logic with fakes while
//     production wires the SDK-backed adapters below.
package engine

import (
	"context"
	"fmt"
)

// Row is a single result row of a management command, keyed by column
// name. Values are the engine's textual rendering.
type Row map[string]string

// Commander executes textual control commands against a database.
type Commander interface {
	Mgmt(ctx context.Context, database, command string) ([]Row, error)
}

// StreamIngestor pushes one local file to the streaming-ingestion
// endpoint. Database, table, and format are fixed at construction.
type StreamIngestor interface {
	IngestFile(ctx context.Context, path string) error
}

// StreamerFactory builds a StreamIngestor for a database/table pair.
// The orchestrator uses it to open one streaming session per job.
type StreamerFactory func(database, table string) (StreamIngestor, error)

// CommandError wraps a failed management command with the command text
// for log context. Command text never contains row data, only schema
// and policy statements, so including it is safe.
type CommandError struct {
	Database string
	Command  string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("mgmt command on %s failed: %v (command: %s)", e.Database, e.Err, e.Command)
}

func (e *CommandError) Unwrap() error { return e.Err }
